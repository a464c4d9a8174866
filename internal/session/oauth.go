package session

import "net/url"

// OAuthSuccessMessage is shown after a Gmail account is connected.
const OAuthSuccessMessage = "Gmail account added successfully!"

// Callback is the result carried back by the OAuth redirect.
type Callback struct {
	Success  bool
	Username string
	Error    string
	State    string // echoed OAuth state, when the backend forwards it
}

// Present reports whether the query string carried a callback at all.
func (c Callback) Present() bool {
	return c.Success || c.Error != ""
}

// ParseOAuthCallback reads oauth_success, oauth_error, username and state
// from u.
// Success needs oauth_success=1 and a username; otherwise a non-empty
// oauth_error is reported. When a callback is present the returned URL has
// its query removed; otherwise u is returned unchanged.
func ParseOAuthCallback(u url.URL) (Callback, url.URL) {
	q := u.Query()
	var cb Callback

	switch {
	case q.Get("oauth_success") == "1" && q.Get("username") != "":
		cb = Callback{Success: true, Username: q.Get("username")}
	case q.Get("oauth_error") != "":
		msg := q.Get("oauth_error")
		if decoded, err := url.PathUnescape(msg); err == nil {
			msg = decoded
		}
		cb = Callback{Error: msg}
	default:
		return Callback{}, u
	}
	cb.State = q.Get("state")

	cleaned := u
	cleaned.RawQuery = ""
	cleaned.ForceQuery = false
	cleaned.Fragment = ""
	cleaned.RawFragment = ""
	return cb, cleaned
}
