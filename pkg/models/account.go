package models

// EmailAccount is a mailbox registered with the backend.
type EmailAccount struct {
	ID        int64     `json:"id"`
	Provider  string    `json:"provider"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt Timestamp `json:"created_at"`
}

// AddYahooAccountRequest registers a Yahoo mailbox with an app password.
type AddYahooAccountRequest struct {
	Email       string `json:"email"`
	AppPassword string `json:"app_password"`
	Username    string `json:"username"`
}

// TestConnectionRequest checks credentials without storing them.
// For Yahoo, Credentials is the app password.
type TestConnectionRequest struct {
	Provider    string `json:"provider"`
	Email       string `json:"email"`
	Credentials string `json:"credentials"`
}

type TestConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// OAuthAuthorization carries the provider redirect for Gmail sign-in.
type OAuthAuthorization struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}
