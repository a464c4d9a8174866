package cache

import "fmt"

// Insight kinds cached per account.
const (
	InsightSenders    = "senders"
	InsightCategories = "categories"
	InsightFrequency  = "frequency"
	InsightYearly     = "yearly"
)

var insightKinds = []string{InsightSenders, InsightCategories, InsightFrequency, InsightYearly}

func InsightsKey(username string, accountID int64, kind string) string {
	return fmt.Sprintf("insights:%s:%d:%s", username, accountID, kind)
}

func SummaryKey(username string) string {
	return fmt.Sprintf("insights:%s:summary", username)
}

// InsightKeys lists every insights key for one account plus the user summary.
// Used to invalidate after a run finishes.
func InsightKeys(username string, accountID int64) []string {
	keys := make([]string, 0, len(insightKinds)+1)
	for _, kind := range insightKinds {
		keys = append(keys, InsightsKey(username, accountID, kind))
	}
	return append(keys, SummaryKey(username))
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
