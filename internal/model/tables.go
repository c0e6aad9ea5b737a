package model

import "time"

const (
	VisitorsTable = "ChatVisitors"
	SessionsTable = "ChatSessions"
	MessagesTable = "ChatMessages"

	// Lookup tables read with strongly consistent GetItem; they guard the
	// one-open-session-per-visitor and one-visitor-per-token rules.
	VisitorTokensTable   = "ChatVisitorTokens"
	VisitorSessionsTable = "ChatVisitorSessions"
)

// Secondary indexes.
const (
	VisitorsByIPAddressIndex = "byIpAddress"
	SessionsByStatusIndex    = "byStatus"
	SessionsByOperatorIndex  = "byOperator"
)

// TimeLayout is fixed width so that stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
