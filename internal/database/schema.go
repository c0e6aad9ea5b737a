package database

import (
	"support-chat-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ChatSchema lists the tables and indexes the chat service reads and writes.
func ChatSchema() []TableSpec {
	return []TableSpec{
		{
			Name:    model.VisitorsTable,
			HashKey: "visitorId",
			Indexes: []IndexSpec{
				{Name: model.VisitorsByIPAddressIndex, HashKey: "ipAddress", RangeKey: "createdAt"},
			},
		},
		{
			Name:    model.SessionsTable,
			HashKey: "sessionId",
			Indexes: []IndexSpec{
				{Name: model.SessionsByStatusIndex, HashKey: "status", RangeKey: "lastMessageAt"},
				{Name: model.SessionsByOperatorIndex, HashKey: "assignedOperator", RangeKey: "lastMessageAt"},
			},
		},
		{
			Name:    model.VisitorTokensTable,
			HashKey: "sessionToken",
		},
		{
			Name:    model.VisitorSessionsTable,
			HashKey: "visitorId",
		},
		{
			Name:         model.MessagesTable,
			HashKey:      "sessionId",
			RangeKey:     "seq",
			RangeKeyType: types.ScalarAttributeTypeN,
		},
	}
}
