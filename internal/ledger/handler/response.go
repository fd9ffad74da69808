package handler

import (
	"time"

	"spendwise/pkg/platform/audit"
)

type eventResponse struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	AccountType string    `json:"account_type"`
	Identifier  string    `json:"identifier,omitempty"`
	Amount      int64     `json:"amount"`
	Token       string    `json:"token,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ActorID     string    `json:"actor_id,omitempty"`
}

// toEventResponses keeps account records only; config and operational
// records are not user facing.
func toEventResponses(events []audit.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		if e.Category != "" && e.Category != audit.CategoryAccount {
			continue
		}
		out = append(out, eventResponse{
			ID:          e.ID.String(),
			Operation:   e.Operation,
			AccountType: e.AccountType,
			Identifier:  e.Identifier,
			Amount:      e.Amount,
			Token:       e.Token,
			Timestamp:   e.Timestamp,
			ActorID:     e.ActorID,
		})
	}
	return out
}
