package admin

import (
	"time"

	"spendwise/internal/adapter/venues"
	feemodels "spendwise/internal/fee/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/audit"
)

// UpdateFeeRateRequest sets one rate in basis points.
type UpdateFeeRateRequest struct {
	BPS uint32 `json:"bps"`
}

// RegisterAdapterRequest attaches a venue. ID is optional; supplying one
// reattaches a previously registered adapter.
type RegisterAdapterRequest struct {
	ID *id.AdapterID `json:"id,omitempty"`
	venues.Spec
	ContractRef string `json:"contract_ref,omitempty"`
}

type CollectedResponse struct {
	feemodels.Collected
	Total int64 `json:"total"`
}

// EventResponse is the operator view of any audit record.
type EventResponse struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Operation   string    `json:"operation"`
	UserID      string    `json:"user_id,omitempty"`
	AccountType string    `json:"account_type,omitempty"`
	Identifier  string    `json:"identifier,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Token       string    `json:"token,omitempty"`
	FeeType     string    `json:"fee_type,omitempty"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func toEventResponses(events []audit.Event) []EventResponse {
	out := make([]EventResponse, len(events))
	for i, e := range events {
		out[i] = EventResponse{
			ID:          e.ID.String(),
			Category:    string(e.Category),
			Operation:   e.Operation,
			AccountType: e.AccountType,
			Identifier:  e.Identifier,
			Amount:      e.Amount,
			Token:       e.Token,
			FeeType:     e.FeeType,
			OldValue:    e.OldValue,
			NewValue:    e.NewValue,
			ActorID:     e.ActorID,
			RequestID:   e.RequestID,
			Timestamp:   e.Timestamp,
		}
		if !e.UserID.IsNil() {
			out[i].UserID = e.UserID.String()
		}
	}
	return out
}
