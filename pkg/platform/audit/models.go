package audit

import (
	"context"
	"time"

	id "spendwise/pkg/domain"
)

// EventCategory classifies events by the stream they belong to.
type EventCategory string

const (
	// CategoryAccount covers balance-affecting and account lifecycle records.
	CategoryAccount EventCategory = "account"
	// CategoryConfig covers operator changes to fees, policies and adapters.
	CategoryConfig EventCategory = "config"
	// CategoryOperations covers non-financial activity such as health probes.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Account records
// fill the account fields; config records fill FeeType/OldValue/NewValue.
type Event struct {
	ID        id.EventID
	Category  EventCategory
	Timestamp time.Time
	Operation string

	// account record
	UserID      id.UserID
	AccountType string
	Identifier  string
	Amount      int64
	Token       string

	// config record
	FeeType  string
	OldValue string
	NewValue string

	RequestID string
	// ActorID is set when a delegate or operator acted on the user's behalf.
	ActorID string
}

type Operation string

const (
	OpUserInitialized          Operation = "user_initialized"
	OpBucketCreated            Operation = "bucket_created"
	OpBucketDeposit            Operation = "bucket_deposit"
	OpBucketSpend              Operation = "bucket_spend"
	OpBucketDeactivated        Operation = "bucket_deactivated"
	OpMonthlyLimitReset        Operation = "monthly_limit_reset"
	OpInvestmentEnabled        Operation = "investment_account_enabled"
	OpSavingsEnabled           Operation = "savings_account_enabled"
	OpPositionDeposit          Operation = "position_deposit"
	OpPositionWithdraw         Operation = "position_withdraw"
	OpPositionHarvest          Operation = "position_harvest"
	OpPositionClosed           Operation = "position_closed"
	OpGoalCreated              Operation = "goal_created"
	OpGoalContribution         Operation = "goal_contribution"
	OpGoalCompleted            Operation = "goal_completed"
	OpGoalWithdraw             Operation = "goal_withdraw"
	OpTransfer                 Operation = "transfer"
	OpLiquidWithdraw           Operation = "liquid_withdraw"
	OpFeeCollected             Operation = "fee_collected"
	OpFeeRateUpdated           Operation = "fee_rate_updated"
	OpFeePolicyRegistered      Operation = "fee_policy_registered"
	OpFeePolicySelected        Operation = "fee_policy_selected"
	OpAdapterRegistered        Operation = "adapter_registered"
	OpAdapterDeactivated       Operation = "adapter_deactivated"
	OpAdapterReactivated       Operation = "adapter_reactivated"
	OpAdapterCircuitOpened     Operation = "adapter_circuit_opened"
	OpAdapterCircuitClosed     Operation = "adapter_circuit_closed"
	OpDelegateAllowanceSet     Operation = "delegate_allowance_set"
	OpDelegateAllowanceUsed    Operation = "delegate_allowance_used"
	OpDelegateAllowanceRevoked Operation = "delegate_allowance_revoked"
)

var operationCategories = map[Operation]EventCategory{
	OpFeeRateUpdated:           CategoryConfig,
	OpFeePolicyRegistered:      CategoryConfig,
	OpFeePolicySelected:        CategoryConfig,
	OpAdapterRegistered:        CategoryConfig,
	OpAdapterDeactivated:       CategoryConfig,
	OpAdapterReactivated:       CategoryConfig,
	OpDelegateAllowanceSet:     CategoryConfig,
	OpDelegateAllowanceRevoked: CategoryConfig,

	OpAdapterCircuitOpened: CategoryOperations,
	OpAdapterCircuitClosed: CategoryOperations,
}

// Category returns the category for this operation.
// Unlisted operations are account records.
func (o Operation) Category() EventCategory {
	if cat, ok := operationCategories[o]; ok {
		return cat
	}
	return CategoryAccount
}

// Store persists events. ListByUser returns events in application order.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
