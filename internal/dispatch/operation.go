// Package dispatch applies batches of ledger operations in order, one
// atomic ledger call per operation.
package dispatch

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
)

// Type tags an operation variant.
type Type string

const (
	TypeSpend              Type = "spend"
	TypeDeposit            Type = "deposit"
	TypeTransfer           Type = "transfer"
	TypeInvestmentDeposit  Type = "investment_deposit"
	TypeInvestmentWithdraw Type = "investment_withdraw"
	TypeGoalContribute     Type = "goal_contribute"
	TypeGoalWithdraw       Type = "goal_withdraw"
	TypeCreateBucket       Type = "create_bucket"
	TypeCreateGoal         Type = "create_goal"
	TypeInitialize         Type = "initialize"
	TypeEnableAccount      Type = "enable_account"
)

// Operation is one tagged batch entry. Only the fields of its variant are
// read.
type Operation struct {
	Type Type      `json:"type"`
	User id.UserID `json:"user"`

	Bucket string `json:"bucket,omitempty"`
	Amount int64  `json:"amount,omitempty"`
	Token  string `json:"token,omitempty"`

	From *models.Endpoint `json:"from,omitempty"`
	To   *models.Endpoint `json:"to,omitempty"`

	Adapter  *id.AdapterID  `json:"adapter,omitempty"`
	Position *id.PositionID `json:"position,omitempty"`
	Shares   int64          `json:"shares,omitempty"`

	Goal       *id.GoalID `json:"goal,omitempty"`
	Name       string     `json:"name,omitempty"`
	Limit      int64      `json:"monthly_limit,omitempty"`
	Target     int64      `json:"target,omitempty"`
	TargetDate *time.Time `json:"target_date,omitempty"`

	Account profilemodels.AccountType `json:"account,omitempty"`
}

// Validate checks the operation's shape only. Balances, limits and
// existence are the ledger's concern.
func (op Operation) Validate() error {
	if op.User.IsNil() {
		return id.KindInvalidOperation.Err("user is required")
	}
	switch op.Type {
	case TypeInitialize:
		return nil
	case TypeSpend, TypeDeposit:
		if strings.TrimSpace(op.Bucket) == "" {
			return id.KindInvalidOperation.Err("bucket is required")
		}
		return positive(op.Amount)
	case TypeTransfer:
		if op.From == nil || op.To == nil {
			return id.KindInvalidOperation.Err("from and to are required")
		}
		if *op.From == *op.To {
			return id.KindInvalidOperation.Err("from and to must differ")
		}
		return positive(op.Amount)
	case TypeInvestmentDeposit:
		if op.Adapter == nil || op.Adapter.IsNil() {
			return id.KindInvalidOperation.Err("adapter is required")
		}
		return positive(op.Amount)
	case TypeInvestmentWithdraw:
		if op.Position == nil || op.Position.IsNil() {
			return id.KindInvalidOperation.Err("position is required")
		}
		return positive(op.Shares)
	case TypeGoalContribute, TypeGoalWithdraw:
		if op.Goal == nil || op.Goal.IsNil() {
			return id.KindInvalidOperation.Err("goal is required")
		}
		return positive(op.Amount)
	case TypeCreateBucket:
		if strings.TrimSpace(op.Bucket) == "" {
			return id.KindInvalidOperation.Err("bucket is required")
		}
		if op.Limit <= 0 {
			return id.KindInvalidLimit.Errf("monthly limit must be positive, got %d", op.Limit)
		}
		return nil
	case TypeCreateGoal:
		if strings.TrimSpace(op.Name) == "" {
			return id.KindInvalidOperation.Err("name is required")
		}
		if op.Target <= 0 {
			return id.KindInvalidTarget.Errf("target must be positive, got %d", op.Target)
		}
		return nil
	case TypeEnableAccount:
		if _, err := profilemodels.ParseAccountType(string(op.Account)); err != nil {
			return id.KindInvalidOperation.Wrap(err, "account is invalid")
		}
		return nil
	case "":
		return id.KindInvalidOperation.Err("type is required")
	}
	return id.KindInvalidOperation.Errf("unknown operation type %q", op.Type)
}

func positive(v int64) error {
	if v <= 0 {
		return id.KindInvalidAmount.Errf("amount must be positive, got %d", v)
	}
	return nil
}

// Decode reads a JSON array of operations. Unknown fields are rejected.
func Decode(r io.Reader) ([]Operation, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var ops []Operation
	if err := dec.Decode(&ops); err != nil {
		return nil, id.KindInvalidOperation.Wrap(err, "malformed operation batch")
	}
	return ops, nil
}
