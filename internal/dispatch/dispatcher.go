package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	feemodels "spendwise/internal/fee/models"
	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
)

// Ledger is the slice of the account ledger a batch can drive.
type Ledger interface {
	InitializeUser(ctx context.Context, user id.UserID) error
	EnableAccount(ctx context.Context, user id.UserID, t profilemodels.AccountType) error
	CreateBucket(ctx context.Context, user id.UserID, name string, monthlyLimit int64) (*models.Bucket, error)
	DepositToBucket(ctx context.Context, user id.UserID, name string, amount int64, token string) (feemodels.Quote, error)
	SpendFromBucket(ctx context.Context, user id.UserID, name string, amount int64) error
	Transfer(ctx context.Context, user id.UserID, from, to models.Endpoint, amount int64) error
	DepositToPosition(ctx context.Context, user id.UserID, adapterID id.AdapterID, amount int64) (*models.Position, error)
	WithdrawFromPosition(ctx context.Context, user id.UserID, positionID id.PositionID, shares int64) (int64, error)
	CreateGoal(ctx context.Context, user id.UserID, name string, target int64, targetDate *time.Time, adapterID *id.AdapterID) (*models.Goal, error)
	ContributeToGoal(ctx context.Context, user id.UserID, goalID id.GoalID, amount int64) (*models.Goal, error)
	WithdrawFromGoal(ctx context.Context, user id.UserID, goalID id.GoalID, amount int64) (int64, error)
}

// Result reports one operation's outcome at its batch index.
type Result struct {
	Index   int          `json:"index"`
	Success bool         `json:"success"`
	Kind    id.ErrorKind `json:"kind,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type Dispatcher struct {
	ledger      Ledger
	logger      *slog.Logger
	concurrency int
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithConcurrency bounds how many users ApplyPartitioned serves at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func New(ledger Ledger, opts ...Option) (*Dispatcher, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	d := &Dispatcher{ledger: ledger, logger: slog.Default(), concurrency: 8}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ApplyBatch applies the operations in order. Each operation commits or
// fails on its own, a malformed one included; a failure does not stop the
// batch. Once ctx is done the remaining operations are reported cancelled
// without being attempted. Committed operations stay committed.
func (d *Dispatcher) ApplyBatch(ctx context.Context, ops []Operation) ([]Result, error) {
	results := make([]Result, len(ops))
	indexes := make([]int, len(ops))
	for i := range ops {
		indexes[i] = i
	}
	d.run(ctx, ops, indexes, results)
	d.logOutcome(ctx, "batch applied", results)
	return results, nil
}

// ApplyPartitioned runs each user's operations in batch order, with
// different users in parallel. Results keep batch indexes.
func (d *Dispatcher) ApplyPartitioned(ctx context.Context, ops []Operation) ([]Result, error) {
	var order []id.UserID
	partitions := make(map[id.UserID][]int)
	for i, op := range ops {
		if _, ok := partitions[op.User]; !ok {
			order = append(order, op.User)
		}
		partitions[op.User] = append(partitions[op.User], i)
	}

	results := make([]Result, len(ops))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, user := range order {
		indexes := partitions[user]
		g.Go(func() error {
			// each partition writes disjoint result slots
			d.run(ctx, ops, indexes, results)
			return nil
		})
	}
	_ = g.Wait()
	d.logOutcome(ctx, "partitioned batch applied", results)
	return results, nil
}

func (d *Dispatcher) run(ctx context.Context, ops []Operation, indexes []int, results []Result) {
	for _, i := range indexes {
		if err := ctx.Err(); err != nil {
			results[i] = failure(i, id.KindCancelled.Wrap(err, "batch cancelled"))
			continue
		}
		// shape errors never reach the ledger
		if err := ops[i].Validate(); err != nil {
			results[i] = failure(i, fmt.Errorf("operation %d: %w", i, err))
			continue
		}
		if err := d.apply(ctx, ops[i]); err != nil {
			results[i] = failure(i, err)
			continue
		}
		results[i] = Result{Index: i, Success: true}
	}
}

func failure(i int, err error) Result {
	return Result{Index: i, Kind: id.KindOf(err), Error: err.Error()}
}

func (d *Dispatcher) apply(ctx context.Context, op Operation) error {
	var err error
	switch op.Type {
	case TypeInitialize:
		err = d.ledger.InitializeUser(ctx, op.User)
	case TypeEnableAccount:
		err = d.ledger.EnableAccount(ctx, op.User, op.Account)
	case TypeCreateBucket:
		_, err = d.ledger.CreateBucket(ctx, op.User, op.Bucket, op.Limit)
	case TypeDeposit:
		_, err = d.ledger.DepositToBucket(ctx, op.User, op.Bucket, op.Amount, op.Token)
	case TypeSpend:
		err = d.ledger.SpendFromBucket(ctx, op.User, op.Bucket, op.Amount)
	case TypeTransfer:
		err = d.ledger.Transfer(ctx, op.User, *op.From, *op.To, op.Amount)
	case TypeInvestmentDeposit:
		_, err = d.ledger.DepositToPosition(ctx, op.User, *op.Adapter, op.Amount)
	case TypeInvestmentWithdraw:
		_, err = d.ledger.WithdrawFromPosition(ctx, op.User, *op.Position, op.Shares)
	case TypeCreateGoal:
		_, err = d.ledger.CreateGoal(ctx, op.User, op.Name, op.Target, op.TargetDate, op.Adapter)
	case TypeGoalContribute:
		_, err = d.ledger.ContributeToGoal(ctx, op.User, *op.Goal, op.Amount)
	case TypeGoalWithdraw:
		_, err = d.ledger.WithdrawFromGoal(ctx, op.User, *op.Goal, op.Amount)
	default:
		err = id.KindInvalidOperation.Errf("unknown operation type %q", op.Type)
	}
	return err
}

func (d *Dispatcher) logOutcome(ctx context.Context, msg string, results []Result) {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	d.logger.InfoContext(ctx, msg, "operations", len(results), "failed", failed)
}
