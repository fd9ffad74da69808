// Package vault is an in-process share-based yield vault. Share price starts
// at 1 and grows with simple interest at the configured APY; the ledger holds
// all shares as a single omnibus account.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spendwise/internal/adapter/models"

	"github.com/shopspring/decimal"
)

var (
	ErrPaused          = errors.New("vault paused")
	ErrAssetMismatch   = errors.New("asset not accepted by vault")
	ErrZeroShares      = errors.New("deposit too small to mint shares")
	ErrNotEnoughShares = errors.New("not enough shares in vault")
)

var secondsPerYear = decimal.NewFromInt(365 * 24 * 60 * 60)

type Vault struct {
	name  string
	asset string
	now   func() time.Time

	mu          sync.Mutex
	apy         decimal.Decimal
	totalAssets decimal.Decimal
	totalShares int64
	lastAccrual time.Time
	paused      bool
}

type Option func(*Vault)

func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithAsset restricts deposits to one asset symbol.
func WithAsset(asset string) Option {
	return func(v *Vault) { v.asset = asset }
}

func New(name string, apy decimal.Decimal, opts ...Option) *Vault {
	v := &Vault{name: name, apy: apy, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	v.lastAccrual = v.now()
	return v
}

func (v *Vault) accrueLocked() {
	now := v.now()
	elapsed := now.Sub(v.lastAccrual)
	v.lastAccrual = now
	if elapsed <= 0 || v.totalShares == 0 {
		return
	}
	growth := v.apy.Mul(decimal.NewFromFloat(elapsed.Seconds())).Div(secondsPerYear)
	v.totalAssets = v.totalAssets.Mul(decimal.NewFromInt(1).Add(growth))
}

func (v *Vault) Deposit(_ context.Context, asset string, amount int64) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return 0, ErrPaused
	}
	if v.asset != "" && asset != v.asset {
		return 0, fmt.Errorf("%w: %s", ErrAssetMismatch, asset)
	}
	if amount <= 0 {
		return 0, ErrZeroShares
	}
	v.accrueLocked()

	shares := amount
	if v.totalShares > 0 && v.totalAssets.IsPositive() {
		shares = decimal.NewFromInt(amount).
			Mul(decimal.NewFromInt(v.totalShares)).
			Div(v.totalAssets).
			Truncate(0).
			IntPart()
	}
	if shares <= 0 {
		return 0, ErrZeroShares
	}
	v.totalAssets = v.totalAssets.Add(decimal.NewFromInt(amount))
	v.totalShares += shares
	return shares, nil
}

func (v *Vault) Withdraw(_ context.Context, shares int64) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return 0, ErrPaused
	}
	if shares <= 0 || shares > v.totalShares {
		return 0, ErrNotEnoughShares
	}
	v.accrueLocked()

	amount := v.valueLocked(shares)
	v.totalAssets = v.totalAssets.Sub(decimal.NewFromInt(amount))
	v.totalShares -= shares
	if v.totalShares == 0 {
		v.totalAssets = decimal.Zero
	}
	return amount, nil
}

func (v *Vault) valueLocked(shares int64) int64 {
	if v.totalShares == 0 {
		return 0
	}
	return decimal.NewFromInt(shares).
		Mul(v.totalAssets).
		Div(decimal.NewFromInt(v.totalShares)).
		Truncate(0).
		IntPart()
}

// Balance returns the value of every outstanding share; the ledger is the
// vault's only holder.
func (v *Vault) Balance(_ context.Context, _ string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accrueLocked()
	return v.totalAssets.Truncate(0).IntPart(), nil
}

func (v *Vault) APY(_ context.Context) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.apy, nil
}

func (v *Vault) Info(_ context.Context) (models.Info, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return models.Info{Name: v.name, Active: !v.paused}, nil
}

func (v *Vault) SetPaused(paused bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = paused
}

func (v *Vault) SetAPY(apy decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accrueLocked()
	v.apy = apy
}
