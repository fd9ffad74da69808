package models

import (
	"context"
	"time"

	id "spendwise/pkg/domain"

	"github.com/shopspring/decimal"
)

// ProtocolAdapter is the uniform capability set of an external yield venue.
// Amounts and shares are integer minor units. Any call may fail; the registry
// maps failures to AdapterUnavailable.
type ProtocolAdapter interface {
	Deposit(ctx context.Context, asset string, amount int64) (shares int64, err error)
	Withdraw(ctx context.Context, shares int64) (amount int64, err error)
	Balance(ctx context.Context, account string) (int64, error)
	APY(ctx context.Context) (decimal.Decimal, error)
	Info(ctx context.Context) (Info, error)
}

type Info struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type Kind string

const (
	KindVault Kind = "vault"
	KindHTTP  Kind = "http"
)

// Descriptor is the registry's record of an adapter. Positions and goals
// reference it by ID only.
type Descriptor struct {
	ID            id.AdapterID `json:"id"`
	Name          string       `json:"name"`
	Kind          Kind         `json:"kind"`
	ContractRef   string       `json:"contract_ref,omitempty"`
	Active        bool         `json:"active"`
	RegisteredAt  time.Time    `json:"registered_at"`
	DeactivatedAt *time.Time   `json:"deactivated_at,omitempty"`
}

// Status is a descriptor plus live health.
type Status struct {
	Descriptor
	Circuit     string     `json:"circuit"`
	LastProbeAt *time.Time `json:"last_probe_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// ProbeResult is the outcome of one health probe.
type ProbeResult struct {
	AdapterID id.AdapterID `json:"adapter_id"`
	Healthy   bool         `json:"healthy"`
	Circuit   string       `json:"circuit"`
	Error     string       `json:"error,omitempty"`
}
