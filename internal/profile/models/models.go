// Package models holds the per-user profile aggregate.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	id "spendwise/pkg/domain"
)

type AccountType string

const (
	AccountSpending   AccountType = "SPENDING"
	AccountInvestment AccountType = "INVESTMENT"
	AccountSavings    AccountType = "SAVINGS"
)

var accountOrder = []AccountType{AccountSpending, AccountInvestment, AccountSavings}

func ParseAccountType(s string) (AccountType, error) {
	for _, t := range accountOrder {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown account type %q", s)
}

// AccountTypeSet is the set of enabled sub-accounts.
type AccountTypeSet uint8

func bit(t AccountType) AccountTypeSet {
	switch t {
	case AccountSpending:
		return 1
	case AccountInvestment:
		return 2
	case AccountSavings:
		return 4
	}
	return 0
}

func NewAccountTypeSet(types ...AccountType) AccountTypeSet {
	var s AccountTypeSet
	for _, t := range types {
		s = s.Add(t)
	}
	return s
}

func (s AccountTypeSet) Has(t AccountType) bool {
	b := bit(t)
	return b != 0 && s&b == b
}

func (s AccountTypeSet) Add(t AccountType) AccountTypeSet { return s | bit(t) }

// List returns members in SPENDING, INVESTMENT, SAVINGS order.
func (s AccountTypeSet) List() []AccountType {
	out := make([]AccountType, 0, len(accountOrder))
	for _, t := range accountOrder {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Strings is List as plain strings, for array columns.
func (s AccountTypeSet) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = string(t)
	}
	return out
}

func (s AccountTypeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *AccountTypeSet) UnmarshalJSON(b []byte) error {
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	set, err := ParseAccountTypes(raw)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

func ParseAccountTypes(raw []string) (AccountTypeSet, error) {
	var set AccountTypeSet
	for _, r := range slices.Compact(slices.Sorted(slices.Values(raw))) {
		t, err := ParseAccountType(r)
		if err != nil {
			return 0, err
		}
		set = set.Add(t)
	}
	return set, nil
}

// Profile aggregates a user's state. TotalBalance always equals the sum of
// the enabled sub-account totals.
type Profile struct {
	UserID       id.UserID      `json:"user_id"`
	Initialized  bool           `json:"initialized"`
	TotalBalance int64          `json:"total_balance"`
	LastActivity time.Time      `json:"last_activity"`
	AccountTypes AccountTypeSet `json:"account_types"`
	FeatureFlags uint64         `json:"feature_flags"`
	CreatedAt    time.Time      `json:"created_at"`
}

// New returns the lazily created profile for a user seen for the first time.
func New(userID id.UserID, now time.Time) *Profile {
	return &Profile{UserID: userID, LastActivity: now, CreatedAt: now}
}
