// Package domain holds typed identifiers shared across features.
//
// Each ID wraps a uuid.UUID so the compiler rejects passing a GoalID where a
// PositionID is expected. Parse functions are the trust boundary: they reject
// empty, malformed and nil UUIDs with CodeInvalidInput.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "spendwise/pkg/domain-errors"
)

type (
	UserID     uuid.UUID
	PositionID uuid.UUID
	GoalID     uuid.UUID
	AdapterID  uuid.UUID
	EventID    uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be nil", kind)
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user_id", s)
	return UserID(u), err
}

func ParsePositionID(s string) (PositionID, error) {
	u, err := parseUUID("position_id", s)
	return PositionID(u), err
}

func ParseGoalID(s string) (GoalID, error) {
	u, err := parseUUID("goal_id", s)
	return GoalID(u), err
}

func ParseAdapterID(s string) (AdapterID, error) {
	u, err := parseUUID("adapter_id", s)
	return AdapterID(u), err
}

func NewPositionID() PositionID { return PositionID(uuid.New()) }
func NewGoalID() GoalID         { return GoalID(uuid.New()) }
func NewAdapterID() AdapterID   { return AdapterID(uuid.New()) }
func NewEventID() EventID       { return EventID(uuid.New()) }

func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id PositionID) String() string { return uuid.UUID(id).String() }
func (id GoalID) String() string     { return uuid.UUID(id).String() }
func (id AdapterID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PositionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id GoalID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AdapterID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText lets typed IDs appear as JSON strings and map keys.
func (id UserID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id PositionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *PositionID) UnmarshalText(b []byte) error {
	parsed, err := ParsePositionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id GoalID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *GoalID) UnmarshalText(b []byte) error {
	parsed, err := ParseGoalID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id AdapterID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AdapterID) UnmarshalText(b []byte) error {
	parsed, err := ParseAdapterID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
