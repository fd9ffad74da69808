// Package models describes spend allowances granted to delegates.
package models

import (
	"time"

	id "spendwise/pkg/domain"
)

// Allowance lets Delegate spend up to Remaining from User's buckets. An empty
// Bucket covers every bucket.
type Allowance struct {
	Delegate  id.UserID  `json:"delegate"`
	User      id.UserID  `json:"user"`
	Bucket    string     `json:"bucket,omitempty"`
	Remaining int64      `json:"remaining"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
}

// Covers reports whether the allowance applies to bucket at now.
func (a Allowance) Covers(bucket string, now time.Time) bool {
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	return a.Bucket == "" || a.Bucket == bucket
}
