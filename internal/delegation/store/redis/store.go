package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"spendwise/internal/delegation/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/sentinel"

	"github.com/redis/go-redis/v9"
)

const (
	allowanceKeyPrefix = "delegation:allowance:"
	userIndexPrefix    = "delegation:user:"
)

// consumeScript decrements remaining only when it covers the amount.
// Returns -1 when the allowance is missing and -2 when it is short.
var consumeScript = redis.NewScript(`
local rem = redis.call('HGET', KEYS[1], 'remaining')
if not rem then return -1 end
rem = tonumber(rem)
local amount = tonumber(ARGV[1])
if rem < amount then return -2 end
redis.call('HSET', KEYS[1], 'remaining', rem - amount)
return rem - amount
`)

// restoreScript adds back a consumed amount if the allowance still exists.
var restoreScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
return redis.call('HINCRBY', KEYS[1], 'remaining', ARGV[1])
`)

// Store keeps allowances in Redis hashes so every instance sees the same
// remaining amount. Expired allowances are evicted by key expiry.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func allowanceKey(delegate, user id.UserID) string {
	return allowanceKeyPrefix + user.String() + ":" + delegate.String()
}

func (s *Store) Put(ctx context.Context, a models.Allowance) error {
	k := allowanceKey(a.Delegate, a.User)
	fields := map[string]any{
		"bucket":     a.Bucket,
		"remaining":  a.Remaining,
		"granted_at": a.GrantedAt.UnixMilli(),
		"expires_at": int64(0),
	}
	if a.ExpiresAt != nil {
		fields["expires_at"] = a.ExpiresAt.UnixMilli()
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, fields)
	if a.ExpiresAt != nil {
		pipe.PExpireAt(ctx, k, *a.ExpiresAt)
	}
	pipe.SAdd(ctx, userIndexPrefix+a.User.String(), a.Delegate.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put allowance: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, delegate, user id.UserID) (*models.Allowance, error) {
	vals, err := s.client.HGetAll(ctx, allowanceKey(delegate, user)).Result()
	if err != nil {
		return nil, fmt.Errorf("get allowance: %w", err)
	}
	if len(vals) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return decode(delegate, user, vals)
}

func (s *Store) Delete(ctx context.Context, delegate, user id.UserID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, allowanceKey(delegate, user))
	pipe.SRem(ctx, userIndexPrefix+user.String(), delegate.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete allowance: %w", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, user id.UserID) ([]models.Allowance, error) {
	members, err := s.client.SMembers(ctx, userIndexPrefix+user.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("list allowances: %w", err)
	}
	slices.Sort(members)

	var out []models.Allowance
	for _, m := range members {
		delegate, err := id.ParseUserID(m)
		if err != nil {
			continue
		}
		a, err := s.Get(ctx, delegate, user)
		if errors.Is(err, sentinel.ErrNotFound) {
			// expired; drop the stale index entry
			s.client.SRem(ctx, userIndexPrefix+user.String(), m)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *Store) Consume(ctx context.Context, delegate, user id.UserID, amount int64) (int64, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{allowanceKey(delegate, user)}, amount).Int64()
	if err != nil {
		return 0, fmt.Errorf("consume allowance: %w", err)
	}
	switch res {
	case -1:
		return 0, sentinel.ErrNotFound
	case -2:
		return 0, sentinel.ErrInvalidState
	}
	return res, nil
}

func (s *Store) Restore(ctx context.Context, delegate, user id.UserID, amount int64) error {
	if err := restoreScript.Run(ctx, s.client, []string{allowanceKey(delegate, user)}, amount).Err(); err != nil {
		return fmt.Errorf("restore allowance: %w", err)
	}
	return nil
}

func decode(delegate, user id.UserID, vals map[string]string) (*models.Allowance, error) {
	remaining, err := strconv.ParseInt(vals["remaining"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode allowance remaining: %w", err)
	}
	granted, _ := strconv.ParseInt(vals["granted_at"], 10, 64)
	expires, _ := strconv.ParseInt(vals["expires_at"], 10, 64)

	a := &models.Allowance{
		Delegate:  delegate,
		User:      user,
		Bucket:    strings.TrimSpace(vals["bucket"]),
		Remaining: remaining,
		GrantedAt: time.UnixMilli(granted).UTC(),
	}
	if expires > 0 {
		t := time.UnixMilli(expires).UTC()
		a.ExpiresAt = &t
	}
	return a, nil
}
