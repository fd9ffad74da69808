package domain

import (
	"fmt"

	dErrors "spendwise/pkg/domain-errors"
)

// ErrorKind is the machine-readable failure reason reported to callers and
// recorded in batch results. It travels as the Reason of a domain error.
type ErrorKind string

const (
	KindDuplicateBucket        ErrorKind = "duplicate_bucket"
	KindInvalidLimit           ErrorKind = "invalid_limit"
	KindInvalidAmount          ErrorKind = "invalid_amount"
	KindInvalidTarget          ErrorKind = "invalid_target"
	KindInvalidOperation       ErrorKind = "invalid_operation"
	KindBucketNotFound         ErrorKind = "bucket_not_found"
	KindBucketInactive         ErrorKind = "bucket_inactive"
	KindLimitExceeded          ErrorKind = "limit_exceeded"
	KindInsufficientBalance    ErrorKind = "insufficient_balance"
	KindUnauthorized           ErrorKind = "unauthorized"
	KindAdapterNotFound        ErrorKind = "adapter_not_found"
	KindAdapterInactive        ErrorKind = "adapter_inactive"
	KindAdapterUnavailable     ErrorKind = "adapter_unavailable"
	KindDuplicateAdapter       ErrorKind = "duplicate_adapter"
	KindPositionNotFound       ErrorKind = "position_not_found"
	KindInsufficientShares     ErrorKind = "insufficient_shares"
	KindGoalNotFound           ErrorKind = "goal_not_found"
	KindFeeTooHigh             ErrorKind = "fee_too_high"
	KindUnknownFeeKind         ErrorKind = "unknown_fee_kind"
	KindUnknownPolicy          ErrorKind = "unknown_policy"
	KindDuplicatePolicy        ErrorKind = "duplicate_policy"
	KindDuplicateTierThreshold ErrorKind = "duplicate_tier_threshold"
	KindCancelled              ErrorKind = "cancelled"
	KindInvariantViolation     ErrorKind = "invariant_violation"
)

// Code returns the transport-level category for the kind.
func (k ErrorKind) Code() dErrors.Code {
	switch k {
	case KindDuplicateBucket, KindDuplicateAdapter, KindDuplicatePolicy:
		return dErrors.CodeConflict
	case KindInvalidLimit, KindInvalidAmount, KindInvalidTarget, KindInvalidOperation,
		KindDuplicateTierThreshold, KindUnknownFeeKind:
		return dErrors.CodeValidation
	case KindBucketNotFound, KindPositionNotFound, KindGoalNotFound, KindAdapterNotFound, KindUnknownPolicy:
		return dErrors.CodeNotFound
	case KindBucketInactive, KindLimitExceeded, KindInsufficientBalance, KindInsufficientShares,
		KindAdapterInactive, KindFeeTooHigh:
		return dErrors.CodePolicyViolation
	case KindUnauthorized:
		return dErrors.CodeForbidden
	case KindAdapterUnavailable:
		return dErrors.CodeUnavailable
	case KindCancelled:
		return dErrors.CodeTimeout
	default:
		return dErrors.CodeInvariantViolation
	}
}

// Err builds a domain error of this kind.
func (k ErrorKind) Err(msg string) *dErrors.Error {
	return dErrors.New(k.Code(), msg).WithReason(string(k))
}

// Errf is Err with formatting.
func (k ErrorKind) Errf(format string, args ...any) *dErrors.Error {
	return k.Err(fmt.Sprintf(format, args...))
}

// Wrap attaches this kind to an underlying error.
func (k ErrorKind) Wrap(err error, msg string) *dErrors.Error {
	return dErrors.Wrap(err, k.Code(), msg).WithReason(string(k))
}

// KindOf extracts the kind from err. Errors without a reason map to
// KindInvalidOperation for validation-class codes and KindInvariantViolation
// otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if reason := dErrors.ReasonOf(err); reason != "" {
		return ErrorKind(reason)
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return KindInvalidOperation
	case dErrors.CodeForbidden, dErrors.CodeUnauthorized:
		return KindUnauthorized
	case dErrors.CodeTimeout:
		return KindCancelled
	default:
		return KindInvariantViolation
	}
}
