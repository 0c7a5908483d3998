package factory

import (
	"errors"

	"stablefactory/native/bank"
)

var (
	// ErrInvalidInput flags malformed or inconsistent request parameters.
	ErrInvalidInput = errors.New("factory: invalid input")
	// ErrInvalidAccount flags a routed account that does not match the
	// required asset or owner.
	ErrInvalidAccount = errors.New("factory: invalid account")
	// ErrUnauthorized is returned when the caller is not an administrator.
	ErrUnauthorized = errors.New("factory: unauthorized")
	// ErrUnavailable is returned for inactive channels or missing configuration.
	ErrUnavailable = errors.New("factory: unavailable")
	// ErrLimitReached is returned when a lifetime or period cap would be exceeded.
	ErrLimitReached = errors.New("factory: limit reached")
	// ErrOracleUnavailable is returned when a price cannot be read.
	ErrOracleUnavailable = errors.New("factory: oracle unavailable")
	// ErrOracleMismatch is returned when the supplied feed is not the configured one.
	ErrOracleMismatch = errors.New("factory: oracle mismatch")
	// ErrArithmeticOverflow is returned on overflow or division by zero.
	ErrArithmeticOverflow = errors.New("factory: arithmetic overflow")
	// ErrInsufficientFunds surfaces a short balance from the bank unchanged.
	ErrInsufficientFunds = bank.ErrInsufficientFunds
)

// ErrChannelInactive is the inactive-channel flavour of ErrUnavailable.
var ErrChannelInactive = ErrUnavailable

// Stable error codes shared by the HTTP surface and metrics.
const (
	CodeInvalidInput       = "invalid_input"
	CodeInvalidAccount     = "invalid_account"
	CodeUnauthorized       = "unauthorized"
	CodeUnavailable        = "unavailable"
	CodeLimitReached       = "limit_reached"
	CodeOracleUnavailable  = "oracle_unavailable"
	CodeOracleMismatch     = "oracle_mismatch"
	CodeArithmeticOverflow = "arithmetic_overflow"
	CodeInsufficientFunds  = "insufficient_funds"
	CodeInternal           = "internal"
)

var codeTable = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ErrInvalidAccount, CodeInvalidAccount},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrUnavailable, CodeUnavailable},
	{ErrLimitReached, CodeLimitReached},
	{ErrOracleUnavailable, CodeOracleUnavailable},
	{ErrOracleMismatch, CodeOracleMismatch},
	{ErrArithmeticOverflow, CodeArithmeticOverflow},
	{ErrInsufficientFunds, CodeInsufficientFunds},
}

// Code maps err to its stable error code. Nil maps to the empty string and
// errors outside the factory taxonomy map to CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}
