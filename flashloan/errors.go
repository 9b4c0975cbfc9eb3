package flashloan

import (
	"context"
	"errors"
)

var (
	ErrInvalidArgument       = errors.New("flashloan: invalid argument")
	ErrNotFound              = errors.New("flashloan: not found")
	ErrNotAuthorized         = errors.New("flashloan: not authorized")
	ErrCallerNotAuthorized   = errors.New("flashloan: caller not authorized")
	ErrAssetNotListed        = errors.New("flashloan: asset not listed")
	ErrAmountOutOfRange      = errors.New("flashloan: amount out of range")
	ErrInsufficientLiquidity = errors.New("flashloan: insufficient liquidity")
	ErrReentrant             = errors.New("flashloan: reentrant call")
	ErrLoanNotRepaid         = errors.New("flashloan: loan not repaid")
	ErrInvalidState          = errors.New("flashloan: invalid state")
	ErrCallbackFailed        = errors.New("flashloan: receiver callback failed")
	ErrReceiverPanic         = errors.New("flashloan: receiver panicked")
)

// Ordered so that wrapping errors win over what they wrap: a callback that
// failed because a nested call hit the guard reports callback_failed.
var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrReceiverPanic, "receiver_panic"},
	{ErrCallbackFailed, "callback_failed"},
	{ErrReentrant, "reentrant"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrNotFound, "not_found"},
	{ErrNotAuthorized, "not_authorized"},
	{ErrCallerNotAuthorized, "caller_not_authorized"},
	{ErrAssetNotListed, "asset_not_listed"},
	{ErrAmountOutOfRange, "amount_out_of_range"},
	{ErrInsufficientLiquidity, "insufficient_liquidity"},
	{ErrLoanNotRepaid, "loan_not_repaid"},
	{ErrInvalidState, "invalid_state"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "canceled"},
}

// ErrorKind maps err to a stable label for metrics and API responses.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
