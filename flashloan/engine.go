package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/audit"
	"github.com/michaelpento.lv/flashvault/token"
	"github.com/michaelpento.lv/flashvault/types"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
	"github.com/michaelpento.lv/flashvault/utils/metrics"
)

// Phase is where an execution stands in the borrow, callback, verify cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseDisbursed
	PhaseAwaitingCallback
	PhaseVerifying
	PhaseCommitted
	PhaseReverted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseDisbursed:
		return "disbursed"
	case PhaseAwaitingCallback:
		return "awaiting_callback"
	case PhaseVerifying:
		return "verifying"
	case PhaseCommitted:
		return "committed"
	case PhaseReverted:
		return "reverted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Receipt describes a committed loan.
type Receipt struct {
	LoanID   string
	Caller   common.Address
	Asset    common.Address
	Amount   *big.Int
	Premium  *big.Int
	Repaid   *big.Int // Custodial balance gained over balanceBefore
	Advisory bool     // What the receiver returned
	At       time.Time
}

// engine runs one flash loan against a session. It owns the guard shared by
// every mutating operation.
type engine struct {
	guard   ReentrancyGuard
	pool    common.Address
	metrics *metrics.PoolMetrics
	logger  *zap.Logger
	now     func() time.Time
	observe func(loanID string, from, to Phase)
}

// execution tracks the phase of a single loan.
type execution struct {
	e     *engine
	id    string
	phase Phase
}

func (x *execution) to(next Phase) {
	prev := x.phase
	x.phase = next
	x.e.logger.Debug("Flash loan phase",
		zap.String("loan_id", x.id),
		zap.Stringer("from", prev),
		zap.Stringer("to", next))
	if x.e.observe != nil {
		x.e.observe(x.id, prev, next)
	}
}

// execute runs the full protocol. Every error leaves the session
// uncommitted; the caller drops it.
func (e *engine) execute(ctx context.Context, s *session, req types.LoanRequest, receiver Receiver) (receipt *Receipt, err error) {
	lock, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	x := &execution{e: e, id: uuid.New().String()}
	x.to(PhaseValidating)
	defer func() {
		if err != nil {
			x.to(PhaseReverted)
		}
	}()

	params, err := e.validate(ctx, s, req, receiver)
	if err != nil {
		return nil, err
	}

	// Disbursement
	balanceBefore, err := s.ledger.CustodialBalance(req.Asset)
	if err != nil {
		return nil, err
	}
	premium := Premium(params, req.Amount)
	if err := s.bank.Transfer(req.Asset, e.pool, req.Caller, req.Amount); err != nil {
		return nil, fmt.Errorf("disburse loan: %w", err)
	}
	x.to(PhaseDisbursed)

	loan := Loan{
		ID:      x.id,
		Pool:    e.pool,
		Caller:  req.Caller,
		Asset:   req.Asset,
		Amount:  bpsmath.Clone(req.Amount),
		Premium: bpsmath.Clone(premium),
		Payload: append([]byte(nil), req.Payload...),
	}

	x.to(PhaseAwaitingCallback)
	e.metrics.ActiveLoans.Inc()
	start := time.Now()
	advisory, err := callReceiver(ctx, receiver, s.bank.Wallet(req.Caller), loan)
	e.metrics.CallbackLatency.Observe(time.Since(start).Seconds())
	e.metrics.ActiveLoans.Dec()
	if err != nil {
		return nil, err
	}
	x.to(PhaseVerifying)

	balanceAfter, err := s.ledger.CustodialBalance(req.Asset)
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Add(balanceBefore, premium)
	if balanceAfter.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: custodial balance %s, required %s", ErrLoanNotRepaid, balanceAfter, required)
	}
	if !advisory {
		e.metrics.AdvisoryFalse.Inc()
		e.logger.Info("Receiver reported failure but repaid in full",
			zap.String("loan_id", x.id),
			zap.Stringer("caller", req.Caller))
	}

	// Commit
	if err := s.ledger.RecordSuccessfulLoan(req.Asset, req.Amount, premium); err != nil {
		return nil, err
	}
	at := e.now()
	s.events.Emit(audit.LoanExecuted{
		LoanID:    x.id,
		Caller:    req.Caller,
		Asset:     req.Asset,
		Amount:    loan.Amount,
		Premium:   loan.Premium,
		Timestamp: at,
	})
	if err := s.commit(); err != nil {
		return nil, err
	}
	x.to(PhaseCommitted)

	return &Receipt{
		LoanID:   x.id,
		Caller:   req.Caller,
		Asset:    req.Asset,
		Amount:   loan.Amount,
		Premium:  loan.Premium,
		Repaid:   balanceAfter.Sub(balanceAfter, balanceBefore),
		Advisory: advisory,
		At:       at,
	}, nil
}

func (e *engine) validate(ctx context.Context, s *session, req types.LoanRequest, receiver Receiver) (types.LoanParameters, error) {
	var none types.LoanParameters

	if err := ctx.Err(); err != nil {
		return none, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return none, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if receiver == nil {
		return none, fmt.Errorf("%w: nil receiver", ErrInvalidArgument)
	}

	listed, err := s.registry.IsAssetListed(req.Asset)
	if err != nil {
		return none, err
	}
	if !listed {
		return none, fmt.Errorf("%w: %s", ErrAssetNotListed, req.Asset.Hex())
	}

	authorized, err := s.registry.IsCallerAuthorized(req.Caller)
	if err != nil {
		return none, err
	}
	if !authorized {
		return none, fmt.Errorf("%w: %s", ErrCallerNotAuthorized, req.Caller.Hex())
	}

	params, err := s.params.Get(req.Asset)
	if err != nil {
		return none, err
	}
	if req.Amount.Cmp(params.MinAmount) < 0 || req.Amount.Cmp(params.MaxAmount) > 0 {
		return none, fmt.Errorf("%w: %s not in [%s, %s]", ErrAmountOutOfRange, req.Amount, params.MinAmount, params.MaxAmount)
	}

	balance, err := s.ledger.CustodialBalance(req.Asset)
	if err != nil {
		return none, err
	}
	if balance.Cmp(req.Amount) < 0 {
		return none, fmt.Errorf("%w: requested %s, custodial balance %s", ErrInsufficientLiquidity, req.Amount, balance)
	}
	return params, nil
}

// callReceiver invokes the borrower and turns a panic into ErrReceiverPanic.
func callReceiver(ctx context.Context, receiver Receiver, wallet *token.Wallet, loan Loan) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: %v", ErrReceiverPanic, r)
		}
	}()

	ok, err = receiver.OnFlashLoan(ctx, wallet, loan)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCallbackFailed, err)
	}
	return ok, nil
}
