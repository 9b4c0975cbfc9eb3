package flashloan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/audit"
	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/token"
	"github.com/michaelpento.lv/flashvault/types"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
	"github.com/michaelpento.lv/flashvault/utils/metrics"
)

// AssetListing pairs an asset with the parameters it should be listed with.
type AssetListing struct {
	Asset  common.Address
	Params types.LoanParameters
}

// Options configures a Manager.
type Options struct {
	Pool           common.Address // Custodian account holding the liquidity
	FeeBeneficiary common.Address // Receives withdrawn fees; the calling admin when zero
	Admins         AdminPolicy
	Emitter        audit.Emitter
	Metrics        *metrics.PoolMetrics
	Clock          func() time.Time
	// PhaseObserver, when set, sees every phase transition of every loan.
	PhaseObserver func(loanID string, from, to Phase)
}

// Manager is the operation surface of the pool. Each mutating call runs as
// one invocation: it holds the reentrancy guard, works on a private view of
// the store, and either commits everything in one batch or nothing.
type Manager struct {
	backend        store.Backend
	engine         *engine
	admins         AdminPolicy
	emitter        audit.Emitter
	feeBeneficiary common.Address
	metrics        *metrics.PoolMetrics
	logger         *zap.Logger
}

// session is one invocation: a view over the backend, the components bound
// to it and the events it produced.
type session struct {
	view     *store.View
	registry *Registry
	params   *ParamStore
	premiums *PremiumCalculator
	ledger   *Ledger
	bank     *token.Bank
	events   audit.Buffer

	backend store.Backend
	emitter audit.Emitter
}

// commit writes the view in one batch, then releases the buffered events.
func (s *session) commit() error {
	if err := s.view.Commit(s.backend); err != nil {
		s.events.Reset()
		return fmt.Errorf("commit invocation: %w", err)
	}
	s.events.Flush(s.emitter)
	return nil
}

// NewManager creates a pool manager over backend.
func NewManager(backend store.Backend, opts Options, logger *zap.Logger) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("store backend is required")
	}
	if opts.Pool == (common.Address{}) {
		return nil, fmt.Errorf("pool address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Admins == nil {
		opts.Admins = StaticAdmins{}
	}
	if opts.Emitter == nil {
		opts.Emitter = audit.NoopEmitter{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewPoolMetrics(prometheus.NewRegistry(), metrics.DefaultNamespace)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Manager{
		backend: backend,
		engine: &engine{
			pool:    opts.Pool,
			metrics: opts.Metrics,
			logger:  logger,
			now:     opts.Clock,
			observe: opts.PhaseObserver,
		},
		admins:         opts.Admins,
		emitter:        opts.Emitter,
		feeBeneficiary: opts.FeeBeneficiary,
		metrics:        opts.Metrics,
		logger:         logger,
	}, nil
}

func (m *Manager) newSession() *session {
	return m.sessionOn(m.backend)
}

func (m *Manager) sessionOn(base store.Reader) *session {
	view := store.NewView(base)
	bank := token.NewBank(view)
	params := NewParamStore(view)
	return &session{
		view:     view,
		registry: NewRegistry(view),
		params:   params,
		premiums: NewPremiumCalculator(params),
		ledger:   NewLedger(view, bank, m.engine.pool),
		bank:     bank,
		backend:  m.backend,
		emitter:  m.emitter,
	}
}

// Pool returns the custodian address.
func (m *Manager) Pool() common.Address {
	return m.engine.pool
}

// Busy reports whether an invocation currently holds the guard.
func (m *Manager) Busy() bool {
	return m.engine.guard.Held()
}

// ExecuteFlashLoan lends amount of asset to caller, runs receiver, and
// commits only if the pool got back principal plus premium.
func (m *Manager) ExecuteFlashLoan(ctx context.Context, caller, asset common.Address, amount *big.Int, payload []byte, receiver Receiver) (*Receipt, error) {
	start := time.Now()
	defer func() {
		m.metrics.ExecutionLatency.Observe(time.Since(start).Seconds())
	}()

	req := types.LoanRequest{
		Caller:  caller,
		Asset:   asset,
		Amount:  amount,
		Payload: payload,
	}
	receipt, err := m.engine.execute(ctx, m.newSession(), req, receiver)
	if err != nil {
		kind := ErrorKind(err)
		m.metrics.LoansReverted.WithLabelValues(kind).Inc()
		m.logger.Warn("Flash loan reverted",
			zap.Stringer("caller", caller),
			zap.Stringer("asset", asset),
			zap.Stringer("amount", amount),
			zap.String("reason", kind),
			zap.Error(err))
		return nil, err
	}

	label := asset.Hex()
	m.metrics.LoansExecuted.WithLabelValues(label).Inc()
	m.metrics.VolumeLent.WithLabelValues(label).Add(metrics.AmountToFloat(receipt.Amount))
	m.metrics.PremiumCollected.WithLabelValues(label).Add(metrics.AmountToFloat(receipt.Premium))
	m.logger.Info("Flash loan executed",
		zap.String("loan_id", receipt.LoanID),
		zap.Stringer("caller", caller),
		zap.Stringer("asset", asset),
		zap.Stringer("amount", receipt.Amount),
		zap.Stringer("premium", receipt.Premium))

	return receipt, nil
}

// mutate runs fn as one guarded admin invocation.
func (m *Manager) mutate(op string, admin common.Address, fn func(s *session) error) error {
	err := m.runAdmin(admin, fn)
	result := "ok"
	if err != nil {
		result = ErrorKind(err)
		m.logger.Warn("Admin operation failed",
			zap.String("operation", op),
			zap.Stringer("admin", admin),
			zap.Error(err))
	} else {
		m.logger.Info("Admin operation committed",
			zap.String("operation", op),
			zap.Stringer("admin", admin))
	}
	m.metrics.AdminOps.WithLabelValues(op, result).Inc()
	return err
}

func (m *Manager) runAdmin(admin common.Address, fn func(s *session) error) error {
	lock, err := m.engine.guard.Enter()
	if err != nil {
		return err
	}
	defer lock.Release()

	if !m.admins.IsAdmin(admin) {
		return fmt.Errorf("%w: %s is not an admin", ErrNotAuthorized, admin.Hex())
	}

	s := m.newSession()
	if err := fn(s); err != nil {
		return err
	}
	return s.commit()
}

// setParameters lists asset if needed and stores params. Re-setting
// identical parameters changes nothing and emits nothing.
func setParameters(s *session, asset common.Address, params types.LoanParameters) error {
	if asset == (common.Address{}) {
		return fmt.Errorf("%w: zero asset address", ErrInvalidArgument)
	}
	if err := ValidateParameters(params); err != nil {
		return err
	}

	current, err := s.params.Get(asset)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	default:
		if sameParameters(current, params) {
			return nil
		}
	}

	added, err := s.registry.ListAsset(asset)
	if err != nil {
		return err
	}
	if err := s.params.Set(asset, params); err != nil {
		return err
	}

	if added {
		s.events.Emit(audit.AssetListed{Asset: asset, Params: params.Clone()})
	} else {
		s.events.Emit(audit.ParametersUpdated{Asset: asset, Params: params.Clone()})
	}
	return nil
}

// ListAsset makes asset lendable under params.
func (m *Manager) ListAsset(admin, asset common.Address, params types.LoanParameters) error {
	return m.mutate("list_asset", admin, func(s *session) error {
		return setParameters(s, asset, params)
	})
}

// UpdateLoanParameters replaces the parameters of asset, listing it if it
// was not listed yet.
func (m *Manager) UpdateLoanParameters(admin, asset common.Address, params types.LoanParameters) error {
	return m.mutate("update_parameters", admin, func(s *session) error {
		return setParameters(s, asset, params)
	})
}

// ListAssets lists every asset in one invocation; one bad listing rejects
// them all.
func (m *Manager) ListAssets(admin common.Address, listings []AssetListing) error {
	return m.mutate("list_assets", admin, func(s *session) error {
		for _, l := range listings {
			if err := setParameters(s, l.Asset, l.Params); err != nil {
				return fmt.Errorf("list %s: %w", l.Asset.Hex(), err)
			}
		}
		return nil
	})
}

// Bootstrap applies the configured listings and callers in one invocation.
func (m *Manager) Bootstrap(admin common.Address, listings []AssetListing, callers []common.Address) error {
	return m.mutate("bootstrap", admin, func(s *session) error {
		for _, l := range listings {
			if err := setParameters(s, l.Asset, l.Params); err != nil {
				return fmt.Errorf("list %s: %w", l.Asset.Hex(), err)
			}
		}
		for _, c := range callers {
			if err := authorizeCaller(s, c); err != nil {
				return fmt.Errorf("authorize %s: %w", c.Hex(), err)
			}
		}
		return nil
	})
}

// DelistAsset stops lending asset and drops its parameters. The ledger entry
// is kept so collected fees stay withdrawable.
func (m *Manager) DelistAsset(admin, asset common.Address) error {
	return m.mutate("delist_asset", admin, func(s *session) error {
		if err := s.registry.DelistAsset(asset); err != nil {
			return err
		}
		if err := s.params.Clear(asset); err != nil {
			return err
		}
		s.events.Emit(audit.AssetDelisted{Asset: asset})
		return nil
	})
}

func authorizeCaller(s *session, caller common.Address) error {
	added, err := s.registry.AuthorizeCaller(caller)
	if err != nil {
		return err
	}
	if added {
		s.events.Emit(audit.CallerAuthorized{Caller: caller})
	}
	return nil
}

// AuthorizeCaller allows caller to borrow. Authorizing twice is a no-op.
func (m *Manager) AuthorizeCaller(admin, caller common.Address) error {
	return m.mutate("authorize_caller", admin, func(s *session) error {
		return authorizeCaller(s, caller)
	})
}

// RevokeCaller removes caller's permission to borrow.
func (m *Manager) RevokeCaller(admin, caller common.Address) error {
	return m.mutate("revoke_caller", admin, func(s *session) error {
		if err := s.registry.RevokeCaller(caller); err != nil {
			return err
		}
		s.events.Emit(audit.CallerRevoked{Caller: caller})
		return nil
	})
}

// WithdrawFees pays out all fees collected for asset and returns the amount.
func (m *Manager) WithdrawFees(admin, asset common.Address) (*big.Int, error) {
	beneficiary := m.feeBeneficiary
	if beneficiary == (common.Address{}) {
		beneficiary = admin
	}

	var withdrawn *big.Int
	err := m.mutate("withdraw_fees", admin, func(s *session) error {
		fees, err := s.ledger.WithdrawFees(asset, beneficiary)
		if err != nil {
			return err
		}
		withdrawn = fees
		s.events.Emit(audit.FeesWithdrawn{Asset: asset, To: beneficiary, Amount: fees})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// WithdrawLiquidity pays amount of available liquidity to the calling admin.
func (m *Manager) WithdrawLiquidity(admin, asset common.Address, amount *big.Int) error {
	return m.mutate("withdraw_liquidity", admin, func(s *session) error {
		if err := s.ledger.WithdrawLiquidity(asset, admin, amount); err != nil {
			return err
		}
		s.events.Emit(audit.LiquidityWithdrawn{Asset: asset, To: admin, Amount: bpsmath.Clone(amount)})
		return nil
	})
}

// DepositLiquidity moves amount of a listed asset from the admin's balance
// into the pool.
func (m *Manager) DepositLiquidity(admin, asset common.Address, amount *big.Int) error {
	return m.mutate("deposit_liquidity", admin, func(s *session) error {
		listed, err := s.registry.IsAssetListed(asset)
		if err != nil {
			return err
		}
		if !listed {
			return fmt.Errorf("%w: %s", ErrAssetNotListed, asset.Hex())
		}
		if err := s.ledger.DepositLiquidity(asset, admin, amount); err != nil {
			return err
		}
		s.events.Emit(audit.LiquidityDeposited{Asset: asset, From: admin, Amount: bpsmath.Clone(amount)})
		return nil
	})
}

// Credit mints amount of asset to holder. It funds accounts for simulations
// and local testing.
func (m *Manager) Credit(admin, asset, holder common.Address, amount *big.Int) error {
	return m.mutate("credit", admin, func(s *session) error {
		if err := s.bank.Credit(asset, holder, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return nil
	})
}

// Read-only queries below see committed state only and never take the guard.
// Each one reads from a single backend snapshot, so a loan committing in the
// middle of a query cannot mix old and new values.

func (m *Manager) read(fn func(s *session) error) error {
	snap, err := m.backend.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer snap.Release()
	return fn(m.sessionOn(snap))
}

// CalculatePremium prices a loan of amount without executing it.
func (m *Manager) CalculatePremium(asset common.Address, amount *big.Int) (premium *big.Int, err error) {
	err = m.read(func(s *session) error {
		premium, err = s.premiums.Premium(asset, amount)
		return err
	})
	return premium, err
}

// AvailableLiquidity returns the custodial balance of asset net of fees.
func (m *Manager) AvailableLiquidity(asset common.Address) (available *big.Int, err error) {
	err = m.read(func(s *session) error {
		available, err = s.ledger.AvailableLiquidity(asset)
		return err
	})
	return available, err
}

// CustodialBalance returns the pool's balance of asset.
func (m *Manager) CustodialBalance(asset common.Address) (balance *big.Int, err error) {
	err = m.read(func(s *session) error {
		balance, err = s.ledger.CustodialBalance(asset)
		return err
	})
	return balance, err
}

// LedgerEntry returns a copy of the running totals of asset.
func (m *Manager) LedgerEntry(asset common.Address) (entry *types.LedgerEntry, err error) {
	err = m.read(func(s *session) error {
		entry, err = s.ledger.Entry(asset)
		return err
	})
	return entry, err
}

// LoanParameters returns the parameters of a listed asset.
func (m *Manager) LoanParameters(asset common.Address) (params types.LoanParameters, err error) {
	err = m.read(func(s *session) error {
		params, err = s.params.Get(asset)
		return err
	})
	return params, err
}

func (m *Manager) IsAssetListed(asset common.Address) (listed bool, err error) {
	err = m.read(func(s *session) error {
		listed, err = s.registry.IsAssetListed(asset)
		return err
	})
	return listed, err
}

func (m *Manager) IsCallerAuthorized(caller common.Address) (authorized bool, err error) {
	err = m.read(func(s *session) error {
		authorized, err = s.registry.IsCallerAuthorized(caller)
		return err
	})
	return authorized, err
}

// ListedAssets returns every currently listed asset.
func (m *Manager) ListedAssets() ([]common.Address, error) {
	return ListedAssets(m.backend)
}

// BalanceOf returns holder's token balance of asset.
func (m *Manager) BalanceOf(asset, holder common.Address) (balance *big.Int, err error) {
	err = m.read(func(s *session) error {
		balance, err = s.bank.BalanceOf(asset, holder)
		return err
	})
	return balance, err
}
