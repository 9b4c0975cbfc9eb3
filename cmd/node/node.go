package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/api"
	"github.com/michaelpento.lv/flashvault/audit"
	"github.com/michaelpento.lv/flashvault/config"
	"github.com/michaelpento.lv/flashvault/flashloan"
	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/utils/metrics"
	"github.com/michaelpento.lv/flashvault/utils/monitor"
)

// Node wires a configured pool: store, audit sinks, manager and API.
type Node struct {
	cfg      *config.Config
	backend  store.Backend
	journal  *audit.Journal
	manager  *flashloan.Manager
	server   *api.Server
	monitor  *monitor.PoolMonitor
	registry *prometheus.Registry
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New opens the configured store and builds a node on top of it.
func New(cfg *config.Config, logger *zap.Logger) (*Node, error) {
	backend, err := OpenBackend(cfg.Store)
	if err != nil {
		return nil, err
	}
	n, err := Open(cfg, backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return n, nil
}

// OpenBackend opens the store described by cfg, behind a read cache when
// one is configured.
func OpenBackend(cfg config.StoreConfig) (store.Backend, error) {
	backend, err := store.Open(cfg.Backend, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	if cfg.CacheSize <= 0 {
		return backend, nil
	}
	cached, err := store.NewCached(backend, cfg.CacheSize)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create store cache: %w", err)
	}
	return cached, nil
}

// Open builds a node over an already open backend. The node takes ownership
// of backend and closes it on Stop.
func Open(cfg *config.Config, backend store.Backend, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Node{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
	}

	n.registry = prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		n.registry = metrics.Registry()
	}
	namespace := n.namespace()

	var emitters audit.MultiEmitter
	if cfg.Audit.LogEvents {
		emitters = append(emitters, audit.NewLogEmitter(logger.Named("audit")))
	}
	if cfg.Audit.Journal {
		journal, err := audit.OpenJournal(JournalConfig(cfg.Audit), logger.Named("journal"))
		if err != nil {
			return nil, fmt.Errorf("failed to open audit journal: %w", err)
		}
		n.journal = journal
		emitters = append(emitters, journal)
	}

	manager, err := flashloan.NewManager(backend, flashloan.Options{
		Pool:           cfg.PoolAddress(),
		FeeBeneficiary: cfg.FeeBeneficiary(),
		Admins:         flashloan.NewStaticAdmins(cfg.AdminAddresses()...),
		Emitter:        emitters,
		Metrics:        metrics.NewPoolMetrics(n.registry, namespace),
	}, logger.Named("pool"))
	if err != nil {
		n.closeJournal()
		return nil, fmt.Errorf("failed to create pool manager: %w", err)
	}
	n.manager = manager

	if err := n.bootstrap(); err != nil {
		n.closeJournal()
		return nil, err
	}

	if cfg.API.Enabled {
		var gatherer prometheus.Gatherer
		if cfg.Metrics.Enabled {
			gatherer = n.registry
		}
		server, err := api.NewServer(manager, cfg.API, metrics.NewHTTPMetrics(n.registry, namespace), gatherer, logger.Named("api"))
		if err != nil {
			n.closeJournal()
			return nil, fmt.Errorf("failed to create api server: %w", err)
		}
		n.server = server
	}

	return n, nil
}

// JournalConfig maps the audit section onto the journal's settings.
func JournalConfig(cfg config.AuditConfig) audit.JournalConfig {
	return audit.JournalConfig{
		Dir:              cfg.JournalDir,
		SegmentThreshold: cfg.SegmentThreshold,
		MaxSegments:      cfg.MaxSegments,
		Sync:             cfg.Sync,
	}
}

// bootstrap applies the configured assets and callers to a fresh store.
// Once the store holds state, admin operations own the registry and the
// config is not re-applied.
func (n *Node) bootstrap() error {
	fresh, err := isEmpty(n.backend)
	if err != nil {
		return fmt.Errorf("failed to inspect store: %w", err)
	}
	if !fresh {
		n.logger.Debug("Store already initialized, skipping bootstrap")
		return nil
	}
	listings, err := n.cfg.Listings()
	if err != nil {
		return fmt.Errorf("invalid asset configuration: %w", err)
	}
	callers := n.cfg.CallerAddresses()
	if len(listings) == 0 && len(callers) == 0 {
		return nil
	}
	if err := n.manager.Bootstrap(n.Admin(), listings, callers); err != nil {
		return fmt.Errorf("failed to bootstrap pool: %w", err)
	}
	n.logger.Info("Pool bootstrapped",
		zap.Stringer("pool", n.manager.Pool()),
		zap.Int("assets", len(listings)),
		zap.Int("callers", len(callers)))
	return nil
}

func isEmpty(backend store.Backend) (bool, error) {
	empty := true
	err := backend.Iterate(nil, func(_, _ []byte) bool {
		empty = false
		return false
	})
	return empty, err
}

// Start runs the API and the pool monitor in the background until ctx is
// done.
func (n *Node) Start(ctx context.Context) error {
	n.logger.Info("Starting flash loan pool",
		zap.Stringer("pool", n.manager.Pool()),
		zap.String("store", n.cfg.Store.Backend))

	if n.cfg.Metrics.Enabled && n.cfg.Metrics.SampleInterval > 0 {
		// The monitor follows the registry; configured assets stay watched
		// even after they are delisted.
		listings, err := n.cfg.Listings()
		if err != nil {
			return err
		}
		assets := make([]common.Address, 0, len(listings))
		for _, l := range listings {
			assets = append(assets, l.Asset)
		}
		n.monitor = monitor.NewPoolMonitor(ctx, n.manager, assets, n.registry,
			n.namespace(), n.cfg.Metrics.SampleInterval, n.logger.Named("monitor"))
		n.monitor.Start()
	}

	if n.server == nil {
		return nil
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.server.Run(ctx); err != nil {
			n.logger.Error("API server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop waits for background work and closes the journal and store.
func (n *Node) Stop() error {
	n.logger.Info("Stopping flash loan pool")
	if n.monitor != nil {
		n.monitor.Cleanup()
	}
	n.wg.Wait()
	n.closeJournal()
	if err := n.backend.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func (n *Node) closeJournal() {
	if n.journal == nil {
		return
	}
	if err := n.journal.Close(); err != nil {
		n.logger.Warn("Failed to close audit journal", zap.Error(err))
	}
	n.journal = nil
}

func (n *Node) namespace() string {
	if n.cfg.Metrics.Namespace == "" {
		return metrics.DefaultNamespace
	}
	return n.cfg.Metrics.Namespace
}

func (n *Node) Manager() *flashloan.Manager {
	return n.manager
}

// Journal is nil unless the audit journal is enabled.
func (n *Node) Journal() *audit.Journal {
	return n.journal
}

func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// Server is nil when the API is disabled.
func (n *Node) Server() *api.Server {
	return n.server
}

// Admin returns the first configured admin, or the zero address.
func (n *Node) Admin() common.Address {
	admins := n.cfg.AdminAddresses()
	if len(admins) == 0 {
		return common.Address{}
	}
	return admins[0]
}
