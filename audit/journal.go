package audit

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"
)

const (
	DefaultJournalDir = "./wal/audit"
	journalPrefix     = "audit_"
	segmentLimit      = 100
	maxSegments       = 10
)

// Record is an event as persisted in the journal.
type Record struct {
	Index uint64            `json:"index"`
	Type  string            `json:"type"`
	Attrs map[string]string `json:"attributes"`
}

func (r Record) EventType() string { return r.Type }

func (r Record) Attributes() map[string]string { return r.Attrs }

// JournalConfig configures the write-ahead log behind a Journal.
type JournalConfig struct {
	Dir              string
	SegmentThreshold int
	MaxSegments      int
	Sync             bool
}

// Journal appends committed events to a write-ahead log so the audit trail
// survives restarts.
type Journal struct {
	wal    *gowal.Wal
	logger *zap.Logger
	mu     sync.RWMutex
}

// OpenJournal initializes a WAL-backed journal.
func OpenJournal(cfg JournalConfig, logger *zap.Logger) (*Journal, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultJournalDir
	}
	if cfg.SegmentThreshold <= 0 {
		cfg.SegmentThreshold = segmentLimit
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = maxSegments
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              cfg.Dir,
		Prefix:           journalPrefix,
		SegmentThreshold: cfg.SegmentThreshold,
		MaxSegments:      cfg.MaxSegments,
		IsInSyncDiskMode: cfg.Sync,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init audit WAL")
	}

	return &Journal{wal: wal, logger: logger}, nil
}

// Append writes e to the log and returns its index.
func (j *Journal) Append(e Event) (uint64, error) {
	if j == nil || j.wal == nil {
		return 0, errors.New("audit journal is not initialized")
	}

	payload, err := json.Marshal(e.Attributes())
	if err != nil {
		return 0, errors.Wrap(err, "marshal audit event")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	idx := j.wal.CurrentIndex() + 1
	if err := j.wal.Write(idx, e.EventType(), payload); err != nil {
		return 0, errors.Wrapf(err, "append %s event", e.EventType())
	}
	return idx, nil
}

// Emit appends e and logs a failure instead of returning it. The state the
// event describes is already committed by the time it is emitted.
func (j *Journal) Emit(e Event) {
	if _, err := j.Append(e); err != nil {
		j.logger.Error("Failed to journal audit event",
			zap.String("type", e.EventType()),
			zap.Error(err))
	}
}

// Replay returns every record written after index.
func (j *Journal) Replay(after uint64) ([]Record, error) {
	if j == nil || j.wal == nil {
		return nil, errors.New("audit journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= after {
		return nil, nil
	}

	records := make([]Record, 0, current-after)
	for idx := after + 1; idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil {
			// Segments older than MaxSegments have been rotated away
			continue
		}

		var attrs map[string]string
		if err := json.Unmarshal(payload, &attrs); err != nil {
			return nil, errors.Wrapf(err, "decode audit record %d", idx)
		}
		records = append(records, Record{Index: idx, Type: key, Attrs: attrs})
	}
	return records, nil
}

// CurrentIndex returns the latest index written.
func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.wal.CurrentIndex()
}

func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return errors.New("audit journal is not initialized")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
