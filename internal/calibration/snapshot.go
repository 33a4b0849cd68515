package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Simplici0/foodcost/internal/history"
	"github.com/Simplici0/foodcost/internal/program"
)

// ErrNoSnapshot is returned before the first calibration is published.
var ErrNoSnapshot = errors.New("no calibration snapshot published")

// Snapshot is the immutable output of one calibration run.
type Snapshot struct {
	ID          uuid.UUID           `json:"id"`
	CreatedAt   time.Time           `json:"created_at"`
	Profile     string              `json:"profile"`
	RecordCount int                 `json:"record_count"`
	Aggregates  []history.Aggregate `json:"aggregates"`
	Estimates   []Estimate          `json:"estimates"`
	Table       Table               `json:"-"`
}

// Calibrator runs the aggregate, solve and finalize pipeline.
type Calibrator struct {
	Model   program.Model
	Params  Params
	Profile string

	now   func() time.Time
	newID func() uuid.UUID
}

// NewCalibrator returns a Calibrator for model and params.
func NewCalibrator(model program.Model, params Params, profile string) *Calibrator {
	return &Calibrator{
		Model:   model,
		Params:  params,
		Profile: profile,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// Run is a pure transform of records; identical input yields identical
// aggregates, estimates and table.
func (c *Calibrator) Run(records []history.Record) *Snapshot {
	aggs := history.AggregateRecords(records, c.Model, c.Params.CostFloor)

	estimates := make([]Estimate, 0, len(aggs))
	for _, agg := range aggs {
		p, _ := c.Model.Get(agg.Program)
		estimates = append(estimates, Solve(agg, p.FixedPurchasePrice, c.Params))
	}

	return &Snapshot{
		ID:          c.newID(),
		CreatedAt:   c.now().UTC(),
		Profile:     c.Profile,
		RecordCount: len(records),
		Aggregates:  aggs,
		Estimates:   estimates,
		Table:       Finalize(c.Model, estimates, c.Params),
	}
}

// Publisher holds the current snapshot. Readers never observe a partially
// built table.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// Publish replaces the current snapshot.
func (p *Publisher) Publish(s *Snapshot) {
	p.current.Store(s)
}

// Current returns the published snapshot.
func (p *Publisher) Current() (*Snapshot, error) {
	s := p.current.Load()
	if s == nil {
		return nil, ErrNoSnapshot
	}
	return s, nil
}

// RecordSource supplies the historical records to calibrate from.
type RecordSource interface {
	ListHistory(ctx context.Context) ([]history.Record, error)
}

// SnapshotSink persists a calibration run.
type SnapshotSink interface {
	SaveCalibration(ctx context.Context, s *Snapshot) error
}

// HistoryImporter atomically replaces stored history together with the
// calibration run derived from it.
type HistoryImporter interface {
	ImportHistory(ctx context.Context, records []history.Record, s *Snapshot) error
}

// Service recalibrates from a source and publishes the result.
type Service struct {
	calibrator *Calibrator
	source     RecordSource
	sink       SnapshotSink
	publisher  *Publisher

	mu sync.Mutex
}

// NewService wires a calibrator to its source. sink may be nil.
func NewService(c *Calibrator, source RecordSource, sink SnapshotSink) *Service {
	return &Service{
		calibrator: c,
		source:     source,
		sink:       sink,
		publisher:  &Publisher{},
	}
}

// Publisher exposes the read side.
func (s *Service) Publisher() *Publisher { return s.publisher }

// Refresh loads history, recalibrates, persists and publishes. Concurrent
// calls are serialized; readers keep the previous snapshot until the swap.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.source.ListHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	snap := s.calibrator.Run(records)
	if s.sink != nil {
		if err := s.sink.SaveCalibration(ctx, snap); err != nil {
			return nil, fmt.Errorf("save calibration: %w", err)
		}
	}
	s.publisher.Publish(snap)

	log.Info().
		Str("snapshot_id", snap.ID.String()).
		Str("profile", snap.Profile).
		Int("records", snap.RecordCount).
		Int("programs", len(snap.Aggregates)).
		Msg("calibration published")

	return snap, nil
}

// Import calibrates records, persists them with the resulting run through
// importer, and publishes only once both are stored. On error neither the
// stored history nor the published snapshot changes.
func (s *Service) Import(ctx context.Context, records []history.Record, importer HistoryImporter) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.calibrator.Run(records)
	if err := importer.ImportHistory(ctx, records, snap); err != nil {
		return nil, fmt.Errorf("import history: %w", err)
	}
	s.publisher.Publish(snap)

	log.Info().
		Str("snapshot_id", snap.ID.String()).
		Str("profile", snap.Profile).
		Int("records", snap.RecordCount).
		Msg("history imported and calibration published")

	return snap, nil
}
