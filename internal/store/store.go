package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Simplici0/foodcost/internal/calibration"
	"github.com/Simplici0/foodcost/internal/db"
	"github.com/Simplici0/foodcost/internal/history"
	"github.com/Simplici0/foodcost/internal/pricing"
	"github.com/Simplici0/foodcost/internal/program"
)

// timeLayout keeps stored timestamps sortable by SQLite datetime().
const timeLayout = "2006-01-02 15:04:05"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store persists history, calibration runs and quotes in SQLite.
type Store struct {
	db *sql.DB
}

// New wraps an open, migrated database.
func New(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// ReplaceHistory swaps the whole historical dataset in one transaction.
func (s *Store) ReplaceHistory(ctx context.Context, records []history.Record) error {
	return db.InTx(ctx, s.db, func(tx *sql.Tx) error {
		return replaceHistory(ctx, tx, records)
	})
}

// ImportHistory replaces the historical dataset and stores the calibration
// run computed from it in one transaction, so stored history never outruns
// stored prices.
func (s *Store) ImportHistory(ctx context.Context, records []history.Record, snap *calibration.Snapshot) error {
	return db.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := replaceHistory(ctx, tx, records); err != nil {
			return err
		}
		return saveCalibration(ctx, tx, snap)
	})
}

func replaceHistory(ctx context.Context, tx *sql.Tx, records []history.Record) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_records`); err != nil {
		return fmt.Errorf("clear history records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO history_records (program, cost, weight) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, string(rec.Program), rec.Cost, rec.Weight); err != nil {
			return fmt.Errorf("insert history record: %w", err)
		}
	}
	return nil
}

// ListHistory returns records in import order.
func (s *Store) ListHistory(ctx context.Context) ([]history.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT program, cost, weight FROM history_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query history records: %w", err)
	}
	defer rows.Close()

	records := make([]history.Record, 0)
	for rows.Next() {
		var rec history.Record
		var code string
		if err := rows.Scan(&code, &rec.Cost, &rec.Weight); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		rec.Program = program.ID(code)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history records: %w", err)
	}
	return records, nil
}

// LoadModel builds the composition model from the programs table.
func (s *Store) LoadModel(ctx context.Context) (program.Model, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, produce_units, purchased_units, donated_units, fixed_purchase_price
		FROM programs
		ORDER BY code
	`)
	if err != nil {
		return program.Model{}, fmt.Errorf("query programs: %w", err)
	}
	defer rows.Close()

	compositions := make(map[program.ID]program.Composition)
	var fixed []program.ID
	for rows.Next() {
		var code string
		var produce, purchased, donated sql.NullFloat64
		var fixedPrice bool
		if err := rows.Scan(&code, &produce, &purchased, &donated, &fixedPrice); err != nil {
			return program.Model{}, fmt.Errorf("scan program: %w", err)
		}
		id := program.ID(code)
		compositions[id] = program.Composition{
			Produce:   nullablePtr(produce),
			Purchased: nullablePtr(purchased),
			Donated:   nullablePtr(donated),
		}
		if fixedPrice {
			fixed = append(fixed, id)
		}
	}
	if err := rows.Err(); err != nil {
		return program.Model{}, fmt.Errorf("iterate programs: %w", err)
	}
	if len(compositions) == 0 {
		return program.Model{}, fmt.Errorf("programs table is empty: %w", ErrNotFound)
	}
	return program.NewModel(compositions, fixed...), nil
}

func nullablePtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// SaveCalibration stores a run and its finalized table.
func (s *Store) SaveCalibration(ctx context.Context, snap *calibration.Snapshot) error {
	return db.InTx(ctx, s.db, func(tx *sql.Tx) error {
		return saveCalibration(ctx, tx, snap)
	})
}

func saveCalibration(ctx context.Context, tx *sql.Tx, snap *calibration.Snapshot) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calibration_runs (id, profile, record_count, created_at)
		VALUES (?, ?, ?, ?)
	`, snap.ID.String(), snap.Profile, snap.RecordCount, snap.CreatedAt.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("insert calibration run: %w", err)
	}

	for _, row := range snap.Table.Rows() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cost_estimates (
				run_id, program, produce_price, purchased_price, donated_price, produce_source, purchased_source
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, snap.ID.String(), string(row.Program), row.Produce, row.Purchased, row.Donated,
			string(row.ProduceSource), string(row.PurchasedSource)); err != nil {
			return fmt.Errorf("insert cost estimate for %s: %w", row.Program, err)
		}
	}
	return nil
}

// CalibrationRun is a stored run with its price table.
type CalibrationRun struct {
	ID          uuid.UUID                   `json:"id"`
	Profile     string                      `json:"profile"`
	RecordCount int                         `json:"record_count"`
	CreatedAt   time.Time                   `json:"created_at"`
	Prices      []calibration.ChannelPrices `json:"prices"`
}

// LatestCalibration returns the most recent stored run.
func (s *Store) LatestCalibration(ctx context.Context) (CalibrationRun, error) {
	var run CalibrationRun
	var id, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, profile, record_count, created_at
		FROM calibration_runs
		ORDER BY datetime(created_at) DESC, rowid DESC
		LIMIT 1
	`).Scan(&id, &run.Profile, &run.RecordCount, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CalibrationRun{}, fmt.Errorf("latest calibration: %w", ErrNotFound)
		}
		return CalibrationRun{}, fmt.Errorf("query latest calibration: %w", err)
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return CalibrationRun{}, fmt.Errorf("parse calibration id: %w", err)
	}
	if run.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return CalibrationRun{}, fmt.Errorf("parse calibration time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT program, produce_price, purchased_price, donated_price, produce_source, purchased_source
		FROM cost_estimates
		WHERE run_id = ?
		ORDER BY program
	`, id)
	if err != nil {
		return CalibrationRun{}, fmt.Errorf("query cost estimates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p calibration.ChannelPrices
		var code, produceSource, purchasedSource string
		if err := rows.Scan(&code, &p.Produce, &p.Purchased, &p.Donated, &produceSource, &purchasedSource); err != nil {
			return CalibrationRun{}, fmt.Errorf("scan cost estimate: %w", err)
		}
		p.Program = program.ID(code)
		p.ProduceSource = calibration.Source(produceSource)
		p.PurchasedSource = calibration.Source(purchasedSource)
		run.Prices = append(run.Prices, p)
	}
	if err := rows.Err(); err != nil {
		return CalibrationRun{}, fmt.Errorf("iterate cost estimates: %w", err)
	}
	return run, nil
}

// Quote is one evaluated delivery scenario.
type Quote struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	Profile    string
	SnapshotID uuid.UUID
	Scenario   pricing.Scenario
	Result     pricing.Result
}

// QuoteListItem is the summary row of a stored quote.
type QuoteListItem struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Program      string    `json:"program"`
	Profile      string    `json:"profile"`
	DeliveryCost float64   `json:"delivery_cost"`
	Total        float64   `json:"total"`
}

// SaveQuote stores q; a zero ID or time is filled in.
func (s *Store) SaveQuote(ctx context.Context, q *Quote) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}

	scenarioJSON, err := json.Marshal(q.Scenario)
	if err != nil {
		return fmt.Errorf("encode quote scenario: %w", err)
	}
	totalsJSON, err := json.Marshal(quoteTotals(q.Result))
	if err != nil {
		return fmt.Errorf("encode quote totals: %w", err)
	}

	var snapshotID any
	if q.SnapshotID != uuid.Nil {
		snapshotID = q.SnapshotID.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quotes (id, created_at, program, profile, snapshot_id, scenario_json, totals_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, q.ID.String(), q.CreatedAt.UTC().Format(timeLayout), string(q.Scenario.Program), q.Profile,
		snapshotID, string(scenarioJSON), string(totalsJSON))
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

func quoteTotals(r pricing.Result) map[string]float64 {
	totals := map[string]float64{
		"total_lbs":       r.Breakdown.TotalLbs,
		"base_food_cost":  r.Breakdown.BaseFoodCost,
		"fixed_cost":      r.Breakdown.FixedCost,
		"transport_cost":  r.Breakdown.TransportCost,
		"delivery_cost":   r.Breakdown.DeliveryCost,
		"produce_price":   r.Prices.Produce,
		"purchased_price": r.Prices.Purchased,
		"donated_price":   r.Prices.Donated,
		"total":           r.Breakdown.DeliveryCost,
	}
	if r.Annual != nil {
		totals["annual_total"] = r.Annual.TotalCost
		totals["annual_lbs"] = r.Annual.TotalLbs
		totals["total"] = r.Annual.TotalCost
	}
	return totals
}

// ListQuotes returns quotes newest first, optionally filtered by program.
func (s *Store) ListQuotes(ctx context.Context, programCode string) ([]QuoteListItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, program, profile, totals_json
		FROM quotes
		WHERE (? = '' OR program = ?)
		ORDER BY datetime(created_at) DESC, rowid DESC
	`, programCode, programCode)
	if err != nil {
		return nil, fmt.Errorf("query quotes: %w", err)
	}
	defer rows.Close()

	quotes := make([]QuoteListItem, 0)
	for rows.Next() {
		var item QuoteListItem
		var createdAt, totalsJSON string
		if err := rows.Scan(&item.ID, &createdAt, &item.Program, &item.Profile, &totalsJSON); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		if item.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse quote time: %w", err)
		}
		item.DeliveryCost = extractTotal(totalsJSON, "delivery_cost")
		item.Total = extractTotal(totalsJSON, "total", "annual_total", "delivery_cost")
		quotes = append(quotes, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return quotes, nil
}

func extractTotal(totalsJSON string, keys ...string) float64 {
	var values map[string]float64
	if err := json.Unmarshal([]byte(totalsJSON), &values); err != nil {
		return 0
	}
	for _, key := range keys {
		if total, ok := values[key]; ok {
			return total
		}
	}
	return 0
}
