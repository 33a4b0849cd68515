package seed

import (
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/Simplici0/foodcost/internal/program"
)

// Config contains the values required by startup seed.
type Config struct {
	AdminEmail    string
	AdminPassword string
	Compositions  map[program.ID]program.Composition
	FixedPrice    []program.ID
}

// DefaultConfig seeds the standard program compositions.
func DefaultConfig(adminEmail, adminPassword string) Config {
	return Config{
		AdminEmail:    adminEmail,
		AdminPassword: adminPassword,
		Compositions:  program.DefaultCompositions(),
		FixedPrice:    []program.ID{program.BP},
	}
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run executes the startup seed in an idempotent way. Existing program rows
// are left untouched so operator edits survive restarts.
func Run(db *sql.DB, cfg Config) (Stats, error) {
	tx, err := db.Begin()
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	if err := seedAdmin(tx, cfg.AdminEmail, cfg.AdminPassword, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}

	fixed := make(map[program.ID]bool, len(cfg.FixedPrice))
	for _, id := range cfg.FixedPrice {
		fixed[id] = true
	}
	for _, id := range program.NewModel(cfg.Compositions).IDs() {
		if err := ensureProgram(tx, id, cfg.Compositions[id], fixed[id], &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func seedAdmin(tx *sql.Tx, email, password string, stats *Stats) error {
	if email == "" || password == "" {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE email = ? LIMIT 1)`, email).Scan(&exists); err != nil {
		return fmt.Errorf("check admin user existence: %w", err)
	}
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO users (email, password_hash) VALUES (?, ?)`, email, string(hash)); err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}
	stats.Inserts++
	return nil
}

func ensureProgram(tx *sql.Tx, id program.ID, c program.Composition, fixedPrice bool, stats *Stats) error {
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM programs WHERE code = ? LIMIT 1)`, string(id)).Scan(&exists); err != nil {
		return fmt.Errorf("check program %s existence: %w", id, err)
	}
	if exists {
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO programs (code, produce_units, purchased_units, donated_units, fixed_purchase_price)
		VALUES (?, ?, ?, ?, ?)
	`, string(id), nullable(c.Produce), nullable(c.Purchased), nullable(c.Donated), fixedPrice); err != nil {
		return fmt.Errorf("insert program %s: %w", id, err)
	}
	stats.Inserts++
	return nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
