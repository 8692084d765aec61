package store

import (
	"github.com/pkg/errors"
)

// Migration is one ordered schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Decimal columns are TEXT so values round-trip exactly.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Settled matches and trade logs",
		SQL: `
		CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			seat_a TEXT NOT NULL,
			seat_b TEXT NOT NULL,
			stake TEXT NOT NULL,
			prize_pool TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL,
			assets TEXT NOT NULL,
			winner TEXT NOT NULL,
			value_a TEXT NOT NULL,
			value_b TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS match_trades (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL REFERENCES matches(id),
			player TEXT NOT NULL,
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			notional TEXT NOT NULL,
			executed_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_matches_ended ON matches(ended_at);
		CREATE INDEX IF NOT EXISTS idx_matches_seat_a ON matches(seat_a);
		CREATE INDEX IF NOT EXISTS idx_matches_seat_b ON matches(seat_b);
		CREATE INDEX IF NOT EXISTS idx_match_trades_match ON match_trades(match_id);
		`,
	},
	{
		Version:     2,
		Description: "Player records",
		SQL: `
		CREATE TABLE IF NOT EXISTS player_records (
			player TEXT PRIMARY KEY,
			matches_played INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			draws INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			total_pnl TEXT NOT NULL DEFAULT '0',
			current_streak INTEGER NOT NULL DEFAULT 0,
			best_streak INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_player_records_wins ON player_records(wins);
		`,
	},
}

func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (s *Store) currentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate applies every migration newer than the recorded version.
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return errors.Wrap(err, "init migrations table")
	}

	current, err := s.currentVersion()
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return errors.Wrapf(err, "migration %d (%s)", m.Version, m.Description)
		}
	}
	return nil
}

func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	return s.currentVersion()
}
