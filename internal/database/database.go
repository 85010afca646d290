package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Connect opens the database named by databaseURL. sqlite:// URLs use the
// embedded driver, postgres:// and postgresql:// URLs go through lib/pq.
func Connect(databaseURL string, log *zap.Logger) (*bun.DB, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return connectPostgres(databaseURL, log)
	default:
		return connectSQLite(strings.TrimPrefix(databaseURL, "sqlite://"), log)
	}
}

func connectSQLite(path string, log *zap.Logger) (*bun.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection keeps upserts serialized
	// and makes in-memory databases visible to every query.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to sqlite", zap.String("path", path))
	return db, nil
}

func connectPostgres(databaseURL string, log *zap.Logger) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to postgres")
	return db, nil
}

func Migrate(ctx context.Context, db *bun.DB, log *zap.Logger) error {
	log.Info("running database migrations")

	tables := []struct {
		model       interface{}
		foreignKeys []string
	}{
		{model: (*models.Party)(nil)},
		{
			model:       (*models.Compo)(nil),
			foreignKeys: []string{`("party_id") REFERENCES "parties" ("id") ON DELETE CASCADE`},
		},
		{
			model:       (*models.Entry)(nil),
			foreignKeys: []string{`("compo_id") REFERENCES "compos" ("id") ON DELETE CASCADE`},
		},
		{
			model:       (*models.VoteKey)(nil),
			foreignKeys: []string{`("party_id") REFERENCES "parties" ("id") ON DELETE CASCADE`},
		},
		{
			model: (*models.Vote)(nil),
			foreignKeys: []string{
				`("entry_id") REFERENCES "entries" ("id") ON DELETE CASCADE`,
				`("vote_key_id") REFERENCES "vote_keys" ("id") ON DELETE CASCADE`,
			},
		},
	}

	for _, t := range tables {
		q := db.NewCreateTable().
			Model(t.model).
			IfNotExists()
		for _, fk := range t.foreignKeys {
			q = q.ForeignKey(fk)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", t.model, err)
		}
	}

	indexes := []struct {
		name  string
		query string
	}{
		{
			"idx_parties_single_active",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_parties_single_active ON parties (is_active) WHERE is_active",
		},
		{
			"idx_compos_party_title",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_compos_party_title ON compos (party_id, title)",
		},
		{
			"idx_entries_compo_order",
			"CREATE INDEX IF NOT EXISTS idx_entries_compo_order ON entries (compo_id, sort_order)",
		},
		{
			"idx_vote_keys_unique",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_vote_keys_unique ON vote_keys (party_id, vote_key)",
		},
		{
			"idx_votes_unique",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_votes_unique ON votes (entry_id, vote_key_id)",
		},
		{
			"idx_votes_vote_key",
			"CREATE INDEX IF NOT EXISTS idx_votes_vote_key ON votes (vote_key_id)",
		},
	}

	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx.query); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	log.Info("migrations complete")
	return nil
}

// IsUniqueViolation reports whether err came from a unique constraint or
// unique index rejecting a write.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
