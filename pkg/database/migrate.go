package database

import (
	"database/sql"
	"sort"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
)

// Migration is one forward-only schema change, identified by a
// monotonically assigned revision token (the Go analogue of the
// original's Alembic revision chain).
type Migration struct {
	Revision string
	Apply    func(tx *sql.Tx) error
}

// migrations is the ordered, forward-only revision chain. Empty today
// because the base schema already reflects the current shape; future
// schema changes are appended here, never edited in place.
var migrations []Migration

// Migrate creates the schema_migrations bookkeeping table and applies any
// migration not yet recorded as run, in order, each in its own
// transaction.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (revision TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "creating schema_migrations table")
	}

	applied := make(map[string]bool)
	rows, err := db.Query(`SELECT revision FROM schema_migrations`)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "reading schema_migrations")
	}
	for rows.Next() {
		var revision string
		if err := rows.Scan(&revision); err != nil {
			rows.Close()
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "scanning schema_migrations")
		}
		applied[revision] = true
	}
	rows.Close()

	ordered := append([]Migration(nil), migrations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Revision < ordered[j].Revision })

	for _, m := range ordered {
		if applied[m.Revision] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "beginning migration %s", m.Revision)
		}
		if err := m.Apply(tx); err != nil {
			tx.Rollback()
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "applying migration %s", m.Revision)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (revision, applied_at) VALUES (?, datetime('now'))`, m.Revision); err != nil {
			tx.Rollback()
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "recording migration %s", m.Revision)
		}
		if err := tx.Commit(); err != nil {
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "committing migration %s", m.Revision)
		}
	}
	return nil
}
