// Package database is blockvault's relational metadata store: storages,
// versions, blocks, labels, deleted_blocks, and locks, over
// database/sql with the mattn/go-sqlite3 driver. Transaction boundaries
// follow the design directly: batched block-row commits during backup,
// an atomic status flip to valid, a single cascading transaction on
// version removal, and a scan transaction for GC sweeps.
package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
)

// Status is a version's lifecycle state.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusValid      Status = "valid"
	StatusInvalid    Status = "invalid"
)

// Version is the database's row shape for a backup version.
type Version struct {
	UID               string
	Volume            string
	Snapshot          string
	Date              time.Time
	Size              int64
	BlockSize         int
	StorageID         int
	Status            Status
	Protected         bool
	BytesRead         int64
	BytesWritten      int64
	BytesDeduplicated int64
	BytesSparse       int64
	Duration          float64
	Labels            map[string]string
}

// Block is a version's reference to a stored (or sparse) object.
type Block struct {
	VersionUID string
	Idx        int64
	UID        *blockhash.UID // nil if sparse
	Checksum   string         // empty if sparse
	Size       int
}

// DeletedBlock is a GC candidate: the last live reference to uid was
// just removed.
type DeletedBlock struct {
	ID        int64
	StorageID int
	UID       blockhash.UID
	Date      time.Time
}

// DB wraps the underlying SQL connection pool with blockvault's schema
// and transactional operations.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) a sqlite database at dsn and
// ensures its schema is current.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "opening database %s", dsn)
	}
	conn.SetMaxOpenConns(1) // sqlite: one writer at a time

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "creating schema")
	}
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{sql: conn}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error { return db.sql.Close() }

// EnsureStorage inserts name into the storages registry if absent and
// returns its id.
func (db *DB) EnsureStorage(ctx context.Context, name string) (int, error) {
	var id int
	err := db.sql.QueryRowContext(ctx, `SELECT id FROM storages WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "looking up storage %s", name)
	}

	res, err := db.sql.ExecContext(ctx, `INSERT INTO storages (name) VALUES (?)`, name)
	if err != nil {
		return 0, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "registering storage %s", name)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "reading storage id for %s", name)
	}
	return int(lastID), nil
}

// CreateVersion inserts a new version row with status incomplete, in its
// own transaction, under the UID the caller supplied in v.
func (db *DB) CreateVersion(ctx context.Context, v Version) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "beginning create-version transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (uid, volume, snapshot, date, size, block_size, storage_id, status, protected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.UID, v.Volume, v.Snapshot, v.Date.UTC().Format(time.RFC3339Nano), v.Size, v.BlockSize, v.StorageID, StatusIncomplete, boolToInt(v.Protected))
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "inserting version %s", v.UID)
	}

	for name, value := range v.Labels {
		if _, err := tx.ExecContext(ctx, `INSERT INTO labels (version_uid, name, value) VALUES (?, ?, ?)`, v.UID, name, value); err != nil {
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "inserting label %s for version %s", name, v.UID)
		}
	}

	return tx.Commit()
}

// CommitBlockBatch writes a chunk of block rows in one transaction, sized
// by the caller (spec recommends roughly 1k-10k rows) so progress
// survives a crash as incomplete.
func (db *DB) CommitBlockBatch(ctx context.Context, versionUID string, blocks []Block) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "beginning block-batch transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO blocks (version_uid, idx, uid_left, uid_right, checksum, size)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "preparing block insert")
	}
	defer stmt.Close()

	for _, b := range blocks {
		var left any
		var right any
		var checksum any
		if b.UID != nil {
			left, right = b.UID.Left, b.UID.Right
			checksum = b.Checksum
		}
		if _, err := stmt.ExecContext(ctx, versionUID, b.Idx, left, right, checksum, b.Size); err != nil {
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "inserting block %d of version %s", b.Idx, versionUID)
		}
	}

	return tx.Commit()
}

// CloneVersionBlocks copies every block row from baseVersionUID into
// newVersionUID, then deletes the clones at changedIdx so the backup
// loop's own inserts for those indices don't collide with the (version_uid,
// idx) primary key. Used to seed a differential backup: the base's
// unchanged references carry over untouched, and only the changed set is
// re-read and re-inserted by the caller.
func (db *DB) CloneVersionBlocks(ctx context.Context, baseVersionUID, newVersionUID string, changedIdx []int64) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "beginning block-clone transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (version_uid, idx, uid_left, uid_right, checksum, size)
		SELECT ?, idx, uid_left, uid_right, checksum, size FROM blocks WHERE version_uid = ?`,
		newVersionUID, baseVersionUID,
	); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "cloning blocks from version %s", baseVersionUID)
	}

	del, err := tx.PrepareContext(ctx, `DELETE FROM blocks WHERE version_uid = ? AND idx = ?`)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "preparing clone-overwrite delete")
	}
	defer del.Close()
	for _, idx := range changedIdx {
		if _, err := del.ExecContext(ctx, newVersionUID, idx); err != nil {
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "removing cloned block %d ahead of re-write", idx)
		}
	}

	return tx.Commit()
}

// FindBlockByChecksum returns the uid already stored for checksum within
// storageID, if any, so the caller can record a deduplicated reference
// instead of writing a new object.
func (db *DB) FindBlockByChecksum(ctx context.Context, storageID int, checksum string) (blockhash.UID, bool, error) {
	row := db.sql.QueryRowContext(ctx, `
		SELECT b.uid_left, b.uid_right
		FROM blocks b
		JOIN versions v ON v.uid = b.version_uid
		WHERE v.storage_id = ? AND b.checksum = ?
		LIMIT 1`, storageID, checksum)

	var left uint32
	var right uint64
	if err := row.Scan(&left, &right); err != nil {
		if err == sql.ErrNoRows {
			return blockhash.UID{}, false, nil
		}
		return blockhash.UID{}, false, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "looking up checksum %s", checksum)
	}
	return blockhash.UID{Left: left, Right: right}, true, nil
}

// FinalizeVersion flips a version's status to valid and records its final
// counters, as its own transaction per the ordering guarantee that
// incomplete -> valid is only observable once every block row is
// committed.
func (db *DB) FinalizeVersion(ctx context.Context, versionUID string, counters Version) error {
	_, err := db.sql.ExecContext(ctx, `
		UPDATE versions
		SET status = ?, bytes_read = ?, bytes_written = ?, bytes_deduplicated = ?, bytes_sparse = ?, duration = ?
		WHERE uid = ?`,
		StatusValid, counters.BytesRead, counters.BytesWritten, counters.BytesDeduplicated, counters.BytesSparse, counters.Duration, versionUID)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "finalizing version %s", versionUID)
	}
	return nil
}

// MarkInvalid transitions a version to invalid, e.g. after a failed
// scrub or restore verification.
func (db *DB) MarkInvalid(ctx context.Context, versionUID string) error {
	_, err := db.sql.ExecContext(ctx, `UPDATE versions SET status = ? WHERE uid = ?`, StatusInvalid, versionUID)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "marking version %s invalid", versionUID)
	}
	return nil
}

// GetVersion loads a version row and its labels.
func (db *DB) GetVersion(ctx context.Context, versionUID string) (Version, error) {
	row := db.sql.QueryRowContext(ctx, `
		SELECT uid, volume, snapshot, date, size, block_size, storage_id, status, protected,
		       bytes_read, bytes_written, bytes_deduplicated, bytes_sparse, duration
		FROM versions WHERE uid = ?`, versionUID)

	v, err := scanVersion(row)
	if err != nil {
		return Version{}, err
	}

	labels, err := db.versionLabels(ctx, versionUID)
	if err != nil {
		return Version{}, err
	}
	v.Labels = labels
	return v, nil
}

func (db *DB) versionLabels(ctx context.Context, versionUID string) (map[string]string, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT name, value FROM labels WHERE version_uid = ?`, versionUID)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "loading labels for version %s", versionUID)
	}
	defer rows.Close()

	labels := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "scanning label for version %s", versionUID)
		}
		labels[name] = value
	}
	return labels, nil
}

// ListVersions returns versions for a volume (all volumes if empty),
// most recent first.
func (db *DB) ListVersions(ctx context.Context, volume string) ([]Version, error) {
	var rows *sql.Rows
	var err error
	query := `
		SELECT uid, volume, snapshot, date, size, block_size, storage_id, status, protected,
		       bytes_read, bytes_written, bytes_deduplicated, bytes_sparse, duration
		FROM versions`
	if volume != "" {
		rows, err = db.sql.QueryContext(ctx, query+` WHERE volume = ? ORDER BY date DESC`, volume)
	} else {
		rows, err = db.sql.QueryContext(ctx, query+` ORDER BY date DESC`)
	}
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "listing versions")
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// ListBlocks returns every block row for a version, ordered by idx.
func (db *DB) ListBlocks(ctx context.Context, versionUID string) ([]Block, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT version_uid, idx, uid_left, uid_right, checksum, size
		FROM blocks WHERE version_uid = ? ORDER BY idx`, versionUID)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "listing blocks for version %s", versionUID)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		var left, right sql.NullInt64
		var checksum sql.NullString
		if err := rows.Scan(&b.VersionUID, &b.Idx, &left, &right, &checksum, &b.Size); err != nil {
			return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "scanning block row")
		}
		if left.Valid && right.Valid {
			b.UID = &blockhash.UID{Left: uint32(left.Int64), Right: uint64(right.Int64)}
			b.Checksum = checksum.String
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// RemoveVersion deletes a version and its block/label rows and enqueues
// its non-sparse block uids into deleted_blocks, all in one transaction.
// A protected version is refused.
func (db *DB) RemoveVersion(ctx context.Context, versionUID string) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "beginning remove-version transaction")
	}
	defer tx.Rollback()

	var protected bool
	var protectedInt int
	var storageID int
	err = tx.QueryRowContext(ctx, `SELECT protected, storage_id FROM versions WHERE uid = ?`, versionUID).Scan(&protectedInt, &storageID)
	if err == sql.ErrNoRows {
		return blockvaulterrors.Usagef("version %s does not exist", versionUID)
	}
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "looking up version %s", versionUID)
	}
	protected = protectedInt != 0
	if protected {
		return blockvaulterrors.Usagef("version %s is protected and cannot be removed", versionUID)
	}

	rows, err := tx.QueryContext(ctx, `SELECT uid_left, uid_right FROM blocks WHERE version_uid = ? AND uid_left IS NOT NULL`, versionUID)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "reading blocks of version %s", versionUID)
	}
	var uids []blockhash.UID
	for rows.Next() {
		var left uint32
		var right uint64
		if err := rows.Scan(&left, &right); err != nil {
			rows.Close()
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "scanning block uid")
		}
		uids = append(uids, blockhash.UID{Left: left, Right: right})
	}
	rows.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, uid := range uids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deleted_blocks (storage_id, uid_left, uid_right, date) VALUES (?, ?, ?, ?)`,
			storageID, uid.Left, uid.Right, now); err != nil {
			return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "enqueueing deleted block %s", uid)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE version_uid = ?`, versionUID); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "deleting labels of version %s", versionUID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE version_uid = ?`, versionUID); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "deleting blocks of version %s", versionUID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE uid = ?`, versionUID); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "deleting version %s", versionUID)
	}

	return tx.Commit()
}

// PendingDeletedBlocks returns deleted_blocks rows older than olderThan,
// up to limit rows, for a GC sweep.
func (db *DB) PendingDeletedBlocks(ctx context.Context, olderThan time.Time, limit int) ([]DeletedBlock, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT id, storage_id, uid_left, uid_right, date
		FROM deleted_blocks WHERE date < ? ORDER BY id LIMIT ?`,
		olderThan.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "reading pending deleted blocks")
	}
	defer rows.Close()

	var out []DeletedBlock
	for rows.Next() {
		var d DeletedBlock
		var left, right int64
		var dateStr string
		if err := rows.Scan(&d.ID, &d.StorageID, &left, &right, &dateStr); err != nil {
			return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "scanning deleted block row")
		}
		d.UID = blockhash.UID{Left: uint32(left), Right: uint64(right)}
		d.Date, _ = time.Parse(time.RFC3339Nano, dateStr)
		out = append(out, d)
	}
	return out, nil
}

// HasLiveReference reports whether any block row in storageID still
// references uid, used by a GC sweep to decide whether to physically
// delete the object.
func (db *DB) HasLiveReference(ctx context.Context, tx *sql.Tx, storageID int, uid blockhash.UID) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM blocks b
		JOIN versions v ON v.uid = b.version_uid
		WHERE v.storage_id = ? AND b.uid_left = ? AND b.uid_right = ?`,
		storageID, uid.Left, uid.Right).Scan(&count)
	if err != nil {
		return false, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "checking live reference for %s", uid)
	}
	return count > 0, nil
}

// BeginTx starts a transaction for callers (e.g. GC) that need to compose
// several statements atomically.
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "beginning transaction")
	}
	return tx, nil
}

// DeleteDeletedBlockRow removes a single deleted_blocks queue row within
// an existing transaction (the caller has already decided whether the
// underlying object was also physically removed).
func (db *DB) DeleteDeletedBlockRow(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM deleted_blocks WHERE id = ?`, id); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "deleting deleted_blocks row %d", id)
	}
	return nil
}

// AcquireLock inserts a lock row; a duplicate primary key signals
// AlreadyLocked.
func (db *DB) AcquireLock(ctx context.Context, lockName, host string, processID int, reason string) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO locks (lock_name, host, process_id, reason, date) VALUES (?, ?, ?, ?, ?)`,
		lockName, host, processID, reason, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return blockvaulterrors.AlreadyLockedf("lock %q is already held", lockName)
		}
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "acquiring lock %q", lockName)
	}
	return nil
}

// ReleaseLock deletes a lock row.
func (db *DB) ReleaseLock(ctx context.Context, lockName string) error {
	if _, err := db.sql.ExecContext(ctx, `DELETE FROM locks WHERE lock_name = ?`, lockName); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "releasing lock %q", lockName)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (Version, error) {
	var v Version
	var dateStr string
	var status string
	var protectedInt int
	if err := row.Scan(&v.UID, &v.Volume, &v.Snapshot, &dateStr, &v.Size, &v.BlockSize, &v.StorageID,
		&status, &protectedInt, &v.BytesRead, &v.BytesWritten, &v.BytesDeduplicated, &v.BytesSparse, &v.Duration); err != nil {
		if err == sql.ErrNoRows {
			return Version{}, blockvaulterrors.Usagef("version not found")
		}
		return Version{}, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "scanning version row")
	}
	v.Status = Status(status)
	v.Protected = protectedInt != 0
	v.Date, _ = time.Parse(time.RFC3339Nano, dateStr)
	return v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
