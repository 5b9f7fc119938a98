package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
	"github.com/obsenv/exposurelog/internal/search"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// development and tests; the tags and urls arrays are stored as JSON text
// and the tag-intersection filter uses json_each.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteMigrations mirrors the Postgres migration history; see
// postgresMigrations. exposure_flag is TEXT with a CHECK constraint since
// SQLite has no enum types.
var sqliteMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS message (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id          TEXT NOT NULL,
	obs_id           TEXT NOT NULL,
	instrument       TEXT NOT NULL,
	day_obs          INTEGER NOT NULL,
	message_text     TEXT NOT NULL,
	tags             TEXT NOT NULL DEFAULT '[]',
	user_id          TEXT NOT NULL,
	user_agent       TEXT NOT NULL,
	is_human         BOOLEAN NOT NULL,
	exposure_flag    TEXT NOT NULL DEFAULT 'none'
	                 CHECK (exposure_flag IN ('none', 'junk', 'questionable')),
	date_added       DATETIME NOT NULL,
	date_invalidated DATETIME,
	parent_id        INTEGER REFERENCES message(id),
	is_valid         BOOLEAN GENERATED ALWAYS AS (date_invalidated IS NULL) VIRTUAL
);

CREATE INDEX IF NOT EXISTS idx_message_obs_id ON message(obs_id);
CREATE INDEX IF NOT EXISTS idx_message_site_obs ON message(site_id, obs_id);
CREATE INDEX IF NOT EXISTS idx_message_instrument ON message(instrument);
CREATE INDEX IF NOT EXISTS idx_message_day_obs ON message(day_obs);
CREATE INDEX IF NOT EXISTS idx_message_user_id ON message(user_id);
CREATE INDEX IF NOT EXISTS idx_message_date_added ON message(date_added);
`,
	`
ALTER TABLE message ADD COLUMN level INTEGER NOT NULL DEFAULT 20;
ALTER TABLE message ADD COLUMN urls TEXT NOT NULL DEFAULT '[]';
`,
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	); err != nil {
		return eris.Wrap(err, "sqlite: create schema_version")
	}

	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return eris.Wrap(err, "sqlite: read schema version")
	}

	for v := version; v < len(sqliteMigrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrapf(err, "sqlite: begin migration to version %d", v+1)
		}
		if _, err := tx.ExecContext(ctx, sqliteMigrations[v]); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "sqlite: apply migration to version %d", v+1)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			_ = tx.Rollback()
			return eris.Wrap(err, "sqlite: clear schema_version")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, v+1); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "sqlite: record schema version %d", v+1)
		}
		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "sqlite: commit migration to version %d", v+1)
		}
	}
	return nil
}

func (s *SQLiteStore) CheckSchemaVersion(ctx context.Context) error {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if err != nil {
		return &errs.SchemaMismatchError{Have: 0, Want: requiredSchemaVersion}
	}
	if version != requiredSchemaVersion {
		return &errs.SchemaMismatchError{Have: version, Want: requiredSchemaVersion}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInsertMessage = `INSERT INTO message
	(site_id, obs_id, instrument, day_obs, message_text, level, tags, urls,
	 user_id, user_agent, is_human, exposure_flag, date_added, parent_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING ` + messageColumns

func (s *SQLiteStore) AddMessage(ctx context.Context, args AddMessageArgs) (*model.Message, error) {
	tags, err := args.Validate()
	if err != nil {
		return nil, err
	}
	tagsJSON, urlsJSON, err := encodeLists(tags, args.URLs)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	row := s.db.QueryRowContext(ctx, sqliteInsertMessage,
		args.SiteID, args.ObsID, args.Instrument, args.DayObs, args.MessageText,
		args.Level, tagsJSON, urlsJSON, args.UserID, args.UserAgent, args.IsHuman,
		string(args.ExposureFlag), now, nil,
	)
	msg, err := scanSQLiteMessage(row)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert message")
	}
	return msg, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message WHERE id = ?`, id)
	msg, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("message", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get message %d", id)
	}
	return msg, nil
}

func (s *SQLiteStore) EditMessage(ctx context.Context, id int64, args EditMessageArgs) (*model.Message, error) {
	tags, err := args.Validate()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin edit")
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message WHERE id = ?`, id)
	parent, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("message", id)
		}
		return nil, eris.Wrapf(err, "sqlite: load edit parent %d", id)
	}
	if parent.DateInvalidated != nil {
		return nil, &errs.ConflictError{ID: id}
	}

	child := args.apply(parent, tags)
	tagsJSON, urlsJSON, err := encodeLists(child.Tags, child.URLs)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	childRow := tx.QueryRowContext(ctx, sqliteInsertMessage,
		child.SiteID, child.ObsID, child.Instrument, child.DayObs, child.MessageText,
		child.Level, tagsJSON, urlsJSON, child.UserID, child.UserAgent,
		child.IsHuman, string(child.ExposureFlag), now, id,
	)
	inserted, err := scanSQLiteMessage(childRow)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert edit successor of %d", id)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE message SET date_invalidated = ? WHERE id = ? AND date_invalidated IS NULL`,
		now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: invalidate edit parent %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, &errs.ConflictError{ID: id}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: commit edit of %d", id)
	}
	return inserted, nil
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) (*model.Message, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx,
		`UPDATE message SET date_invalidated = ?
		 WHERE id = ? AND date_invalidated IS NULL
		 RETURNING `+messageColumns,
		now, id,
	)
	msg, err := scanSQLiteMessage(row)
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: delete message %d", id)
	}
	return s.GetMessage(ctx, id)
}

func (s *SQLiteStore) FindMessages(ctx context.Context, q search.MessageQuery) ([]model.Message, error) {
	tail, queryArgs, err := q.SQL(search.DialectSQLite)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM message`+tail, queryArgs...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find messages")
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		messages = append(messages, *msg)
	}
	return messages, eris.Wrap(rows.Err(), "sqlite: find messages iterate")
}

// encodeLists JSON-encodes the tags and urls arrays, mapping nil to [].
func encodeLists(tags, urls []string) (string, string, error) {
	if tags == nil {
		tags = []string{}
	}
	if urls == nil {
		urls = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal tags")
	}
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal urls")
	}
	return string(tagsJSON), string(urlsJSON), nil
}

// sqliteRow lets one scanner serve sql.Row and sql.Rows.
type sqliteRow interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row sqliteRow) (*model.Message, error) {
	var m model.Message
	var flag, tagsJSON, urlsJSON string
	var invalidated sql.NullTime
	var parentID sql.NullInt64
	err := row.Scan(
		&m.ID, &m.SiteID, &m.ObsID, &m.Instrument, &m.DayObs, &m.MessageText,
		&m.Level, &tagsJSON, &urlsJSON, &m.UserID, &m.UserAgent, &m.IsHuman,
		&m.IsValid, &flag, &m.DateAdded, &invalidated, &parentID,
	)
	if err != nil {
		return nil, err
	}
	m.ExposureFlag = model.ExposureFlag(flag)
	if invalidated.Valid {
		t := invalidated.Time.UTC()
		m.DateInvalidated = &t
	}
	if parentID.Valid {
		id := parentID.Int64
		m.ParentID = &id
	}
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tags")
	}
	if err := json.Unmarshal([]byte(urlsJSON), &m.URLs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal urls")
	}
	m.DateAdded = m.DateAdded.UTC()
	return &m, nil
}

var _ Store = (*SQLiteStore)(nil)
