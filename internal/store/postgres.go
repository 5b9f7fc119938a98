package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/obsenv/exposurelog/internal/db"
	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
	"github.com/obsenv/exposurelog/internal/search"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// postgresMigrations holds one DDL step per schema version, applied in
// order. Version 2 mirrors the historical addition of the level and urls
// columns to already-deployed stores.
var postgresMigrations = []string{
	// version 1: message table, exposure_flag enum, filter indexes
	`
DO $$ BEGIN
	CREATE TYPE exposure_flag_enum AS ENUM ('none', 'junk', 'questionable');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

CREATE TABLE IF NOT EXISTS message (
	id               BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	site_id          VARCHAR(16) NOT NULL,
	obs_id           TEXT NOT NULL,
	instrument       TEXT NOT NULL,
	day_obs          INTEGER NOT NULL,
	message_text     TEXT NOT NULL,
	tags             TEXT[] NOT NULL DEFAULT '{}',
	user_id          TEXT NOT NULL,
	user_agent       TEXT NOT NULL,
	is_human         BOOLEAN NOT NULL,
	exposure_flag    exposure_flag_enum NOT NULL DEFAULT 'none',
	date_added       TIMESTAMPTZ NOT NULL,
	date_invalidated TIMESTAMPTZ,
	parent_id        BIGINT REFERENCES message(id),
	is_valid         BOOLEAN GENERATED ALWAYS AS (date_invalidated IS NULL) STORED
);

CREATE INDEX IF NOT EXISTS idx_message_obs_id ON message(obs_id);
CREATE INDEX IF NOT EXISTS idx_message_site_obs ON message(site_id, obs_id);
CREATE INDEX IF NOT EXISTS idx_message_instrument ON message(instrument);
CREATE INDEX IF NOT EXISTS idx_message_day_obs ON message(day_obs);
CREATE INDEX IF NOT EXISTS idx_message_user_id ON message(user_id);
CREATE INDEX IF NOT EXISTS idx_message_exposure_flag ON message(exposure_flag);
CREATE INDEX IF NOT EXISTS idx_message_date_added ON message(date_added);
CREATE INDEX IF NOT EXISTS idx_message_is_valid ON message(is_valid);
CREATE INDEX IF NOT EXISTS idx_message_tags ON message USING GIN (tags);
`,
	// version 2: message level and attached urls
	`
ALTER TABLE message ADD COLUMN IF NOT EXISTS level INTEGER NOT NULL DEFAULT 20;
ALTER TABLE message ADD COLUMN IF NOT EXISTS urls TEXT[] NOT NULL DEFAULT '{}';
`,
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate upgrades the schema from whatever version is persisted (zero for
// an empty store) to the current one. Re-running against a current store is
// a no-op.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	); err != nil {
		return eris.Wrap(err, "postgres: create schema_version")
	}

	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for v := version; v < len(postgresMigrations); v++ {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return eris.Wrapf(err, "postgres: begin migration to version %d", v+1)
		}
		if _, err := tx.Exec(ctx, postgresMigrations[v]); err != nil {
			_ = tx.Rollback(ctx)
			return eris.Wrapf(err, "postgres: apply migration to version %d", v+1)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM schema_version`); err != nil {
			_ = tx.Rollback(ctx)
			return eris.Wrapf(err, "postgres: clear schema_version")
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, v+1); err != nil {
			_ = tx.Rollback(ctx)
			return eris.Wrapf(err, "postgres: record schema version %d", v+1)
		}
		if err := tx.Commit(ctx); err != nil {
			return eris.Wrapf(err, "postgres: commit migration to version %d", v+1)
		}
	}
	return nil
}

// schemaVersion reads the persisted version; zero means never migrated.
func (s *PostgresStore) schemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrap(err, "postgres: read schema version")
	}
	return version, nil
}

func (s *PostgresStore) CheckSchemaVersion(ctx context.Context) error {
	var version int
	err := s.pool.QueryRow(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if err != nil {
		// No row, or no schema_version table at all: uninitialized store.
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == "42P01") {
			return &errs.SchemaMismatchError{Have: 0, Want: requiredSchemaVersion}
		}
		return eris.Wrap(err, "postgres: read schema version")
	}
	if version != requiredSchemaVersion {
		return &errs.SchemaMismatchError{Have: version, Want: requiredSchemaVersion}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const postgresInsertMessage = `INSERT INTO message
	(site_id, obs_id, instrument, day_obs, message_text, level, tags, urls,
	 user_id, user_agent, is_human, exposure_flag, date_added, parent_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING ` + messageColumns

func (s *PostgresStore) AddMessage(ctx context.Context, args AddMessageArgs) (*model.Message, error) {
	tags, err := args.Validate()
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	urls := args.URLs
	if urls == nil {
		urls = []string{}
	}
	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx, postgresInsertMessage,
		args.SiteID, args.ObsID, args.Instrument, args.DayObs, args.MessageText,
		args.Level, tags, urls, args.UserID, args.UserAgent, args.IsHuman,
		string(args.ExposureFlag), now, nil,
	)
	msg, err := scanPostgresMessage(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert message")
	}
	return msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM message WHERE id = $1`, id)
	msg, err := scanPostgresMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("message", id)
		}
		return nil, eris.Wrapf(err, "postgres: get message %d", id)
	}
	return msg, nil
}

// EditMessage inserts the successor and invalidates the parent in one
// transaction. The parent row is locked for the duration, so two
// concurrent edits of the same id serialize; the loser finds the parent
// already invalidated and gets a ConflictError.
func (s *PostgresStore) EditMessage(ctx context.Context, id int64, args EditMessageArgs) (*model.Message, error) {
	tags, err := args.Validate()
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin edit")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM message WHERE id = $1 FOR UPDATE`, id)
	parent, err := scanPostgresMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("message", id)
		}
		return nil, eris.Wrapf(err, "postgres: load edit parent %d", id)
	}
	if parent.DateInvalidated != nil {
		return nil, &errs.ConflictError{ID: id}
	}

	child := args.apply(parent, tags)
	now := time.Now().UTC()

	childRow := tx.QueryRow(ctx, postgresInsertMessage,
		child.SiteID, child.ObsID, child.Instrument, child.DayObs, child.MessageText,
		child.Level, child.Tags, child.URLs, child.UserID, child.UserAgent,
		child.IsHuman, string(child.ExposureFlag), now, id,
	)
	inserted, err := scanPostgresMessage(childRow)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert edit successor of %d", id)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE message SET date_invalidated = $1 WHERE id = $2 AND date_invalidated IS NULL`,
		now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: invalidate edit parent %d", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, &errs.ConflictError{ID: id}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgres: commit edit of %d", id)
	}
	return inserted, nil
}

// DeleteMessage invalidates the message. The guarded UPDATE makes repeat
// deletes no-ops: the row is fetched and returned unchanged.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id int64) (*model.Message, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE message SET date_invalidated = $1
		 WHERE id = $2 AND date_invalidated IS NULL
		 RETURNING `+messageColumns,
		now, id,
	)
	msg, err := scanPostgresMessage(row)
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: delete message %d", id)
	}
	// Zero rows updated: either already invalid (idempotent success) or
	// the id does not exist.
	return s.GetMessage(ctx, id)
}

func (s *PostgresStore) FindMessages(ctx context.Context, q search.MessageQuery) ([]model.Message, error) {
	tail, queryArgs, err := q.SQL(search.DialectPostgres)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM message`+tail, queryArgs...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find messages")
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		messages = append(messages, *msg)
	}
	return messages, eris.Wrap(rows.Err(), "postgres: find messages iterate")
}

// scanPostgresMessage scans one row in messageColumns order.
func scanPostgresMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	var flag string
	err := row.Scan(
		&m.ID, &m.SiteID, &m.ObsID, &m.Instrument, &m.DayObs, &m.MessageText,
		&m.Level, &m.Tags, &m.URLs, &m.UserID, &m.UserAgent, &m.IsHuman,
		&m.IsValid, &flag, &m.DateAdded, &m.DateInvalidated, &m.ParentID,
	)
	if err != nil {
		return nil, err
	}
	m.ExposureFlag = model.ExposureFlag(flag)
	return &m, nil
}

var _ Store = (*PostgresStore)(nil)
