// Package postgres is the production core.Store backed by PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/shelter/internal/core"
	"github.com/JonMunkholm/shelter/internal/logging"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Schema creates the animals table. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS animals (
    id               BIGSERIAL PRIMARY KEY,
    name             TEXT NOT NULL,
    age_years        DOUBLE PRECISION,
    sex              TEXT,
    breed            TEXT,
    temperament      TEXT,
    good_with_kids   BOOLEAN NOT NULL DEFAULT FALSE,
    good_with_cats   BOOLEAN NOT NULL DEFAULT FALSE,
    good_with_dogs   BOOLEAN NOT NULL DEFAULT FALSE,
    medical_notes    TEXT,
    is_special_needs BOOLEAN NOT NULL DEFAULT FALSE,
    is_senior        BOOLEAN NOT NULL DEFAULT FALSE,
    is_deceased      BOOLEAN NOT NULL DEFAULT FALSE,
    status           TEXT NOT NULL DEFAULT 'available',
    main_image_url   TEXT,
    featured         BOOLEAN NOT NULL DEFAULT FALSE,
    bonded_pair_id   BIGINT REFERENCES animals (id),
    adoptapet_url    TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS animals_active_idx ON animals (id) WHERE deleted_at IS NULL;
`

const animalColumns = `id, name, age_years, sex, breed, temperament,
    good_with_kids, good_with_cats, good_with_dogs, medical_notes,
    is_special_needs, is_senior, is_deceased, status, main_image_url,
    featured, bonded_pair_id, adoptapet_url, created_at, updated_at, deleted_at`

// importLockKey is the advisory lock id every importer of this database
// takes. The value spells "shelter".
const importLockKey int64 = 0x7368656c746572

// DefaultLockPollInterval is how often LockImports retries a held lock.
const DefaultLockPollInterval = 250 * time.Millisecond

// Store implements core.Store and core.ImportLocker.
type Store struct {
	db       DBTX
	lockPoll time.Duration
}

var (
	_ core.Store        = (*Store)(nil)
	_ core.ImportLocker = (*Store)(nil)
)

// New wraps an existing pool, connection or transaction.
func New(db DBTX) *Store {
	return &Store{db: db, lockPoll: DefaultLockPollInterval}
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect opens and pings a pool. The caller closes it.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// LockImports takes a session advisory lock on a dedicated connection, so
// applies from every server replica and CLI run against this database take
// turns. A held lock is polled with pg_try_advisory_lock until maxWait
// passes, then core.ErrImportBusy is returned.
func (s *Store) LockImports(ctx context.Context, importID string, maxWait time.Duration) (func(), error) {
	conn, done, err := s.sessionConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("import lock connection: %w", err)
	}

	deadline := time.Now().Add(maxWait)
	for {
		var locked bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, importLockKey).Scan(&locked); err != nil {
			done(false)
			return nil, fmt.Errorf("try import lock: %w", err)
		}
		if locked {
			break
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			done(true)
			return nil, core.ErrImportBusy
		}

		timer := time.NewTimer(min(remaining, s.lockPoll))
		select {
		case <-ctx.Done():
			timer.Stop()
			done(true)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	logger := logging.FromContext(ctx)
	logger.Debug("import lock acquired", "import_id", importID)

	return func() {
		// The apply context may be done by now
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		var released bool
		err := conn.QueryRow(unlockCtx, `SELECT pg_advisory_unlock($1)`, importLockKey).Scan(&released)
		if err != nil || !released {
			logger.Warn("release import lock failed, dropping connection", "import_id", importID, "error", err)
			done(false)
			return
		}
		done(true)
	}, nil
}

// sessionConn returns a connection that keeps one session for the life of
// the lock, and a func that hands it back. Pool connections are taken out of
// the pool and closed when unhealthy, which drops any lock they hold. A Conn
// or Tx is already one session and is used as is.
func (s *Store) sessionConn(ctx context.Context) (DBTX, func(healthy bool), error) {
	pool, ok := s.db.(*pgxpool.Pool)
	if !ok {
		return s.db, func(bool) {}, nil
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, func(healthy bool) {
		if !healthy {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = conn.Conn().Close(closeCtx)
		}
		conn.Release()
	}, nil
}

// EnsureSchema creates the animals table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*core.AnimalRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+animalColumns+` FROM animals WHERE id = $1`, id)

	rec, err := scanAnimal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find animal %d: %w", id, err)
	}
	return rec, nil
}

func (s *Store) FindAll(ctx context.Context, filter core.FindAllFilter) ([]core.AnimalRecord, error) {
	query := `SELECT ` + animalColumns + ` FROM animals`
	if !filter.IncludeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list animals: %w", err)
	}
	defer rows.Close()

	var out []core.AnimalRecord
	for rows.Next() {
		rec, err := scanAnimal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan animal: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list animals: %w", err)
	}

	return out, nil
}

func (s *Store) Create(ctx context.Context, fields core.AnimalFields) (*core.AnimalRecord, error) {
	args := fieldArgs(fields)
	row := s.db.QueryRow(ctx, `
        INSERT INTO animals (
            name, age_years, sex, breed, temperament,
            good_with_kids, good_with_cats, good_with_dogs, medical_notes,
            is_special_needs, is_senior, is_deceased, status, main_image_url,
            featured, bonded_pair_id, adoptapet_url
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        RETURNING `+animalColumns, args...)

	rec, err := scanAnimal(row)
	if err != nil {
		return nil, fmt.Errorf("insert animal %q: %w", fields.Name, err)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id int64, fields core.AnimalFields) (*core.AnimalRecord, error) {
	args := append(fieldArgs(fields), id)
	row := s.db.QueryRow(ctx, `
        UPDATE animals SET
            name = $1, age_years = $2, sex = $3, breed = $4, temperament = $5,
            good_with_kids = $6, good_with_cats = $7, good_with_dogs = $8,
            medical_notes = $9, is_special_needs = $10, is_senior = $11,
            is_deceased = $12, status = $13, main_image_url = $14, featured = $15,
            bonded_pair_id = $16, adoptapet_url = $17, updated_at = now()
        WHERE id = $18 AND deleted_at IS NULL
        RETURNING `+animalColumns, args...)

	rec, err := scanAnimal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update animal %d: %w", id, err)
	}
	return rec, nil
}

// SoftDelete stamps deleted_at once; repeating it is a no-op.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE animals SET deleted_at = now(), updated_at = now()
        WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete animal %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM animals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("soft delete animal %d: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("soft delete animal %d: %w", id, core.ErrRecordNotFound)
		}
	}
	return nil
}

// fieldArgs returns the 17 insert/update parameters in column order.
func fieldArgs(f core.AnimalFields) []interface{} {
	return []interface{}{
		f.Name,
		toPgFloat8(f.AgeYears),
		toPgText(f.Sex),
		toPgText(f.Breed),
		toPgText(f.Temperament),
		f.GoodWithKids,
		f.GoodWithCats,
		f.GoodWithDogs,
		toPgText(f.MedicalNotes),
		f.IsSpecialNeeds,
		f.IsSenior,
		f.IsDeceased,
		f.Status,
		toPgText(f.MainImageURL),
		f.Featured,
		toPgInt8(f.BondedPairID),
		toPgText(f.AdoptURL),
	}
}

func scanAnimal(row pgx.Row) (*core.AnimalRecord, error) {
	var (
		rec                                          core.AnimalRecord
		age                                          pgtype.Float8
		sex, breed, temperament, medical, img, adopt pgtype.Text
		pair                                         pgtype.Int8
		deleted                                      pgtype.Timestamptz
	)

	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&age,
		&sex,
		&breed,
		&temperament,
		&rec.GoodWithKids,
		&rec.GoodWithCats,
		&rec.GoodWithDogs,
		&medical,
		&rec.IsSpecialNeeds,
		&rec.IsSenior,
		&rec.IsDeceased,
		&rec.Status,
		&img,
		&rec.Featured,
		&pair,
		&adopt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&deleted,
	)
	if err != nil {
		return nil, err
	}

	rec.AgeYears = fromPgFloat8(age)
	rec.Sex = fromPgText(sex)
	rec.Breed = fromPgText(breed)
	rec.Temperament = fromPgText(temperament)
	rec.MedicalNotes = fromPgText(medical)
	rec.MainImageURL = fromPgText(img)
	rec.AdoptURL = fromPgText(adopt)
	rec.BondedPairID = fromPgInt8(pair)
	rec.DeletedAt = fromPgTimestamptz(deleted)

	return &rec, nil
}
