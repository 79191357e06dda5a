package crdb

import (
	"context"
	_ "embed"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/store"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	reader
	pool *pgxpool.Pool
}

var _ store.Store = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{reader: reader{q: pool}, pool: pool}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return errors.Wrap(err, "apply schema")
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txRepo{reader: reader{q: tx}, tx: tx}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

// classify maps driver failures onto the domain taxonomy: retryable conflicts become
// ErrSerializationFailure and connection-level timeouts become ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return errors.Mark(err, domain.ErrSerializationFailure)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return errors.Mark(err, domain.ErrTransient)
	}
	return err
}

type txRepo struct {
	reader
	tx pgx.Tx
}

var _ store.Tx = (*txRepo)(nil)
