package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Hrittik20/TSUSwap/internal/store"
)

// errorClass tells the retry loop what to do with a failed transaction.
type errorClass int

const (
	classPermanent errorClass = iota
	classTransient
	classDeadlock
	classSerialization
)

func classify(err error) errorClass {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return classSerialization
		case "40P01":
			return classDeadlock
		case "55P03":
			return classTransient
		}
	}
	return classPermanent
}

// txOptions configures inTx.
type txOptions struct {
	isolation  sql.IsolationLevel
	maxRetries int
}

var readCommitted = txOptions{isolation: sql.LevelReadCommitted, maxRetries: 3}

// inTx runs fn in a transaction, retrying with jittered exponential backoff
// when Postgres aborts it with a serialization failure, deadlock or lock
// timeout. fn must be safe to run more than once.
func inTx(ctx context.Context, db *sqlx.DB, opts txOptions, fn func(*sqlx.Tx) error) error {
	backoff := 20 * time.Millisecond

	for attempt := 0; ; attempt++ {
		err := runTx(ctx, db, opts, fn)
		if err == nil || classify(err) == classPermanent {
			return err
		}
		if attempt == opts.maxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.maxRetries, err)
		}

		jitter := time.Duration(rand.Int64N(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func runTx(ctx context.Context, db *sqlx.DB, opts txOptions, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: opts.isolation})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapErr translates driver errors into store errors, leaving others intact.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return store.ErrDuplicate
		// Foreign key violation or a malformed UUID: the referenced row cannot exist.
		case "23503", "22P02":
			return store.ErrNotFound
		}
	}
	return err
}

// affected converts a zero-row conditional update into ErrConflict, or
// ErrNotFound when exists reports the row is missing.
func affected(res sql.Result, exists func() (bool, error)) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	ok, err := exists()
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func rowExists(ctx context.Context, q queryer, table, id string) func() (bool, error) {
	return func() (bool, error) {
		var ok bool
		err := q.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id)
		if mapped := mapErr(err); errors.Is(mapped, store.ErrNotFound) {
			return false, nil
		}
		return ok, err
	}
}
