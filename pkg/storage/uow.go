package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var errTransactionFinished = errors.New("transaction has already been committed or rolled back")

type unitOfWork struct {
	db      *sql.DB
	options *sql.TxOptions
}

// UnitOfWorkOption configures the transaction envelope.
type UnitOfWorkOption func(*unitOfWork)

// WithIsolationLevel sets the transaction isolation level.
func WithIsolationLevel(level sql.IsolationLevel) UnitOfWorkOption {
	return func(u *unitOfWork) {
		if u.options == nil {
			u.options = &sql.TxOptions{}
		}
		u.options.Isolation = level
	}
}

// NewUnitOfWork creates a transaction envelope over the database. Each Do
// call opens an independent transaction; the value keeps no state between
// calls and is safe for concurrent use.
func NewUnitOfWork(db *sql.DB, opts ...UnitOfWorkOption) UnitOfWork {
	if db == nil {
		panic("database connection cannot be nil")
	}
	u := &unitOfWork{db: db}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *unitOfWork) Do(ctx context.Context, fn func(ctx context.Context, db DBTX) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before transaction start: %w", err)
	}

	tx, err := u.db.BeginTx(ctx, u.options)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	finished := false
	defer func() {
		if p := recover(); p != nil {
			if !finished {
				_ = tx.Rollback()
			}
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		finished = true
		if rbErr := rollbackTx(tx); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err = ctx.Err(); err != nil {
		finished = true
		if rbErr := rollbackTx(tx); rbErr != nil {
			return fmt.Errorf("context cancelled during transaction: %w, rollback error: %v", err, rbErr)
		}
		return fmt.Errorf("context cancelled during transaction: %w", err)
	}

	finished = true
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func rollbackTx(tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return errTransactionFinished
		}
		return err
	}
	return nil
}
