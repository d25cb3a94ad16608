// Package mocks holds in-memory repository implementations for tests. They
// honour the conditional-update contracts of the postgres implementations.
package mocks

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// TxRunner runs fn without a real transaction.
type TxRunner struct {
	Err error
}

func (t *TxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if t.Err != nil {
		return t.Err
	}
	return fn(nil)
}
