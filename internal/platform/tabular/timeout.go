package tabular

import (
	"context"
	"time"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call on store by timeout. Deadline overruns surface as an *Error
// reporting IsTimeout and IsUnavailable.
func WithTimeout(store Store, timeout time.Duration) Store {
	if store == nil || timeout <= 0 {
		return store
	}
	return &timeoutStore{next: store, timeout: timeout}
}

func (s *timeoutStore) ReadAll(ctx context.Context, table string) (Table, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.next.ReadAll(ctx, table)
	return out, s.classify(ctx, "read", table, err)
}

func (s *timeoutStore) AppendRow(ctx context.Context, table string, row []string, opts ...AppendOption) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.classify(ctx, "append", table, s.next.AppendRow(ctx, table, row, opts...))
}

func (s *timeoutStore) UpdateCells(ctx context.Context, table string, key RowKey, values map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.classify(ctx, "update", table, s.next.UpdateCells(ctx, table, key, values))
}

// EnsureTable forwards to the wrapped store when it can bootstrap tables.
func (s *timeoutStore) EnsureTable(ctx context.Context, table string, header []string) error {
	boot, ok := s.next.(Bootstrapper)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.classify(ctx, "ensure", table, boot.EnsureTable(ctx, table, header))
}

func (s *timeoutStore) classify(ctx context.Context, op, table string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return &Error{Op: op, Table: table, Err: context.DeadlineExceeded, unavailable: true, timeout: true}
	}
	return WrapError(op, table, err)
}
