package tabular

import (
	"context"
	"time"
)

// Observer receives the outcome of every store call.
type Observer func(op, table string, elapsed time.Duration, err error)

type instrumentedStore struct {
	next    Store
	observe Observer
}

// Instrument reports the latency and result of every call to observe.
func Instrument(store Store, observe Observer) Store {
	if store == nil || observe == nil {
		return store
	}
	return &instrumentedStore{next: store, observe: observe}
}

func (s *instrumentedStore) ReadAll(ctx context.Context, table string) (Table, error) {
	start := time.Now()
	out, err := s.next.ReadAll(ctx, table)
	s.observe("read", table, time.Since(start), err)
	return out, err
}

func (s *instrumentedStore) AppendRow(ctx context.Context, table string, row []string, opts ...AppendOption) error {
	start := time.Now()
	err := s.next.AppendRow(ctx, table, row, opts...)
	s.observe("append", table, time.Since(start), err)
	return err
}

func (s *instrumentedStore) UpdateCells(ctx context.Context, table string, key RowKey, values map[string]string) error {
	start := time.Now()
	err := s.next.UpdateCells(ctx, table, key, values)
	s.observe("update", table, time.Since(start), err)
	return err
}

// EnsureTable forwards to the wrapped store when it can bootstrap tables.
func (s *instrumentedStore) EnsureTable(ctx context.Context, table string, header []string) error {
	if boot, ok := s.next.(Bootstrapper); ok {
		return boot.EnsureTable(ctx, table, header)
	}
	return nil
}
