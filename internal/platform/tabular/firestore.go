package tabular

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/suprole/replenishment/internal/platform/firestore"
)

const (
	defaultFirestoreRoot = "tabular_tables"
	firestoreRowsName    = "rows"
)

type firestoreTableDoc struct {
	Header   []string `firestore:"header"`
	RowCount int64    `firestore:"rowCount"`
}

type firestoreRowDoc struct {
	Index int64    `firestore:"index"`
	Key   string   `firestore:"key"`
	Cells []string `firestore:"cells"`
}

// FirestoreStore maps each table onto a document holding the header plus a "rows" subcollection.
// Appends and updates run in Firestore transactions, and unique appends use the key value as
// the document id so duplicates fail atomically.
type FirestoreStore struct {
	provider *pfirestore.Provider
	root     string
}

// NewFirestoreStore constructs the store. root defaults to "tabular_tables".
func NewFirestoreStore(provider *pfirestore.Provider, root string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("tabular: firestore provider is required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		root = defaultFirestoreRoot
	}
	return &FirestoreStore{provider: provider, root: root}, nil
}

// EnsureTable creates the table document when missing.
func (s *FirestoreStore) EnsureTable(ctx context.Context, table string, header []string) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return WrapError("ensure", table, err)
	}
	_, err = s.tableRef(client, table).Create(ctx, firestoreTableDoc{Header: append([]string(nil), header...)})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return WrapError("ensure", table, translateFirestoreError(err))
}

// ReadAll loads the header and every row ordered by append position.
func (s *FirestoreStore) ReadAll(ctx context.Context, table string) (Table, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return Table{}, WrapError("read", table, err)
	}
	tableRef := s.tableRef(client, table)
	header, err := s.loadHeader(ctx, tableRef)
	if err != nil {
		return Table{}, WrapError("read", table, err)
	}

	snaps, err := tableRef.Collection(firestoreRowsName).OrderBy("index", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return Table{}, WrapError("read", table, translateFirestoreError(err))
	}
	out := Table{Name: table, Header: header, Rows: make([][]string, 0, len(snaps))}
	for _, snap := range snaps {
		var row firestoreRowDoc
		if err := snap.DataTo(&row); err != nil {
			return Table{}, WrapError("read", table, err)
		}
		out.Rows = append(out.Rows, fitRow(row.Cells, len(header)))
	}
	return out, nil
}

// AppendRow appends row and bumps the table's row counter in one transaction.
func (s *FirestoreStore) AppendRow(ctx context.Context, table string, row []string, opts ...AppendOption) error {
	cfg := ResolveAppendOptions(opts...)
	client, err := s.provider.Client(ctx)
	if err != nil {
		return WrapError("append", table, err)
	}
	tableRef := s.tableRef(client, table)
	rows := tableRef.Collection(firestoreRowsName)

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(tableRef)
		if err != nil {
			return translateFirestoreError(err)
		}
		var doc firestoreTableDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if len(row) > len(doc.Header) {
			return fmt.Errorf("row has %d cells, header has %d", len(row), len(doc.Header))
		}
		cells := fitRow(row, len(doc.Header))

		rowRef := rows.NewDoc()
		if cfg.UniqueColumn != "" {
			col := columnIndex(doc.Header, cfg.UniqueColumn)
			if col < 0 {
				return fmt.Errorf("%w: %q in table %q", ErrColumnNotFound, cfg.UniqueColumn, table)
			}
			if strings.TrimSpace(cells[col]) == "" {
				return fmt.Errorf("unique column %q is empty", cfg.UniqueColumn)
			}
			rowRef = rows.Doc(url.PathEscape(strings.TrimSpace(cells[col])))
			if _, err := tx.Get(rowRef); err == nil {
				return fmt.Errorf("%w: %s=%s in table %q", ErrDuplicateKey, cfg.UniqueColumn, cells[col], table)
			} else if status.Code(err) != codes.NotFound {
				return translateFirestoreError(err)
			}
		}

		key := ""
		if len(cells) > 0 {
			key = strings.TrimSpace(cells[0])
		}
		if err := tx.Create(rowRef, firestoreRowDoc{Index: doc.RowCount, Key: key, Cells: cells}); err != nil {
			return err
		}
		return tx.Update(tableRef, []firestore.Update{{Path: "rowCount", Value: firestore.Increment(1)}})
	})
	return WrapError("append", table, translateFirestoreError(err))
}

// UpdateCells rewrites the matching row's cells inside a transaction.
func (s *FirestoreStore) UpdateCells(ctx context.Context, table string, key RowKey, values map[string]string) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return WrapError("update", table, err)
	}
	tableRef := s.tableRef(client, table)
	header, err := s.loadHeader(ctx, tableRef)
	if err != nil {
		return WrapError("update", table, err)
	}
	columns, err := resolveColumns(table, header, values)
	if err != nil {
		return WrapError("update", table, err)
	}
	rowRef, err := s.locateRow(ctx, tableRef, header, key)
	if err != nil {
		return WrapError("update", table, err)
	}

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(rowRef)
		if err != nil {
			return translateFirestoreError(err)
		}
		var row firestoreRowDoc
		if err := snap.DataTo(&row); err != nil {
			return err
		}
		cells := fitRow(row.Cells, len(header))
		for col, value := range columns {
			cells[col] = value
		}
		updates := []firestore.Update{{Path: "cells", Value: cells}}
		if _, ok := columns[0]; ok {
			updates = append(updates, firestore.Update{Path: "key", Value: strings.TrimSpace(cells[0])})
		}
		return tx.Update(rowRef, updates)
	})
	return WrapError("update", table, translateFirestoreError(err))
}

func (s *FirestoreStore) tableRef(client *firestore.Client, table string) *firestore.DocumentRef {
	return client.Collection(s.root).Doc(url.PathEscape(table))
}

func (s *FirestoreStore) loadHeader(ctx context.Context, tableRef *firestore.DocumentRef) ([]string, error) {
	snap, err := tableRef.Get(ctx)
	if err != nil {
		return nil, translateFirestoreError(err)
	}
	var doc firestoreTableDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.Header, nil
}

func (s *FirestoreStore) locateRow(ctx context.Context, tableRef *firestore.DocumentRef, header []string, key RowKey) (*firestore.DocumentRef, error) {
	col := columnIndex(header, key.Column)
	if col < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, key.Column)
	}
	want := strings.TrimSpace(key.Value)
	if want == "" {
		return nil, fmt.Errorf("%w: empty key for column %q", ErrRowNotFound, key.Column)
	}
	rows := tableRef.Collection(firestoreRowsName)

	if col == 0 {
		snaps, err := rows.Where("key", "==", want).OrderBy("index", firestore.Asc).Limit(1).Documents(ctx).GetAll()
		if err != nil {
			return nil, translateFirestoreError(err)
		}
		if len(snaps) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrRowNotFound, key)
		}
		return snaps[0].Ref, nil
	}

	snaps, err := rows.OrderBy("index", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, translateFirestoreError(err)
	}
	for _, snap := range snaps {
		var row firestoreRowDoc
		if err := snap.DataTo(&row); err != nil {
			return nil, err
		}
		if col < len(row.Cells) && strings.TrimSpace(row.Cells[col]) == want {
			return snap.Ref, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRowNotFound, key)
}

func translateFirestoreError(err error) error {
	if err == nil {
		return nil
	}
	var tabErr *Error
	if errors.As(err, &tabErr) {
		return err
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrColumnNotFound) || errors.Is(err, ErrRowNotFound) || errors.Is(err, ErrTableNotFound) {
		return err
	}
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTableNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrTableNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	case codes.Aborted, codes.FailedPrecondition:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
