package firestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/suprole/replenishment/internal/platform/firestore"
	"github.com/suprole/replenishment/internal/repositories"
)

const sequencesCollection = "counters"

type sequenceDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// SequenceRepository implements repositories.SequenceRepository backed by Firestore transactions.
type SequenceRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

var _ repositories.SequenceRepository = (*SequenceRepository)(nil)

// NewSequenceRepository constructs a Firestore-backed sequence repository.
func NewSequenceRepository(provider *pfirestore.Provider) (*SequenceRepository, error) {
	if provider == nil {
		return nil, errors.New("sequence repository requires firestore provider")
	}
	return &SequenceRepository{provider: provider, clock: time.Now}, nil
}

// Next atomically stores and returns max(current, floor)+1 for the counter name.
func (r *SequenceRepository) Next(ctx context.Context, name string, floor int64) (int64, error) {
	id := strings.TrimSpace(name)
	if id == "" {
		return 0, errors.New("sequence name is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	ref := client.Collection(sequencesCollection).Doc(url.PathEscape(id))

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current := int64(0)
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			var doc sequenceDocument
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore counters decode %s: %w", id, err)
			}
			current = doc.CurrentValue
		case codes.NotFound:
		default:
			return err
		}

		next = max(current, floor) + 1
		return tx.Set(ref, sequenceDocument{CurrentValue: next, UpdatedAt: r.clock().UTC()})
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
