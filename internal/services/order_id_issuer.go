package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/platform/lock"
	"github.com/suprole/replenishment/internal/repositories"
)

const (
	defaultIssueAttempts = 3
	maxDailySequence     = 9999
	issuerLockPrefix     = "po-id:"
	sequenceNamePrefix   = "po-"
)

// OrderIDIssuerDeps bundles collaborators for the order id issuer.
type OrderIDIssuerDeps struct {
	Orders repositories.OrderRepository
	Locker lock.Locker
	// Sequences, when set, supplies the next number through a store-side atomic counter seeded
	// with the scanned maximum.
	Sequences repositories.SequenceRepository
	// Scope names the order table; it keys the issuance lock.
	Scope    string
	Attempts int
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// OrderIDIssuer hands out PO-YYYYMMDD-NNNN ids. Issuance and the append that claims the id run
// inside one critical section and are retried when the append reports a duplicate.
type OrderIDIssuer struct {
	orders    repositories.OrderRepository
	locker    lock.Locker
	sequences repositories.SequenceRepository
	lockKey   string
	attempts  int
	logger    func(context.Context, string, map[string]any)
}

// NewOrderIDIssuer validates deps and applies defaults.
func NewOrderIDIssuer(deps OrderIDIssuerDeps) (*OrderIDIssuer, error) {
	if deps.Orders == nil {
		return nil, errors.New("order id issuer: order repository is required")
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	attempts := deps.Attempts
	if attempts <= 0 {
		attempts = defaultIssueAttempts
	}
	scope := strings.TrimSpace(deps.Scope)
	if scope == "" {
		scope = "orders"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderIDIssuer{
		orders:    deps.Orders,
		locker:    locker,
		sequences: deps.Sequences,
		lockKey:   issuerLockPrefix + scope,
		attempts:  attempts,
		logger:    logger,
	}, nil
}

// IssueAndAppend computes the next id for day and passes it to claim while holding the issuance
// lock. claim is expected to append the order row; a duplicate key causes a fresh scan and
// another attempt.
func (i *OrderIDIssuer) IssueAndAppend(ctx context.Context, day time.Time, claim func(ctx context.Context, poID string) error) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= i.attempts; attempt++ {
		poID, err := i.issueOnce(ctx, day, claim)
		if err == nil {
			return poID, nil
		}
		if !isDuplicate(err) {
			return "", err
		}
		lastErr = err
		i.logger(ctx, "order.id.conflict", map[string]any{
			"poId":    poID,
			"attempt": attempt,
		})
	}
	return "", &ExternalServiceError{Service: "order id issuer", Retryable: true, Err: lastErr}
}

func (i *OrderIDIssuer) issueOnce(ctx context.Context, day time.Time, claim func(context.Context, string) error) (string, error) {
	release, err := i.locker.Acquire(ctx, i.lockKey)
	if err != nil {
		return "", &ExternalServiceError{Service: "order id lock", Retryable: true, Err: err}
	}
	defer release()

	ids, err := i.orders.ListIDs(ctx)
	if err != nil {
		return "", storeError(err)
	}
	next := MaxSequence(ids, domain.PoIDPrefix(day)) + 1

	if i.sequences != nil {
		seq, err := i.sequences.Next(ctx, sequenceNamePrefix+day.Format("20060102"), int64(next-1))
		if err != nil {
			return "", &ExternalServiceError{Service: "order sequence", Retryable: true, Err: err}
		}
		next = int(seq)
	}
	if next > maxDailySequence {
		return "", NewValidationError("daily order sequence exhausted")
	}

	poID := domain.FormatPoID(day, next)
	return poID, claim(ctx, poID)
}

// MaxSequence returns the highest trailing sequence among ids carrying prefix, or 0.
func MaxSequence(ids []string, prefix string) int {
	highest := 0
	for _, id := range ids {
		rest, ok := strings.CutPrefix(strings.TrimSpace(id), prefix)
		if !ok || len(rest) != 4 {
			continue
		}
		seq, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest
}

func isDuplicate(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
