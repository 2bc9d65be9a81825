package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/suprole/replenishment/internal/platform/config"
)

func TestProviderRequiresProject(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("FIRESTORE_EMULATOR_HOST", "")
	p := NewProvider(config.FirestoreConfig{})
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatalf("expected missing project error")
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "replenishment-test"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	err := p.RunTransaction(context.Background(), nil)
	var repoErr *Error
	if !errors.As(err, &repoErr) {
		t.Fatalf("expected classified error for nil tx func, got %v", err)
	}
}

func TestProviderOptions(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: " proj ", EmulatorHost: "localhost:8686"},
		WithTransactionLimits(2, time.Second),
		WithTransactionLimits(0, 0),
	)
	if p.projectID != "proj" || p.emulator != "localhost:8686" {
		t.Fatalf("unexpected provider %+v", p)
	}
	if p.txAttempts != 2 || p.txTimeout != time.Second {
		t.Fatalf("unexpected limits attempts=%d timeout=%s", p.txAttempts, p.txTimeout)
	}
}
