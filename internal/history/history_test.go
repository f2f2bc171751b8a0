package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/sitwatch/internal/models"
	"github.com/rewired-gh/sitwatch/internal/storage"
)

func sig(id string) models.Signal {
	return models.Signal{
		ID:          id,
		Kind:        models.SignalMarketMove,
		Confidence:  0.5,
		Description: "signal " + id,
		CreatedAt:   time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
}

func ids(signals []models.Signal) string {
	out := ""
	for _, s := range signals {
		out += s.ID
	}
	return out
}

func newStorageHistory(t *testing.T) *History {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, 0)
}

func TestAppend_PreservesOrderWithoutDedup(t *testing.T) {
	h := newStorageHistory(t)
	ctx := context.Background()

	if err := h.Append(ctx, []models.Signal{sig("a"), sig("b")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := h.Append(ctx, []models.Signal{sig("a"), sig("c")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all, err := h.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := ids(all); got != "abac" {
		t.Errorf("durable order = %q, want abac", got)
	}
	if got := ids(h.Recent(3)); got != "bac" {
		t.Errorf("Recent(3) = %q, want bac", got)
	}
	last, _ := h.List(2)
	if got := ids(last); got != "ac" {
		t.Errorf("List(2) = %q, want ac", got)
	}
}

func TestAppend_EmptyIsNoop(t *testing.T) {
	h := newStorageHistory(t)
	if err := h.Append(context.Background(), nil); err != nil {
		t.Fatalf("Append(nil): %v", err)
	}
	if got := h.Recent(10); len(got) != 0 {
		t.Errorf("Recent = %v, want empty", got)
	}
}

func TestAppend_TailIsBounded(t *testing.T) {
	h := New(nil, 3)
	for i := 0; i < 5; i++ {
		_ = h.Append(context.Background(), []models.Signal{sig(fmt.Sprint(i))})
	}
	if got := ids(h.Recent(0)); got != "234" {
		t.Errorf("tail = %q, want 234", got)
	}
	list, err := h.List(2)
	if err != nil || ids(list) != "34" {
		t.Errorf("List(2) without persistence = %q, %v", ids(list), err)
	}
}

type brokenPersistence struct{}

var errDown = errors.New("database is down")

func (brokenPersistence) AppendSignals([]models.Signal) error      { return errDown }
func (brokenPersistence) ListSignals(int) ([]models.Signal, error) { return nil, errDown }

func TestAppend_PersistenceFailureKeepsTail(t *testing.T) {
	h := New(brokenPersistence{}, 0)
	err := h.Append(context.Background(), []models.Signal{sig("x")})
	if !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want wrapped errDown", err)
	}
	if got := ids(h.Recent(1)); got != "x" {
		t.Errorf("Recent = %q, want x", got)
	}
	if _, err := h.List(0); !errors.Is(err, errDown) {
		t.Errorf("List err = %v", err)
	}
}

func TestAppend_CanceledContext(t *testing.T) {
	h := New(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Append(ctx, []models.Signal{sig("x")}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(h.Recent(0)) != 0 {
		t.Error("canceled append should not record anything")
	}
}
