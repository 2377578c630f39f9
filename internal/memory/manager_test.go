package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaychat/relay/internal/sessions"
	"github.com/relaychat/relay/pkg/models"
)

func newTestManager(t *testing.T, maxEntries int) (*Manager, *sessions.MemoryStore) {
	t.Helper()
	store := sessions.NewMemoryStore()
	mgr := New(Config{Store: store, MaxEntries: maxEntries})
	return mgr, store
}

func TestManager_CreateAndAppend(t *testing.T) {
	mgr, store := newTestManager(t, 0)
	ctx := context.Background()

	prompt := "be terse"
	if err := mgr.Create(ctx, "s1", &prompt); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mgr.SwitchTo(ctx, "s1"); err != nil {
		t.Fatalf("SwitchTo() error = %v", err)
	}
	if err := mgr.Append(ctx, models.RoleUser, models.NewTextContent("hi"), nil, "", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	history, err := mgr.CurrentHistory(-1, nil, false)
	if err != nil {
		t.Fatalf("CurrentHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Content.String() != "hi" {
		t.Fatalf("history = %+v", history)
	}

	mgr.Wait()
	stored, err := store.GetMessages(ctx, "s1", -1)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected the append to be persisted, got %d messages", len(stored))
	}
}

func TestManager_CurrentHistory_BoundaryWindows(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	ctx := context.Background()
	prompt := "sys"
	mgr.Create(ctx, "s1", &prompt)
	mgr.SwitchTo(ctx, "s1")
	mgr.Append(ctx, models.RoleUser, models.NewTextContent("a"), nil, "", "")
	mgr.Append(ctx, models.RoleUser, models.NewTextContent("b"), nil, "", "")

	none, err := mgr.CurrentHistory(0, nil, true)
	if err != nil {
		t.Fatalf("CurrentHistory(0) error = %v", err)
	}
	if len(none) != 1 || none[0].Role != models.RoleSystem {
		t.Fatalf("CurrentHistory(0, _, true) = %+v, want exactly one System message", none)
	}

	all, err := mgr.CurrentHistory(100, nil, false)
	if err != nil {
		t.Fatalf("CurrentHistory(100) error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("CurrentHistory(N>=size) = %+v, want all stored messages", all)
	}
}

func TestManager_SwitchToTwiceIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	ctx := context.Background()
	mgr.Create(ctx, "s1", nil)
	if err := mgr.SwitchTo(ctx, "s1"); err != nil {
		t.Fatalf("SwitchTo() error = %v", err)
	}
	if err := mgr.SwitchTo(ctx, "s1"); err != nil {
		t.Fatalf("SwitchTo() error = %v", err)
	}
	if mgr.Current() != "s1" {
		t.Fatalf("Current() = %q", mgr.Current())
	}
}

func TestManager_DeleteRejectsActiveSession(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	ctx := context.Background()
	mgr.Create(ctx, "s1", nil)
	mgr.SwitchTo(ctx, "s1")

	err := mgr.Delete(ctx, "s1")
	if models.KindOf(err) != models.ErrArgument {
		t.Fatalf("Delete(active) error = %v, want ErrArgument kind", err)
	}
}

func TestManager_LRUEvictionPersistsExactState(t *testing.T) {
	mgr, store := newTestManager(t, 2)
	ctx := context.Background()

	mgr.SwitchTo(ctx, "A")
	mgr.Append(ctx, models.RoleUser, models.NewTextContent("Msg A"), nil, "", "")

	mgr.SwitchTo(ctx, "B")
	mgr.Append(ctx, models.RoleUser, models.NewTextContent("Msg B"), nil, "", "")

	mgr.SwitchTo(ctx, "C") // evicts A, the LRU entry

	mgr.Wait()

	if mgr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", mgr.Len())
	}

	aMessages, err := store.GetMessages(ctx, "A", -1)
	if err != nil {
		t.Fatalf("GetMessages(A) error = %v", err)
	}
	if len(aMessages) != 1 || aMessages[0].Content.String() != "Msg A" {
		t.Fatalf("expected A's eviction to flush exactly [Msg A], got %+v", aMessages)
	}
}

func TestManager_PreloadSingleFlight(t *testing.T) {
	store := &countingGetMessagesStore{MemoryStore: sessions.NewMemoryStore()}
	if err := store.CreateSession(context.Background(), &models.Session{ID: "X"}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	mgr := New(Config{Store: store})

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgr.Preload(context.Background(), "X"); err != nil {
				t.Errorf("Preload() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := store.getMessagesCalls.Load(); got != 1 {
		t.Fatalf("storage reads for X = %d, want 1 (single-flight)", got)
	}
	if _, ok := mgr.cache.Get("X"); !ok {
		t.Fatal("expected X to be cached after Preload")
	}
}

type countingGetMessagesStore struct {
	*sessions.MemoryStore
	getMessagesCalls atomic.Int64
}

func (s *countingGetMessagesStore) GetMessages(ctx context.Context, id string, limit int) ([]models.Message, error) {
	s.getMessagesCalls.Add(1)
	time.Sleep(2 * time.Millisecond) // widen the race window for concurrent callers
	return s.MemoryStore.GetMessages(ctx, id, limit)
}

func TestManager_AppendWithoutCurrentSessionFails(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	err := mgr.Append(context.Background(), models.RoleUser, models.NewTextContent("hi"), nil, "", "")
	if !errors.Is(err, ErrNoCurrentSession) {
		t.Fatalf("expected ErrNoCurrentSession, got %v", err)
	}
}
