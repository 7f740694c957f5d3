package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
)

type memoryChatRepo struct {
	mu       sync.Mutex
	nextID   int64
	messages []*domain.ChatMessage
}

func newMemoryChatRepo() *memoryChatRepo {
	return &memoryChatRepo{nextID: 1}
}

func (r *memoryChatRepo) Create(_ context.Context, msg *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = r.nextID
	msg.CreatedAt = time.Now()
	r.nextID++
	copied := *msg
	r.messages = append(r.messages, &copied)
	return nil
}

func (r *memoryChatRepo) ListByUser(_ context.Context, userID int64, limit int) ([]*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ChatMessage
	for i := len(r.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if r.messages[i].UserID == userID {
			copied := *r.messages[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

type fakeInference struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (f *fakeInference) Generate(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func seedChatCatalog() *memoryCatalog {
	catalog := newMemoryCatalog()
	seedCatalog(catalog)
	return catalog
}

func TestChatFallbackCounts(t *testing.T) {
	catalog := seedChatCatalog()
	svc := NewChatService(catalog, newMemoryChatRepo(), nil, time.Minute, nil)

	msg, err := svc.Ask(context.Background(), 1, "How many books do you have?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !strings.Contains(msg.Response, "4 unique book titles") {
		t.Errorf("expected title count in response, got %q", msg.Response)
	}
	if !strings.Contains(msg.Response, "4 total book copies") {
		t.Errorf("expected copy count in response, got %q", msg.Response)
	}
}

func TestChatFallbackReflectsIssuedCopies(t *testing.T) {
	catalog := seedChatCatalog()
	ledger := newMemoryLedger()
	lending := newTestLending(catalog, ledger, nil)
	if _, err := lending.Issue(context.Background(), 1, 1, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	svc := NewChatService(catalog, newMemoryChatRepo(), nil, time.Minute, nil)
	msg, err := svc.Ask(context.Background(), 1, "What is checked out right now?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !strings.Contains(msg.Response, "1 book copies are checked out") {
		t.Errorf("expected issued count, got %q", msg.Response)
	}
}

func TestChatFallbackGenreRecommendation(t *testing.T) {
	catalog := seedChatCatalog()
	svc := NewChatService(catalog, newMemoryChatRepo(), nil, time.Minute, nil)

	msg, err := svc.Ask(context.Background(), 1, "Can you recommend some science fiction books?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !strings.Contains(msg.Response, "Dune") || !strings.Contains(msg.Response, "Project Hail Mary") {
		t.Errorf("expected both science fiction titles, got %q", msg.Response)
	}
	if strings.Contains(msg.Response, "Clean Architecture") {
		t.Errorf("programming book leaked into science fiction recommendation: %q", msg.Response)
	}
}

func TestChatFallbackGenreListing(t *testing.T) {
	catalog := seedChatCatalog()
	svc := NewChatService(catalog, newMemoryChatRepo(), nil, time.Minute, nil)

	msg, err := svc.Ask(context.Background(), 1, "What genres do you carry?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !strings.Contains(msg.Response, "Programming: 2") || !strings.Contains(msg.Response, "Science Fiction: 2") {
		t.Errorf("expected genre counts, got %q", msg.Response)
	}
}

func TestChatUsesInferenceWhenAvailable(t *testing.T) {
	catalog := seedChatCatalog()
	inference := &fakeInference{response: "Certainly! Try Dune."}
	svc := NewChatService(catalog, newMemoryChatRepo(), inference, time.Minute, nil)

	msg, err := svc.Ask(context.Background(), 1, "any desert novels?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if msg.Response != "Certainly! Try Dune." {
		t.Errorf("expected inference response, got %q", msg.Response)
	}
	if inference.calls != 1 {
		t.Errorf("expected one inference call, got %d", inference.calls)
	}
}

func TestChatFallsBackWhenInferenceFails(t *testing.T) {
	catalog := seedChatCatalog()
	inference := &fakeInference{err: errors.New("upstream down")}
	svc := NewChatService(catalog, newMemoryChatRepo(), inference, time.Minute, nil)
	svc.retryCfg.InitialBackoff = time.Millisecond

	msg, err := svc.Ask(context.Background(), 1, "how many books are available?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !strings.Contains(msg.Response, "currently available") {
		t.Errorf("expected fallback answer, got %q", msg.Response)
	}
}

func TestChatCircuitBreakerStopsCallingDeadInference(t *testing.T) {
	catalog := seedChatCatalog()
	inference := &fakeInference{err: errors.New("upstream down")}
	svc := NewChatService(catalog, newMemoryChatRepo(), inference, time.Minute, nil)
	svc.retryCfg.InitialBackoff = time.Millisecond
	ctx := context.Background()

	// Each ask retries twice; three failed asks trip the breaker.
	for i := 0; i < 4; i++ {
		if _, err := svc.Ask(ctx, 1, "hello"); err != nil {
			t.Fatalf("ask %d failed: %v", i, err)
		}
	}

	calls := inference.calls
	if _, err := svc.Ask(ctx, 1, "hello again"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if inference.calls != calls {
		t.Errorf("expected no inference calls with breaker open, got %d new", inference.calls-calls)
	}
}

func TestChatSnapshotCachedWithinTTL(t *testing.T) {
	catalog := seedChatCatalog()
	svc := NewChatService(catalog, newMemoryChatRepo(), nil, time.Hour, nil)
	ctx := context.Background()

	if _, err := svc.Ask(ctx, 1, "how many books?"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	catalog.addBook("Brand New Arrival", 1)

	msg, err := svc.Ask(ctx, 1, "how many books?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if strings.Contains(msg.Response, "5 unique") {
		t.Errorf("snapshot should still be cached, got %q", msg.Response)
	}
}

func TestChatPersistsHistory(t *testing.T) {
	catalog := seedChatCatalog()
	repo := newMemoryChatRepo()
	svc := NewChatService(catalog, repo, nil, time.Minute, nil)
	ctx := context.Background()

	if _, err := svc.Ask(ctx, 7, "first question"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if _, err := svc.Ask(ctx, 7, "second question"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if _, err := svc.Ask(ctx, 8, "someone else"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	history, err := svc.History(ctx, 7, 10)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Message != "second question" {
		t.Errorf("expected newest first, got %q", history[0].Message)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	svc := NewChatService(seedChatCatalog(), newMemoryChatRepo(), nil, time.Minute, nil)

	if _, err := svc.Ask(context.Background(), 1, "   "); err == nil {
		t.Fatal("expected empty message to be rejected")
	}
}
