package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
)

type recordingInvalidator struct {
	mu       sync.Mutex
	patterns []string
}

func (r *recordingInvalidator) InvalidatePattern(_ context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
	return nil
}

func newTestCatalogStack() (*memoryCatalog, *memoryLedger, *CatalogService, *LendingService, *recordingInvalidator) {
	catalog := newMemoryCatalog()
	ledger := newMemoryLedger()
	lending := newTestLending(catalog, ledger, nil)
	inv := &recordingInvalidator{}
	svc := NewCatalogService(catalog, lending, inv, nil)
	return catalog, ledger, svc, lending, inv
}

func TestCreateBookValidation(t *testing.T) {
	_, _, svc, _, _ := newTestCatalogStack()
	ctx := context.Background()

	cases := []struct {
		name  string
		input BookInput
	}{
		{"missing title", BookInput{Author: "A", TotalCopies: 1}},
		{"missing author", BookInput{Title: "T", TotalCopies: 1}},
		{"zero copies", BookInput{Title: "T", Author: "A", TotalCopies: 0}},
		{"negative copies", BookInput{Title: "T", Author: "A", TotalCopies: -2}},
		{"implausible year", BookInput{Title: "T", Author: "A", TotalCopies: 1, PublicationYear: 99}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateBook(ctx, tc.input); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateBookStartsFullyAvailable(t *testing.T) {
	_, _, svc, _, inv := newTestCatalogStack()

	book, err := svc.CreateBook(context.Background(), BookInput{
		Title:           "Catalog Entry",
		Author:          "Some Author",
		Genre:           "Reference",
		PublicationYear: 2020,
		TotalCopies:     4,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if book.ID == 0 {
		t.Error("expected assigned id")
	}
	if book.AvailableCopies != 4 {
		t.Errorf("expected all copies available, got %d", book.AvailableCopies)
	}
	if len(inv.patterns) != 1 || inv.patterns[0] != "book:*" {
		t.Errorf("expected one cache invalidation of book:*, got %v", inv.patterns)
	}
}

func TestUpdateBookMetadataAndCopies(t *testing.T) {
	catalog, _, svc, lending, _ := newTestCatalogStack()
	ctx := context.Background()

	book := catalog.addBook("Old Title", 2)
	if _, err := lending.Issue(ctx, 1, book.ID, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	updated, err := svc.UpdateBook(ctx, book.ID, BookInput{
		Title:       "New Title",
		Author:      "New Author",
		Genre:       "History",
		TotalCopies: 5,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Title != "New Title" || updated.Genre != "History" {
		t.Errorf("metadata not applied: %+v", updated)
	}
	if updated.TotalCopies != 5 || updated.AvailableCopies != 4 {
		t.Errorf("expected 5 total / 4 available with one lent out, got %d/%d",
			updated.TotalCopies, updated.AvailableCopies)
	}

	// One copy is lent out, so total cannot drop below it... but it can
	// drop to exactly the lent-out count.
	if _, err := svc.UpdateBook(ctx, book.ID, BookInput{Title: "New Title", Author: "New Author", TotalCopies: 1}); err != nil {
		t.Fatalf("shrink to lent-out count failed: %v", err)
	}
	got, _ := catalog.GetBook(ctx, book.ID)
	if got.AvailableCopies != 0 {
		t.Errorf("expected 0 available after shrink, got %d", got.AvailableCopies)
	}
}

// issueDuringSaveCatalog fires a callback the first time the metadata save
// runs, simulating a lend that lands between the copy-count resize and the
// metadata write.
type issueDuringSaveCatalog struct {
	*memoryCatalog
	once   sync.Once
	onSave func()
}

func (c *issueDuringSaveCatalog) UpdateBook(ctx context.Context, b *domain.Book) error {
	c.once.Do(c.onSave)
	return c.memoryCatalog.UpdateBook(ctx, b)
}

func TestUpdateBookDoesNotUndoConcurrentIssue(t *testing.T) {
	catalog := newMemoryCatalog()
	ledger := newMemoryLedger()
	ctx := context.Background()

	book := catalog.addBook("Contended", 2)

	wrapped := &issueDuringSaveCatalog{memoryCatalog: catalog}
	lending := newTestLending(wrapped, ledger, nil)
	svc := NewCatalogService(wrapped, lending, nil, nil)

	wrapped.onSave = func() {
		if _, err := lending.Issue(ctx, 7, book.ID, time.Now().Add(24*time.Hour)); err != nil {
			t.Errorf("interleaved issue failed: %v", err)
		}
	}

	if _, err := svc.UpdateBook(ctx, book.ID, BookInput{
		Title:       "Renamed",
		Author:      "Same Author",
		TotalCopies: 2,
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := catalog.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	active, err := ledger.ActiveLoansForBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("active loans failed: %v", err)
	}
	if got.AvailableCopies != got.TotalCopies-len(active) {
		t.Fatalf("invariant broken: available=%d active=%d total=%d",
			got.AvailableCopies, len(active), got.TotalCopies)
	}
	if got.Title != "Renamed" {
		t.Errorf("metadata not applied: %+v", got)
	}
}

func TestUpdateBookUnknown(t *testing.T) {
	_, _, svc, _, _ := newTestCatalogStack()

	_, err := svc.UpdateBook(context.Background(), 12345, BookInput{Title: "T", Author: "A", TotalCopies: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteBookThroughEngine(t *testing.T) {
	catalog, _, svc, lending, inv := newTestCatalogStack()
	ctx := context.Background()

	book := catalog.addBook("Removable", 1)
	loan, err := lending.Issue(ctx, 1, book.ID, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if err := svc.DeleteBook(ctx, book.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict while loan active, got %v", err)
	}
	if len(inv.patterns) != 0 {
		t.Error("failed delete must not invalidate the cache")
	}

	if _, err := lending.Return(ctx, loan.ID); err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if err := svc.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(inv.patterns) != 1 {
		t.Errorf("expected one invalidation after delete, got %d", len(inv.patterns))
	}
}
