package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
)

// memorySearcher filters a memoryCatalog the way the SQL search does:
// case-insensitive substring over title, author, and description plus an
// exact genre match, ordered by id.
type memorySearcher struct {
	catalog *memoryCatalog
}

func (s *memorySearcher) SearchBooks(_ context.Context, query, genre string) ([]*domain.Book, error) {
	s.catalog.mu.Lock()
	defer s.catalog.mu.Unlock()

	needle := strings.ToLower(query)
	var out []*domain.Book
	for _, b := range s.catalog.books {
		if genre != "" && b.Genre != genre {
			continue
		}
		if needle != "" {
			haystack := strings.ToLower(b.Title + " " + b.Author + " " + b.Description)
			if !strings.Contains(haystack, needle) {
				continue
			}
		}
		copied := *b
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// memoryBookCache records gets and sets so tests can observe cache traffic.
type memoryBookCache struct {
	mu     sync.Mutex
	values map[string]string
	hits   int
	misses int
}

func newMemoryBookCache() *memoryBookCache {
	return &memoryBookCache{values: make(map[string]string)}
}

func (c *memoryBookCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		c.misses++
		return "", fmt.Errorf("key %s not found", key)
	}
	c.hits++
	return v, nil
}

func (c *memoryBookCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.values[key] = string(v)
	case string:
		c.values[key] = v
	default:
		return fmt.Errorf("unsupported cache value type %T", value)
	}
	return nil
}

func newTestQuery(catalog *memoryCatalog, ledger *memoryLedger, cache BookCache) *QueryService {
	return NewQueryService(catalog, &memorySearcher{catalog: catalog}, ledger, cache, time.Minute, nil)
}

func seedCatalog(catalog *memoryCatalog) {
	books := []*domain.Book{
		{Title: "The Go Programming Language", Author: "Alan Donovan", Genre: "Programming", Description: "The definitive Go reference"},
		{Title: "Clean Architecture", Author: "Robert Martin", Genre: "Programming", Description: "Structure and boundaries"},
		{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", Description: "Desert planet epic"},
		{Title: "Project Hail Mary", Author: "Andy Weir", Genre: "Science Fiction", Description: "A lone astronaut"},
	}
	for _, b := range books {
		b.TotalCopies = 1
		b.AvailableCopies = 1
		_ = catalog.CreateBook(context.Background(), b)
	}
}

func TestSearchCaseInsensitiveSubstring(t *testing.T) {
	catalog := newMemoryCatalog()
	seedCatalog(catalog)
	svc := newTestQuery(catalog, newMemoryLedger(), nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		query string
		genre string
		want  []string
	}{
		{"lowercase title fragment", "go programming", "", []string{"The Go Programming Language"}},
		{"uppercase author fragment", "HERBERT", "", []string{"Dune"}},
		{"description fragment", "astronaut", "", []string{"Project Hail Mary"}},
		{"genre only", "", "Science Fiction", []string{"Dune", "Project Hail Mary"}},
		{"query and genre combined", "a", "Programming", []string{"The Go Programming Language", "Clean Architecture"}},
		{"no match", "haskell", "", nil},
		{"genre is exact not substring", "", "Science", nil},
		{"empty query and genre returns all", "", "", []string{"The Go Programming Language", "Clean Architecture", "Dune", "Project Hail Mary"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			books, err := svc.Search(ctx, tc.query, tc.genre)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if len(books) != len(tc.want) {
				t.Fatalf("expected %d results, got %d", len(tc.want), len(books))
			}
			got := make([]string, len(books))
			for i, b := range books {
				got[i] = b.Title
			}
			sort.Strings(got)
			want := append([]string(nil), tc.want...)
			sort.Strings(want)
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("result %d: expected %q, got %q", i, want[i], got[i])
				}
			}
		})
	}
}

func TestSearchDeterministicOrder(t *testing.T) {
	catalog := newMemoryCatalog()
	seedCatalog(catalog)
	svc := newTestQuery(catalog, newMemoryLedger(), nil)

	first, err := svc.Search(context.Background(), "", "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := svc.Search(context.Background(), "", "")
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		for j := range first {
			if again[j].ID != first[j].ID {
				t.Fatalf("ordering changed between identical searches")
			}
		}
	}
}

func TestGetBookReadThroughCache(t *testing.T) {
	catalog := newMemoryCatalog()
	book := catalog.addBook("Cached", 1)
	cache := newMemoryBookCache()
	svc := newTestQuery(catalog, newMemoryLedger(), cache)
	ctx := context.Background()

	got, err := svc.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("first get failed: %v", err)
	}
	if got.Title != "Cached" {
		t.Errorf("unexpected title %q", got.Title)
	}
	if cache.misses != 1 {
		t.Errorf("expected one cache miss, got %d", cache.misses)
	}

	got, err = svc.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if got.Title != "Cached" {
		t.Errorf("unexpected title from cache %q", got.Title)
	}
	if cache.hits != 1 {
		t.Errorf("expected one cache hit, got %d", cache.hits)
	}
}

func TestGetBookMalformedCacheEntryFallsThrough(t *testing.T) {
	catalog := newMemoryCatalog()
	book := catalog.addBook("Resilient", 1)
	cache := newMemoryBookCache()
	cache.values[fmt.Sprintf("book:%d", book.ID)] = "{not json"
	svc := newTestQuery(catalog, newMemoryLedger(), cache)

	got, err := svc.GetBook(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != "Resilient" {
		t.Errorf("expected store value, got %q", got.Title)
	}
}

func TestGetBookNotFound(t *testing.T) {
	svc := newTestQuery(newMemoryCatalog(), newMemoryLedger(), nil)

	_, err := svc.GetBook(context.Background(), 404)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMyLoansDerivesOverdue(t *testing.T) {
	catalog := newMemoryCatalog()
	ledger := newMemoryLedger()
	qsvc := newTestQuery(catalog, ledger, nil)
	ctx := context.Background()

	book := catalog.addBook("Overdue Checks", 2)
	issued := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	onTime, err := ledger.CreateLoan(ctx, 5, book.ID, issued, issued.AddDate(0, 0, 14))
	if err != nil {
		t.Fatalf("create loan failed: %v", err)
	}
	late, err := ledger.CreateLoan(ctx, 5, book.ID, issued, issued.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("create loan failed: %v", err)
	}

	now := issued.AddDate(0, 0, 7) // 2026-02-08
	views, err := qsvc.MyLoans(ctx, 5, now)
	if err != nil {
		t.Fatalf("my loans failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 loans, got %d", len(views))
	}

	byID := map[int64]*LoanView{}
	for _, v := range views {
		byID[v.Loan.ID] = v
	}

	if v := byID[onTime.ID]; v.Overdue {
		t.Error("loan due in a week must not be overdue")
	} else if v.DaysUntilDue != 7 {
		t.Errorf("expected 7 days until due, got %d", v.DaysUntilDue)
	}
	if v := byID[late.ID]; !v.Overdue {
		t.Error("loan due 5 days ago must be overdue")
	} else if v.DaysUntilDue != -5 {
		t.Errorf("expected -5 days until due, got %d", v.DaysUntilDue)
	}
	for _, v := range views {
		if v.BookTitle != "Overdue Checks" {
			t.Errorf("expected joined book title, got %q", v.BookTitle)
		}
	}
}

func TestMyLoansExcludesReturned(t *testing.T) {
	catalog := newMemoryCatalog()
	ledger := newMemoryLedger()
	qsvc := newTestQuery(catalog, ledger, nil)
	ctx := context.Background()

	book := catalog.addBook("History", 2)
	now := time.Now()

	keep, _ := ledger.CreateLoan(ctx, 9, book.ID, now, now.AddDate(0, 0, 7))
	done, _ := ledger.CreateLoan(ctx, 9, book.ID, now, now.AddDate(0, 0, 7))
	if _, err := ledger.CloseLoan(ctx, done.ID, now); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	views, err := qsvc.MyLoans(ctx, 9, now)
	if err != nil {
		t.Fatalf("my loans failed: %v", err)
	}
	if len(views) != 1 || views[0].Loan.ID != keep.ID {
		t.Fatalf("expected only the active loan, got %d views", len(views))
	}
}

func TestAllLoansIncludesReturnedWithBookInfo(t *testing.T) {
	catalog := newMemoryCatalog()
	ledger := newMemoryLedger()
	qsvc := newTestQuery(catalog, ledger, nil)
	ctx := context.Background()

	book := catalog.addBook("Ledger View", 1)
	now := time.Now()
	loan, _ := ledger.CreateLoan(ctx, 3, book.ID, now, now.AddDate(0, 0, 7))
	if _, err := ledger.CloseLoan(ctx, loan.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	views, err := qsvc.AllLoans(ctx, 0, 50, now)
	if err != nil {
		t.Fatalf("all loans failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 loan, got %d", len(views))
	}
	v := views[0]
	if v.Loan.Status != domain.LoanStatusReturned {
		t.Errorf("expected returned loan in listing, got %s", v.Loan.Status)
	}
	if v.Overdue {
		t.Error("returned loans are never overdue")
	}
	if v.BookTitle != "Ledger View" {
		t.Errorf("expected book title, got %q", v.BookTitle)
	}
}
