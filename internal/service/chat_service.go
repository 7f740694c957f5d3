package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
	"github.com/yourorg/smartlib/internal/observability/metrics"
	"github.com/yourorg/smartlib/internal/reliability/circuitbreaker"
	"github.com/yourorg/smartlib/internal/reliability/retry"
	"github.com/yourorg/smartlib/pkg/cache"
)

const (
	snapshotCacheKey = "chat:snapshot"
	snapshotMaxBooks = 1000
)

// bookSummary is the per-title slice of the snapshot handed to the answerer.
type bookSummary struct {
	Title       string
	Author      string
	Genre       string
	Description string
	Available   int
	Total       int
}

// librarySnapshot is a point-in-time view of the collection used to ground
// assistant answers. It is rebuilt at most once per TTL.
type librarySnapshot struct {
	TotalTitles     int
	TotalCopies     int
	AvailableCopies int
	IssuedCopies    int
	Genres          map[string]int
	Books           []bookSummary
}

func (s *librarySnapshot) genreList() string {
	names := make([]string, 0, len(s.Genres))
	for g := range s.Genres {
		names = append(names, g)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, g := range names {
		parts[i] = fmt.Sprintf("%s (%d)", g, s.Genres[g])
	}
	return strings.Join(parts, ", ")
}

// InferenceClient calls a remote text-generation service. nil disables
// remote inference and every answer comes from the rule-based fallback.
type InferenceClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HTTPInferenceClient talks to a hosted inference endpoint.
type HTTPInferenceClient struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPInferenceClient creates an inference client for the given endpoint.
func NewHTTPInferenceClient(url, token string) *HTTPInferenceClient {
	return &HTTPInferenceClient{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

// Generate sends the prompt and returns the generated text.
func (c *HTTPInferenceClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"inputs": prompt,
		"parameters": map[string]interface{}{
			"max_new_tokens":   800,
			"temperature":      0.7,
			"return_full_text": false,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode, payload)
	}

	var out []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	if len(out) == 0 || strings.TrimSpace(out[0].GeneratedText) == "" {
		return "", fmt.Errorf("inference endpoint returned empty generation")
	}
	return strings.TrimSpace(out[0].GeneratedText), nil
}

// ChatService answers member questions about the collection. Remote
// inference sits behind a circuit breaker with retries; when it is down,
// unconfigured, or tripped, a rule-based answerer built on the library
// snapshot takes over, so chat never hard-fails with the catalog up.
type ChatService struct {
	catalog   domain.CatalogStore
	chats     domain.ChatRepository
	inference InferenceClient
	breaker   *circuitbreaker.CircuitBreaker
	retryCfg  *retry.Config
	snapshots *cache.Cache
	ttl       time.Duration
	logger    *slog.Logger
}

// NewChatService creates a new chat service. inference may be nil.
func NewChatService(
	catalog domain.CatalogStore,
	chats domain.ChatRepository,
	inference InferenceClient,
	snapshotTTL time.Duration,
	logger *slog.Logger,
) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}

	return &ChatService{
		catalog:   catalog,
		chats:     chats,
		inference: inference,
		breaker:   circuitbreaker.NewCircuitBreaker(3, 1, 30*time.Second),
		retryCfg: &retry.Config{
			MaxAttempts:       2,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
		},
		snapshots: cache.New(),
		ttl:       snapshotTTL,
		logger:    logger,
	}
}

// Ask answers a member's question and records the exchange.
func (s *ChatService) Ask(ctx context.Context, userID int64, message string) (*domain.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("building library snapshot: %w", err)
	}

	response, source := s.answer(ctx, snap, message)
	metrics.ObserveChat(source)

	msg := &domain.ChatMessage{
		UserID:   userID,
		Message:  message,
		Response: response,
	}
	if err := s.chats.Create(ctx, msg); err != nil {
		// The answer is still useful even when history cannot be written.
		s.logger.Error("failed to persist chat message",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return msg, nil
}

// History returns the user's most recent exchanges, newest first.
func (s *ChatService) History(ctx context.Context, userID int64, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.chats.ListByUser(ctx, userID, limit)
}

func (s *ChatService) answer(ctx context.Context, snap *librarySnapshot, message string) (response, source string) {
	if s.inference != nil && s.breaker.AllowRequest() {
		prompt := buildPrompt(snap, message)
		text, err := retry.Do(ctx, s.retryCfg, s.logger, "chat_inference", func(ctx context.Context) (string, error) {
			return s.inference.Generate(ctx, prompt)
		})
		if err == nil {
			s.breaker.RecordSuccess()
			return text, "inference"
		}
		s.breaker.RecordFailure()
		s.logger.Warn("inference unavailable, using fallback", slog.String("error", err.Error()))
	}
	return fallbackAnswer(snap, message), "fallback"
}

// snapshot returns the cached collection view, rebuilding it on expiry.
func (s *ChatService) snapshot(ctx context.Context) (*librarySnapshot, error) {
	if cached, ok := s.snapshots.Get(snapshotCacheKey); ok {
		if snap, ok := cached.(*librarySnapshot); ok {
			return snap, nil
		}
	}

	books, err := s.catalog.ListBooks(ctx, 0, snapshotMaxBooks)
	if err != nil {
		return nil, err
	}

	snap := &librarySnapshot{
		TotalTitles: len(books),
		Genres:      map[string]int{},
	}
	for _, b := range books {
		snap.TotalCopies += b.TotalCopies
		snap.AvailableCopies += b.AvailableCopies
		if b.Genre != "" {
			snap.Genres[b.Genre]++
		}
		desc := b.Description
		if desc == "" {
			desc = "No description available"
		}
		genre := b.Genre
		if genre == "" {
			genre = "Unknown"
		}
		snap.Books = append(snap.Books, bookSummary{
			Title:       b.Title,
			Author:      b.Author,
			Genre:       genre,
			Description: desc,
			Available:   b.AvailableCopies,
			Total:       b.TotalCopies,
		})
	}
	snap.IssuedCopies = snap.TotalCopies - snap.AvailableCopies

	s.snapshots.Set(snapshotCacheKey, snap, s.ttl)
	return snap, nil
}

func buildPrompt(snap *librarySnapshot, message string) string {
	var b strings.Builder
	b.WriteString("You are a helpful library assistant. Library information:\n")
	fmt.Fprintf(&b, "- Total unique titles: %d\n", snap.TotalTitles)
	fmt.Fprintf(&b, "- Total copies: %d\n", snap.TotalCopies)
	fmt.Fprintf(&b, "- Available copies: %d\n", snap.AvailableCopies)
	fmt.Fprintf(&b, "- Issued copies: %d\n", snap.IssuedCopies)
	fmt.Fprintf(&b, "- Genres: %s\n", snap.genreList())
	b.WriteString("- Books:\n")
	for i, book := range snap.Books {
		if i >= 10 {
			fmt.Fprintf(&b, "... and %d more titles.\n", snap.TotalTitles-10)
			break
		}
		desc := book.Description
		if len(desc) > 100 {
			desc = desc[:100] + "..."
		}
		fmt.Fprintf(&b, "%d. %s by %s (%s) - %s\n", i+1, book.Title, book.Author, book.Genre, desc)
	}
	b.WriteString("\nAnswer the user's question using only the library information above. ")
	b.WriteString("For recommendation requests, match genre, title, author, or description and list matching titles with details.\n\n")
	fmt.Fprintf(&b, "User question: %s\n", message)
	return b.String()
}

var recommendationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`books about (.+?)(?:\.|$|,|\?)`),
	regexp.MustCompile(`books on (.+?)(?:\.|$|,|\?)`),
	regexp.MustCompile(`books in (.+?)(?:\.|$|,|\?)`),
	regexp.MustCompile(`interested in (.+?)(?:\.|$|,|\?)`),
	regexp.MustCompile(`looking for (.+?)(?:\.|$|,|\?)`),
	regexp.MustCompile(`want to read (.+?)(?:\.|$|,|\?)`),
	regexp.MustCompile(`recommend (.+?)(?:\.|$|,|\?)`),
	regexp.MustCompile(`suggest (.+?)(?:\.|$|,|\?)`),
}

var recommendationKeywords = []string{
	"recommend", "suggest", "want to read", "looking for",
	"books about", "books on", "books in", "interested in",
}

// fallbackAnswer is the rule-based answerer used when inference is down.
// It handles counts, availability, listings, summaries, genres, and
// keyword-matched recommendations from the snapshot.
func fallbackAnswer(snap *librarySnapshot, message string) string {
	msg := strings.ToLower(message)

	for _, kw := range recommendationKeywords {
		if strings.Contains(msg, kw) {
			return recommendBooks(snap, msg)
		}
	}

	switch {
	case strings.Contains(msg, "how many books") || strings.Contains(msg, "total books"):
		var b strings.Builder
		b.WriteString("The library currently has:\n")
		fmt.Fprintf(&b, "- %d unique book titles\n", snap.TotalTitles)
		fmt.Fprintf(&b, "- %d total book copies\n", snap.TotalCopies)
		fmt.Fprintf(&b, "- %d copies available for checkout\n", snap.AvailableCopies)
		fmt.Fprintf(&b, "- %d copies currently checked out\n", snap.IssuedCopies)
		if len(snap.Genres) > 0 {
			fmt.Fprintf(&b, "\nThe collection spans %d genres: %s.", len(snap.Genres), snap.genreList())
		}
		return b.String()

	case strings.Contains(msg, "available") && (strings.Contains(msg, "books") || strings.Contains(msg, "copies")):
		return fmt.Sprintf("There are %d book copies currently available out of %d total copies. %d copies are checked out.",
			snap.AvailableCopies, snap.TotalCopies, snap.IssuedCopies)

	case strings.Contains(msg, "issued") || strings.Contains(msg, "checked out") || strings.Contains(msg, "borrowed"):
		return fmt.Sprintf("Currently %d book copies are checked out. %d of %d copies are still available.",
			snap.IssuedCopies, snap.AvailableCopies, snap.TotalCopies)

	case strings.Contains(msg, "all books") || strings.Contains(msg, "list books") || strings.Contains(msg, "books in library"):
		var b strings.Builder
		b.WriteString("Here are the books in our library:\n\n")
		for i, book := range snap.Books {
			fmt.Fprintf(&b, "%d. %s by %s\n   Genre: %s\n   Availability: %d of %d copies\n\n",
				i+1, book.Title, book.Author, book.Genre, book.Available, book.Total)
		}
		return b.String()

	case strings.Contains(msg, "summary") || strings.Contains(msg, "summaries"):
		var b strings.Builder
		b.WriteString("Here are summaries of books in our library:\n\n")
		for i, book := range snap.Books {
			if i >= 10 {
				fmt.Fprintf(&b, "Plus %d more books in the collection.", snap.TotalTitles-10)
				break
			}
			fmt.Fprintf(&b, "%s by %s: %s\n\n", book.Title, book.Author, book.Description)
		}
		return b.String()

	case strings.Contains(msg, "genre"):
		var b strings.Builder
		b.WriteString("The library has books in the following genres:\n")
		names := make([]string, 0, len(snap.Genres))
		for g := range snap.Genres {
			names = append(names, g)
		}
		sort.Strings(names)
		for _, g := range names {
			fmt.Fprintf(&b, "- %s: %d books\n", g, snap.Genres[g])
		}
		return b.String()
	}

	// Last resort: match any long word of the message against the books.
	var matches []bookSummary
	words := strings.Fields(msg)
	for _, book := range snap.Books {
		text := strings.ToLower(book.Title + " " + book.Author + " " + book.Genre + " " + book.Description)
		for _, w := range words {
			if len(w) > 3 && strings.Contains(text, w) {
				matches = append(matches, book)
				break
			}
		}
	}
	if len(matches) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "I found %d book(s) that might interest you:\n\n", len(matches))
		for i, book := range matches {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s by %s\n   Genre: %s\n   Description: %s\n\n",
				i+1, book.Title, book.Author, book.Genre, book.Description)
		}
		return b.String()
	}

	var b strings.Builder
	b.WriteString("I'm here to help you with library information! The library has:\n")
	fmt.Fprintf(&b, "- %d unique book titles\n", snap.TotalTitles)
	fmt.Fprintf(&b, "- %d copies available for checkout\n", snap.AvailableCopies)
	fmt.Fprintf(&b, "- %d copies currently checked out\n\n", snap.IssuedCopies)
	b.WriteString("You can ask me about:\n")
	b.WriteString("- How many books are in the library\n")
	b.WriteString("- How many books are available or checked out\n")
	b.WriteString("- List of all books, book summaries, and genres\n")
	b.WriteString("- Book recommendations (e.g. 'recommend books about science')\n")
	return b.String()
}

func recommendBooks(snap *librarySnapshot, msg string) string {
	var topic string

	// A mentioned genre wins over free-text topic extraction.
	for genre := range snap.Genres {
		if strings.Contains(msg, strings.ToLower(genre)) {
			topic = genre
			break
		}
	}
	if topic == "" {
		for _, re := range recommendationPatterns {
			if m := re.FindStringSubmatch(msg); m != nil {
				topic = strings.TrimSpace(m[1])
				break
			}
		}
	}

	if topic == "" {
		// Generic request: sample across genres.
		var b strings.Builder
		b.WriteString("Here are some book recommendations from different genres in our library:\n\n")
		seen := map[string]bool{}
		count := 0
		for _, book := range snap.Books {
			if count >= 8 {
				break
			}
			if seen[book.Genre] && len(seen) >= 3 {
				continue
			}
			seen[book.Genre] = true
			fmt.Fprintf(&b, "%s by %s\n   Genre: %s\n   Availability: %d of %d copies\n\n",
				book.Title, book.Author, book.Genre, book.Available, book.Total)
			count++
		}
		return b.String()
	}

	needle := strings.ToLower(topic)
	var matches []bookSummary
	for _, book := range snap.Books {
		text := strings.ToLower(book.Title + " " + book.Author + " " + book.Genre + " " + book.Description)
		if strings.Contains(text, needle) || strings.EqualFold(book.Genre, topic) {
			matches = append(matches, book)
		}
	}

	var b strings.Builder
	if len(matches) == 0 {
		fmt.Fprintf(&b, "I couldn't find exact matches for '%s', but here are some books from our library:\n\n", topic)
		for i, book := range snap.Books {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s by %s\n   Genre: %s\n\n", i+1, book.Title, book.Author, book.Genre)
		}
		fmt.Fprintf(&b, "Available genres: %s", snap.genreList())
		return b.String()
	}

	fmt.Fprintf(&b, "Based on your interest in '%s', here are some recommendations from our library:\n\n", topic)
	for i, book := range matches {
		if i >= 10 {
			fmt.Fprintf(&b, "Plus %d more books matching your interest!\n", len(matches)-10)
			break
		}
		fmt.Fprintf(&b, "%d. %s by %s\n   Genre: %s\n   Description: %s\n   Availability: %d of %d copies\n\n",
			i+1, book.Title, book.Author, book.Genre, book.Description, book.Available, book.Total)
	}
	return b.String()
}
