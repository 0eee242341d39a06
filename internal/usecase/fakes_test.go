package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]ports.Page
	errs    map[string]error
	cursors []string
}

func (f *fakeFetcher) FetchPage(_ context.Context, cursor string) (ports.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if err := f.errs[cursor]; err != nil {
		return ports.Page{}, err
	}
	page, ok := f.pages[cursor]
	if !ok {
		return ports.Page{}, fmt.Errorf("unexpected cursor %q", cursor)
	}
	return page, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cursors)
}

// chainPages links pages with cursors "p2", "p3", ... starting from the empty cursor.
func chainPages(pages ...[]domain.RawReview) *fakeFetcher {
	f := &fakeFetcher{pages: map[string]ports.Page{}, errs: map[string]error{}}
	for i, reviews := range pages {
		cursor := ""
		if i > 0 {
			cursor = fmt.Sprintf("p%d", i+1)
		}
		next := ""
		if i < len(pages)-1 {
			next = fmt.Sprintf("p%d", i+2)
		}
		f.pages[cursor] = ports.Page{Reviews: reviews, NextCursor: next}
	}
	return f
}

func raw(key, text, iso string) domain.RawReview {
	return domain.RawReview{
		Key:     key,
		Text:    text,
		Author:  "author " + key,
		Date:    iso,
		ISODate: iso,
		Payload: []byte(fmt.Sprintf(`{"review_id":%q}`, key)),
	}
}

type memStore struct {
	mu         sync.Mutex
	reviews    []domain.Review
	loadErr    error
	replaceErr error
	writes     []ports.WriteOptions
}

func (m *memStore) Load(context.Context) ([]domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]domain.Review(nil), m.reviews...), nil
}

func (m *memStore) Replace(_ context.Context, reviews []domain.Review, opts ports.WriteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.reviews = append([]domain.Review(nil), reviews...)
	m.writes = append(m.writes, opts)
	return nil
}

func (m *memStore) Location() string { return "memory" }

func (m *memStore) snapshot() []domain.Review {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Review(nil), m.reviews...)
}

type fakeClassifier struct {
	mu     sync.Mutex
	calls  []string
	result func(text string) (domain.Classification, error)
}

func (f *fakeClassifier) Classify(_ context.Context, text string) (domain.Classification, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.result != nil {
		return f.result(text)
	}
	if strings.Contains(text, "boom") {
		return domain.Classification{}, errors.New("upstream unavailable")
	}
	return domain.Classification{Labels: []string{"Atendimento"}, Confidence: 0.8, Rationale: "ok"}, nil
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Publish(_ context.Context, message string) error {
	f.messages = append(f.messages, message)
	return f.err
}

type fakeArchive struct {
	payloads [][]byte
}

func (f *fakeArchive) Append(_ context.Context, payloads [][]byte) error {
	f.payloads = append(f.payloads, payloads...)
	return nil
}

func keysOf(reviews []domain.Review) []string {
	out := make([]string, len(reviews))
	for i, r := range reviews {
		out[i] = r.Key
	}
	return out
}

func storedReview(key, text, iso string) domain.Review {
	return domain.NewReview(raw(key, text, iso))
}
