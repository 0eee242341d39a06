package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"ReviewHarvester/internal/domain"
)

func TestIngestStopsAtKnownStreak(t *testing.T) {
	t.Parallel()

	fetcher := chainPages(
		[]domain.RawReview{raw("r3", "good", "2025-03-01T00:00:00Z"), raw("r1", "...", "2025-01-01T00:00:00Z")},
	)
	index := KnownKeysFrom([]domain.Review{{Key: "r1"}, {Key: "r2"}})

	report, err := NewIngestor(fetcher, nil, nil).Ingest(context.Background(), index, IngestionLimits{KnownStreakStop: 1})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if got := keysOf(report.Records); !reflect.DeepEqual(got, []string{"r3"}) {
		t.Fatalf("expected [r3], got %v", got)
	}
	if report.Known != 1 || fetcher.calls() != 1 {
		t.Fatalf("unexpected report %+v after %d calls", report, fetcher.calls())
	}
}

func TestIngestStreakBoundsPageRequests(t *testing.T) {
	t.Parallel()

	const pageSize = 3
	var pages [][]domain.RawReview
	pages = append(pages, []domain.RawReview{
		raw("n1", "a", "2025-03-03T00:00:00Z"),
		raw("n2", "b", "2025-03-02T00:00:00Z"),
		raw("n3", "c", "2025-03-01T00:00:00Z"),
	})
	var known []domain.Review
	for p := 0; p < 10; p++ {
		var page []domain.RawReview
		for i := 0; i < pageSize; i++ {
			key := fmt.Sprintf("k%d-%d", p, i)
			known = append(known, domain.Review{Key: key})
			page = append(page, raw(key, "old", "2024-01-01T00:00:00Z"))
		}
		pages = append(pages, page)
	}
	fetcher := chainPages(pages...)

	const streak = 4
	report, err := NewIngestor(fetcher, nil, nil).Ingest(context.Background(), KnownKeysFrom(known), IngestionLimits{KnownStreakStop: streak})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	bound := 1 + (streak+pageSize-1)/pageSize
	if fetcher.calls() > bound {
		t.Fatalf("expected at most %d page requests, got %d", bound, fetcher.calls())
	}
	if report.StopReason != StopKnownStreak {
		t.Fatalf("expected streak stop, got %s", report.StopReason)
	}
	if len(report.Records) != 3 {
		t.Fatalf("expected the 3 new records, got %d", len(report.Records))
	}
}

func TestIngestNewRecordResetsStreak(t *testing.T) {
	t.Parallel()

	fetcher := chainPages(
		[]domain.RawReview{raw("k1", "x", ""), raw("n1", "new", ""), raw("k2", "x", "")},
		[]domain.RawReview{raw("k3", "x", ""), raw("k4", "x", "")},
	)
	index := KnownKeysFrom([]domain.Review{{Key: "k1"}, {Key: "k2"}, {Key: "k3"}, {Key: "k4"}})

	report, err := NewIngestor(fetcher, nil, nil).Ingest(context.Background(), index, IngestionLimits{KnownStreakStop: 2})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if fetcher.calls() != 2 {
		t.Fatalf("streak was reset by n1, second page must be requested; got %d calls", fetcher.calls())
	}
	if report.StopReason != StopNoCursor {
		t.Fatalf("expected no-cursor stop, got %s", report.StopReason)
	}
}

func TestIngestCapReturnsExactlyMaxNewRecords(t *testing.T) {
	t.Parallel()

	var pages [][]domain.RawReview
	for p := 0; p < 3; p++ {
		var page []domain.RawReview
		for i := 0; i < 3; i++ {
			key := fmt.Sprintf("n%d-%d", p, i)
			page = append(page, raw(key, "text "+key, ""))
		}
		pages = append(pages, page)
	}
	fetcher := chainPages(pages...)

	report, err := NewIngestor(fetcher, nil, nil).Ingest(context.Background(), KnownKeys{}, IngestionLimits{MaxNewRecords: 4, KnownStreakStop: 8})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if len(report.Records) != 4 {
		t.Fatalf("expected exactly 4 records, got %d", len(report.Records))
	}
	if report.StopReason != StopCapReached || fetcher.calls() != 2 {
		t.Fatalf("expected cap stop after 2 pages, got %s after %d", report.StopReason, fetcher.calls())
	}
}

func TestIngestFiltersEmptyTextAndIntraRunDuplicates(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{}
	fetcher := chainPages(
		[]domain.RawReview{raw("a", "first", ""), raw("blank", "   ", ""), raw("a", "again", "")},
		[]domain.RawReview{raw("b", "second", ""), raw("a", "third", "")},
	)

	report, err := NewIngestor(fetcher, archive, nil).Ingest(context.Background(), KnownKeys{}, IngestionLimits{KnownStreakStop: 8})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if got := keysOf(report.Records); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected records %v", got)
	}
	if report.Records[0].Text != "first" {
		t.Fatalf("first occurrence must win, got %q", report.Records[0].Text)
	}
	if report.Discarded != 1 || report.Duplicates != 2 {
		t.Fatalf("unexpected counters %+v", report)
	}
	if len(archive.payloads) != 2 {
		t.Fatalf("expected payloads of admitted records only, got %d", len(archive.payloads))
	}
}

func TestIngestStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := chainPages([]domain.RawReview{raw("a", "x", "")}, nil, []domain.RawReview{raw("b", "y", "")})

	report, err := NewIngestor(fetcher, nil, nil).Ingest(context.Background(), KnownKeys{}, IngestionLimits{KnownStreakStop: 8})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if report.StopReason != StopEmptyPage || fetcher.calls() != 2 {
		t.Fatalf("expected stop on the empty second page, got %s after %d calls", report.StopReason, fetcher.calls())
	}
}

func TestIngestRespectsMaxPages(t *testing.T) {
	t.Parallel()

	fetcher := chainPages(
		[]domain.RawReview{raw("a", "x", "")},
		[]domain.RawReview{raw("b", "x", "")},
		[]domain.RawReview{raw("c", "x", "")},
	)

	report, err := NewIngestor(fetcher, nil, nil).Ingest(context.Background(), KnownKeys{}, IngestionLimits{KnownStreakStop: 8, MaxPages: 2})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if report.StopReason != StopMaxPages || fetcher.calls() != 2 {
		t.Fatalf("expected max pages stop, got %s after %d calls", report.StopReason, fetcher.calls())
	}
}

func TestIngestKeepsAccumulatedRecordsOnFetchError(t *testing.T) {
	t.Parallel()

	fetcher := chainPages(
		[]domain.RawReview{raw("a", "x", "")},
		[]domain.RawReview{raw("b", "y", "")},
	)
	fetchErr := &domain.TransientFetchError{Attempts: 5, Err: errors.New("429")}
	fetcher.errs["p2"] = fetchErr

	report, err := NewIngestor(fetcher, nil, nil).Ingest(context.Background(), KnownKeys{}, IngestionLimits{KnownStreakStop: 8})
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if got := keysOf(report.Records); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("records from the first page must be kept, got %v", got)
	}
}

func TestIngestSleepsBetweenPages(t *testing.T) {
	t.Parallel()

	fetcher := chainPages(
		[]domain.RawReview{raw("a", "x", "")},
		[]domain.RawReview{raw("b", "y", "")},
		[]domain.RawReview{raw("c", "z", "")},
	)
	ingestor := NewIngestor(fetcher, nil, nil)
	var sleeps []time.Duration
	ingestor.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	if _, err := ingestor.Ingest(context.Background(), KnownKeys{}, IngestionLimits{KnownStreakStop: 8, InterPageDelay: time.Second}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !reflect.DeepEqual(sleeps, []time.Duration{time.Second, time.Second}) {
		t.Fatalf("expected a delay between each pair of pages, got %v", sleeps)
	}
}

func TestIngestEmptyKeyRecordsAreAdmitted(t *testing.T) {
	t.Parallel()

	fetcher := chainPages([]domain.RawReview{raw("", "anonymous", "2025-01-01T00:00:00Z"), raw("k", "x", "")})
	index := KnownKeysFrom([]domain.Review{{Key: "k"}})

	report, err := NewIngestor(fetcher, nil, nil).Ingest(context.Background(), index, IngestionLimits{KnownStreakStop: 8})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if len(report.Records) != 1 || report.Records[0].Text != "anonymous" {
		t.Fatalf("expected the keyless record, got %+v", report.Records)
	}
}

func TestLoadKnownKeys(t *testing.T) {
	t.Parallel()

	primary := &memStore{reviews: []domain.Review{{Key: " r1 "}, {Key: ""}}}
	extra := &memStore{reviews: []domain.Review{{Key: "r2"}}}

	keys, err := LoadKnownKeys(context.Background(), primary, extra, nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if keys.Len() != 2 || !keys.Has("r1") || !keys.Has("r2") || keys.Has("") {
		t.Fatalf("unexpected keys %v", keys)
	}

	broken := &memStore{loadErr: &domain.StoreReadError{Location: "x.csv", Err: errors.New("bad row")}}
	_, err = LoadKnownKeys(context.Background(), primary, broken)
	var readErr *domain.StoreReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected StoreReadError, got %v", err)
	}
}
