package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

func TestPipelineConcreteScenario(t *testing.T) {
	t.Parallel()

	store := &memStore{reviews: []domain.Review{
		storedReview("r1", "...", "2025-01-01T00:00:00Z"),
		storedReview("r2", "fine", "2024-12-01T00:00:00Z"),
	}}
	fetcher := chainPages([]domain.RawReview{
		raw("r3", "good", "2025-03-01T00:00:00Z"),
		raw("r1", "...", "2025-01-01T00:00:00Z"),
	})

	pipeline := NewPipeline(PipelineDeps{Fetcher: fetcher, Store: store}, PipelineOptions{
		Limits: IngestionLimits{KnownStreakStop: 1},
	})
	summary, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.NewRecordsAdded != 1 || summary.TotalRecords != 3 || summary.NewlyClassified != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := keysOf(store.snapshot()); !reflect.DeepEqual(got, []string{"r3", "r1", "r2"}) {
		t.Fatalf("unexpected store order %v", got)
	}
}

func TestPipelineIsIdempotent(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	newFetcher := func() *fakeFetcher {
		return chainPages(
			[]domain.RawReview{raw("a", "x", "2025-02-01T00:00:00Z"), raw("b", "y", "2025-01-01T00:00:00Z")},
			[]domain.RawReview{raw("c", "z", "2024-12-01T00:00:00Z")},
		)
	}
	opts := PipelineOptions{Limits: IngestionLimits{KnownStreakStop: 2}}

	first, err := NewPipeline(PipelineDeps{Fetcher: newFetcher(), Store: store}, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.NewRecordsAdded != 3 {
		t.Fatalf("expected 3 new records, got %+v", first)
	}
	afterFirst := store.snapshot()

	second, err := NewPipeline(PipelineDeps{Fetcher: newFetcher(), Store: store}, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.NewRecordsAdded != 0 || second.TotalRecords != 3 {
		t.Fatalf("second run must add nothing, got %+v", second)
	}
	if !reflect.DeepEqual(store.snapshot(), afterFirst) || len(store.writes) != 1 {
		t.Fatalf("store changed on the second run (writes=%d)", len(store.writes))
	}
}

func TestPipelinePersistsPartialIngestion(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	fetcher := chainPages(
		[]domain.RawReview{raw("a", "x", "2025-02-01T00:00:00Z")},
		[]domain.RawReview{raw("b", "y", "2025-01-01T00:00:00Z")},
	)
	fetcher.errs["p2"] = &domain.TransientFetchError{Attempts: 5, Err: errors.New("status 503")}

	summary, err := NewPipeline(PipelineDeps{Fetcher: fetcher, Store: store, Classifier: &fakeClassifier{}}, PipelineOptions{
		Limits: IngestionLimits{KnownStreakStop: 8},
	}).Run(context.Background())

	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageIngest {
		t.Fatalf("expected ingest stage error, got %v", err)
	}
	var fetchErr *domain.TransientFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected the fetch error to be preserved, got %v", err)
	}
	if summary.NewRecordsAdded != 1 || len(store.snapshot()) != 1 {
		t.Fatalf("first page must be persisted, got %+v", summary)
	}
}

func TestPipelineCorruptStoreAbortsBeforeFetching(t *testing.T) {
	t.Parallel()

	store := &memStore{loadErr: &domain.StoreReadError{Location: "reviews.csv", Err: errors.New("bare quote")}}
	fetcher := chainPages([]domain.RawReview{raw("a", "x", "")})

	_, err := NewPipeline(PipelineDeps{Fetcher: fetcher, Store: store}, PipelineOptions{
		Limits: IngestionLimits{KnownStreakStop: 8},
	}).Run(context.Background())

	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageLoadIndex {
		t.Fatalf("expected load-index stage error, got %v", err)
	}
	var readErr *domain.StoreReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected StoreReadError, got %v", err)
	}
	if fetcher.calls() != 0 || len(store.writes) != 0 {
		t.Fatalf("nothing may be fetched or written after a read failure")
	}
}

func TestPipelineWriteFailureIsMergeStage(t *testing.T) {
	t.Parallel()

	store := &memStore{replaceErr: &domain.StoreWriteError{Location: "memory", Err: errors.New("rename")}}
	fetcher := chainPages([]domain.RawReview{raw("a", "x", "")})

	_, err := NewPipeline(PipelineDeps{Fetcher: fetcher, Store: store}, PipelineOptions{
		Limits: IngestionLimits{KnownStreakStop: 8},
	}).Run(context.Background())

	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageMerge {
		t.Fatalf("expected merge stage error, got %v", err)
	}
}

func TestPipelineClassifiesAndNotifies(t *testing.T) {
	t.Parallel()

	existing := storedReview("old", "unlabelled before", "2024-01-01T00:00:00Z")
	store := &memStore{reviews: []domain.Review{existing}}
	fetcher := chainPages([]domain.RawReview{
		raw("n1", "great", "2025-02-01T00:00:00Z"),
		raw("n2", "boom", "2025-01-01T00:00:00Z"),
	})
	notifier := &fakeNotifier{}

	summary, err := NewPipeline(PipelineDeps{
		Fetcher:    fetcher,
		Store:      store,
		Classifier: &fakeClassifier{},
		Notifier:   notifier,
	}, PipelineOptions{
		Limits:   IngestionLimits{KnownStreakStop: 8},
		Classify: ClassifyOptions{MinInterval: time.Millisecond},
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.NewRecordsAdded != 2 || summary.NewlyClassified != 2 || summary.ClassifyFailed != 1 || summary.TotalRecords != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.ClassifyPending != 1 {
		t.Fatalf("failed record must stay pending, got %d", summary.ClassifyPending)
	}
	if len(store.writes) != 2 || store.writes[0].SkipBackup || !store.writes[1].SkipBackup {
		t.Fatalf("expected merge write with backup then classify write without, got %+v", store.writes)
	}
	if len(notifier.messages) != 1 || !strings.Contains(notifier.messages[0], "New records: 2") {
		t.Fatalf("unexpected notification %v", notifier.messages)
	}
}

func TestPipelineExtraKeySourcesCountAsKnown(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	extra := &memStore{reviews: []domain.Review{{Key: "seen-elsewhere"}}}
	fetcher := chainPages([]domain.RawReview{
		raw("fresh", "x", "2025-02-01T00:00:00Z"),
		raw("seen-elsewhere", "y", "2025-01-01T00:00:00Z"),
	})

	summary, err := NewPipeline(PipelineDeps{
		Fetcher:         fetcher,
		Store:           store,
		KnownKeySources: []ports.KeySource{extra},
	}, PipelineOptions{Limits: IngestionLimits{KnownStreakStop: 8}}).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := keysOf(store.snapshot()); !reflect.DeepEqual(got, []string{"fresh"}) || summary.NewRecordsAdded != 1 {
		t.Fatalf("unexpected store %v (%+v)", got, summary)
	}
}

func TestPipelineStats(t *testing.T) {
	t.Parallel()

	used := storedReview("a", "x", "2025-02-01T00:00:00Z")
	used.Used = true
	used.Labels = []string{"Atendimento"}
	store := &memStore{reviews: []domain.Review{
		used,
		storedReview("b", "y", "2025-01-01T00:00:00Z"),
		storedReview("c", "z", "sem data"),
	}}

	stats, err := NewPipeline(PipelineDeps{Store: store}, PipelineOptions{}).Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	want := Stats{
		Location:     "memory",
		Total:        3,
		Unclassified: 2,
		Used:         1,
		Newest:       "2025-02-01T00:00:00Z",
		Oldest:       "2025-01-01T00:00:00Z",
	}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func TestPipelineClassifyWithoutClassifier(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(PipelineDeps{Store: &memStore{}}, PipelineOptions{}).Classify(context.Background())
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageClassify {
		t.Fatalf("expected classify stage error, got %v", err)
	}
}
