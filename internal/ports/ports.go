package ports

import (
	"context"
	"time"

	"ReviewHarvester/internal/domain"
)

// Page is one response of the paginated remote source.
type Page struct {
	Reviews    []domain.RawReview
	NextCursor string
}

// PageFetcher issues one paginated request, newest first. An empty cursor requests the first page.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string) (Page, error)
}

// WriteOptions tunes a single store write.
type WriteOptions struct {
	// SkipBackup is set for checkpoint writes that follow a backed-up write in the same run.
	SkipBackup bool
}

// RecordStore persists the ordered review dataset. Load on an absent store returns no
// records and no error; a present but unreadable store yields *domain.StoreReadError.
type RecordStore interface {
	Load(ctx context.Context) ([]domain.Review, error)
	Replace(ctx context.Context, reviews []domain.Review, opts WriteOptions) error
	Location() string
}

// KeySource exposes the identifiers already held by a store.
type KeySource interface {
	Load(ctx context.Context) ([]domain.Review, error)
}

// Classifier annotates review text with labels via an external inference service.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Classification, error)
}

// Notifier streams run summaries to Telegram or other channels.
type Notifier interface {
	Publish(ctx context.Context, message string) error
}

// RawArchive keeps the raw payload of every admitted review.
type RawArchive interface {
	Append(ctx context.Context, payloads [][]byte) error
}

// Scheduler abstracts the recurring trigger used in daemon mode.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
