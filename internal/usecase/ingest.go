package usecase

import (
	"context"
	"io"
	"log/slog"
	"time"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
	"ReviewHarvester/internal/retry"
)

// IngestionLimits bounds one newest-first walk of the remote source.
type IngestionLimits struct {
	// MaxNewRecords caps the accumulated records; zero means unbounded.
	MaxNewRecords   int
	KnownStreakStop int
	InterPageDelay  time.Duration
	// MaxPages is a safety ceiling on page requests; zero disables it.
	MaxPages int
}

// StopReason explains why a walk ended.
type StopReason string

const (
	StopCapReached  StopReason = "cap_reached"
	StopKnownStreak StopReason = "known_streak"
	StopEmptyPage   StopReason = "empty_page"
	StopNoCursor    StopReason = "no_cursor"
	StopMaxPages    StopReason = "max_pages"
	StopFetchError  StopReason = "fetch_error"
)

// IngestReport is the outcome of a walk. Records holds everything accumulated,
// including when the walk ended with an error.
type IngestReport struct {
	Records    []domain.Review
	Pages      int
	Known      int
	Duplicates int
	Discarded  int
	StopReason StopReason
}

// Ingestor walks the remote source newest first and collects unknown records.
type Ingestor struct {
	fetcher ports.PageFetcher
	archive ports.RawArchive
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewIngestor builds the ingestion controller. archive may be nil.
func NewIngestor(fetcher ports.PageFetcher, archive ports.RawArchive, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ingestor{fetcher: fetcher, archive: archive, logger: logger, sleep: retry.Sleep}
}

// Ingest pages through the source until the cap, the known streak, the end of
// the remote history or the page ceiling stops it. A fetch error ends the walk
// and is returned together with the records accumulated so far.
func (i *Ingestor) Ingest(ctx context.Context, index KnownKeys, limits IngestionLimits) (IngestReport, error) {
	var (
		report      IngestReport
		cursor      string
		knownStreak int
		seen        = map[string]struct{}{}
	)

	capReached := func() bool {
		return limits.MaxNewRecords > 0 && len(report.Records) >= limits.MaxNewRecords
	}

	for {
		if capReached() {
			report.StopReason = StopCapReached
			break
		}
		if knownStreak >= limits.KnownStreakStop {
			report.StopReason = StopKnownStreak
			break
		}
		if limits.MaxPages > 0 && report.Pages >= limits.MaxPages {
			report.StopReason = StopMaxPages
			break
		}

		page, err := i.fetcher.FetchPage(ctx, cursor)
		if err != nil {
			report.StopReason = StopFetchError
			i.logger.Error("page fetch failed", "page", report.Pages+1, "accumulated", len(report.Records), "error", err)
			return report, err
		}
		report.Pages++

		added := 0
		var payloads [][]byte
		for _, raw := range page.Reviews {
			key := domain.NormalizeKey(raw.Key)
			if key != "" {
				if _, dup := seen[key]; dup {
					report.Duplicates++
					continue
				}
				seen[key] = struct{}{}

				if index.Has(key) {
					knownStreak++
					report.Known++
					continue
				}
				knownStreak = 0
			}

			review := domain.NewReview(raw)
			if !review.HasText() {
				report.Discarded++
				continue
			}
			report.Records = append(report.Records, review)
			added++
			if len(raw.Payload) > 0 {
				payloads = append(payloads, raw.Payload)
			}
			if capReached() {
				break
			}
		}

		i.archivePayloads(ctx, payloads)
		i.logger.Info("page ingested",
			"page", report.Pages,
			"records", len(page.Reviews),
			"new", added,
			"accumulated", len(report.Records),
			"known_streak", knownStreak,
		)

		if len(page.Reviews) == 0 {
			report.StopReason = StopEmptyPage
			break
		}
		if page.NextCursor == "" {
			report.StopReason = StopNoCursor
			break
		}
		cursor = page.NextCursor
		if capReached() || knownStreak >= limits.KnownStreakStop {
			continue
		}

		if err := i.sleep(ctx, limits.InterPageDelay); err != nil {
			report.StopReason = StopFetchError
			return report, err
		}
	}

	i.logger.Info("ingestion stopped",
		"reason", string(report.StopReason),
		"pages", report.Pages,
		"new", len(report.Records),
		"known", report.Known,
		"discarded", report.Discarded,
	)
	return report, nil
}

// archivePayloads keeps the raw payloads of admitted records; failures only warn.
func (i *Ingestor) archivePayloads(ctx context.Context, payloads [][]byte) {
	if i.archive == nil || len(payloads) == 0 {
		return
	}
	if err := i.archive.Append(ctx, payloads); err != nil {
		i.logger.Warn("raw archive append failed", "records", len(payloads), "error", err)
	}
}
