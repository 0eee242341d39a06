package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

// Pipeline stages, as reported by *domain.StageError.
const (
	StageLoadIndex = "load-index"
	StageIngest    = "ingest"
	StageMerge     = "merge"
	StageClassify  = "classify"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Fetcher ports.PageFetcher
	Store   ports.RecordStore
	// KnownKeySources are additional stores whose keys count as already ingested.
	KnownKeySources []ports.KeySource
	Classifier      ports.Classifier
	Notifier        ports.Notifier
	Archive         ports.RawArchive
	Logger          *slog.Logger
}

// PipelineOptions carries the run limits.
type PipelineOptions struct {
	Limits       IngestionLimits
	Classify     ClassifyOptions
	SkipClassify bool
}

// Summary is the outcome of one run.
type Summary struct {
	NewRecordsAdded int
	TotalRecords    int
	NewlyClassified int

	Pages           int
	StopReason      StopReason
	ClassifyFailed  int
	ClassifyPending int
}

// Pipeline implements the review ingestion workflow.
type Pipeline struct {
	fetcher    ports.PageFetcher
	store      ports.RecordStore
	extraKeys  []ports.KeySource
	classifier ports.Classifier
	notifier   ports.Notifier
	archive    ports.RawArchive
	opts       PipelineOptions
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		fetcher:    deps.Fetcher,
		store:      deps.Store,
		extraKeys:  deps.KnownKeySources,
		classifier: deps.Classifier,
		notifier:   deps.Notifier,
		archive:    deps.Archive,
		opts:       opts,
		logger:     logger,
	}
}

// Run loads the known keys, ingests new records, merges them into the store,
// labels unlabelled records and reports the counts. Records fetched before a
// failing page are still merged; the fetch error is then returned for the ingest stage.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	return p.run(ctx, p.logger)
}

// RunWithLogger is Run with a per-run logger, e.g. one carrying a run id.
func (p *Pipeline) RunWithLogger(ctx context.Context, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = p.logger
	}
	return p.run(ctx, logger)
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger) (Summary, error) {
	var summary Summary

	existing, index, err := p.loadIndex(ctx)
	if err != nil {
		return summary, &domain.StageError{Stage: StageLoadIndex, Err: err}
	}
	logger.Info("known keys loaded", "records", len(existing), "keys", index.Len())

	ingestor := NewIngestor(p.fetcher, p.archive, logger.With("stage", StageIngest))
	report, ingestErr := ingestor.Ingest(ctx, index, p.opts.Limits)
	summary.Pages = report.Pages
	summary.StopReason = report.StopReason

	writer := NewMergeWriter(p.store, logger.With("stage", StageMerge))
	merged, wrote, err := writer.MergeAndWrite(ctx, existing, report.Records)
	if err != nil {
		if ingestErr != nil {
			err = errors.Join(err, ingestErr)
		}
		return summary, &domain.StageError{Stage: StageMerge, Err: err}
	}
	summary.NewRecordsAdded = len(merged) - len(existing)
	summary.TotalRecords = len(merged)

	if ingestErr != nil {
		return summary, &domain.StageError{Stage: StageIngest, Err: ingestErr}
	}

	if p.classifier != nil && !p.opts.SkipClassify {
		step := NewClassificationStep(p.classifier, p.store, p.opts.Classify, logger.With("stage", StageClassify))
		result, err := step.Run(ctx, merged, wrote)
		summary.NewlyClassified = result.NewlyClassified
		summary.ClassifyFailed = result.Failed
		summary.TotalRecords = len(result.Records)
		if err != nil {
			return summary, &domain.StageError{Stage: StageClassify, Err: err}
		}
		merged = result.Records
	}
	summary.ClassifyPending = countUnclassified(merged)

	logger.Info("run finished",
		"new_records_added", summary.NewRecordsAdded,
		"total_records", summary.TotalRecords,
		"newly_classified", summary.NewlyClassified,
		"stop_reason", string(summary.StopReason),
	)
	p.notify(ctx, logger, summary)
	return summary, nil
}

// Classify labels the records of the store that have none, without fetching.
func (p *Pipeline) Classify(ctx context.Context) (Summary, error) {
	var summary Summary
	if p.classifier == nil {
		return summary, &domain.StageError{Stage: StageClassify, Err: errors.New("no classifier configured")}
	}

	existing, err := p.store.Load(ctx)
	if err != nil {
		return summary, &domain.StageError{Stage: StageLoadIndex, Err: err}
	}

	step := NewClassificationStep(p.classifier, p.store, p.opts.Classify, p.logger.With("stage", StageClassify))
	result, err := step.Run(ctx, existing, false)
	summary.TotalRecords = len(result.Records)
	summary.NewlyClassified = result.NewlyClassified
	summary.ClassifyFailed = result.Failed
	summary.ClassifyPending = countUnclassified(result.Records)
	if err != nil {
		return summary, &domain.StageError{Stage: StageClassify, Err: err}
	}
	return summary, nil
}

// Stats describes the durable store.
type Stats struct {
	Location     string `json:"location"`
	Total        int    `json:"total"`
	Unclassified int    `json:"unclassified"`
	Used         int    `json:"used"`
	Newest       string `json:"newest"`
	Oldest       string `json:"oldest"`
}

// Stats reads the store without modifying it.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	reviews, err := p.store.Load(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Location: p.store.Location(), Total: len(reviews), Unclassified: countUnclassified(reviews)}
	for _, r := range reviews {
		if r.Used {
			stats.Used++
		}
		if _, ok := domain.ParseTimestamp(r.TimestampNormalized); !ok {
			continue
		}
		if stats.Newest == "" {
			stats.Newest = r.TimestampNormalized
		}
		stats.Oldest = r.TimestampNormalized
	}
	return stats, nil
}

func (p *Pipeline) loadIndex(ctx context.Context) ([]domain.Review, KnownKeys, error) {
	existing, err := p.store.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load store: %w", err)
	}
	index := KnownKeysFrom(existing)

	extra, err := LoadKnownKeys(ctx, p.extraKeys...)
	if err != nil {
		return nil, nil, err
	}
	index.Union(extra)
	return existing, index, nil
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, summary Summary) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(ctx, buildSummaryMessage(p.store.Location(), summary)); err != nil {
		logger.Warn("summary notification failed", "error", err)
	}
}

func buildSummaryMessage(location string, summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review harvest finished (%s)\n", location)
	fmt.Fprintf(&b, "New records: %d\n", summary.NewRecordsAdded)
	fmt.Fprintf(&b, "Total records: %d\n", summary.TotalRecords)
	fmt.Fprintf(&b, "Newly classified: %d\n", summary.NewlyClassified)
	if summary.ClassifyFailed > 0 {
		fmt.Fprintf(&b, "Classification failures: %d\n", summary.ClassifyFailed)
	}
	fmt.Fprintf(&b, "Pages: %d, stop: %s", summary.Pages, summary.StopReason)
	return b.String()
}

func countUnclassified(reviews []domain.Review) int {
	n := 0
	for _, r := range reviews {
		if r.NeedsClassification() && r.HasText() {
			n++
		}
	}
	return n
}
