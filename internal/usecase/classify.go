package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

// ClassifyOptions tunes the labelling pass.
type ClassifyOptions struct {
	// Categories restricts labels to a fixed vocabulary when non-empty.
	Categories []string
	// MinInterval spaces consecutive classifier calls.
	MinInterval time.Duration
	// CheckpointEvery persists progress after that many processed records; zero disables it.
	CheckpointEvery int
}

// ClassificationStep labels every record that has none yet.
type ClassificationStep struct {
	classifier      ports.Classifier
	store           ports.RecordStore
	limiter         *rate.Limiter
	categories      map[string]string
	checkpointEvery int
	logger          *slog.Logger
}

// NewClassificationStep wires the classifier with the store used for checkpoints.
func NewClassificationStep(classifier ports.Classifier, store ports.RecordStore, opts ClassifyOptions, logger *slog.Logger) *ClassificationStep {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	var categories map[string]string
	if len(opts.Categories) > 0 {
		categories = make(map[string]string, len(opts.Categories))
		for _, c := range opts.Categories {
			canonical := normalizeLabel(c)
			if canonical == "" {
				continue
			}
			categories[strings.ToLower(canonical)] = canonical
		}
	}

	return &ClassificationStep{
		classifier:      classifier,
		store:           store,
		limiter:         rate.NewLimiter(limit, 1),
		categories:      categories,
		checkpointEvery: opts.CheckpointEvery,
		logger:          logger,
	}
}

// ClassifyResult reports the labelling pass.
type ClassifyResult struct {
	Records         []domain.Review
	Attempted       int
	NewlyClassified int
	Failed          int
	Wrote           bool
}

// Run classifies the unlabelled records in place order and writes the outcome.
// Per-record classifier failures are kept in the record rationale and never
// abort the pass. backupTaken tells the store whether this run already made a backup.
func (s *ClassificationStep) Run(ctx context.Context, reviews []domain.Review, backupTaken bool) (ClassifyResult, error) {
	records := append([]domain.Review(nil), reviews...)
	result := ClassifyResult{Records: records}

	pending := make([]int, 0)
	for i, r := range records {
		if r.NeedsClassification() && r.HasText() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return result, nil
	}
	s.logger.Info("classifying records", "pending", len(pending))

	write := func() error {
		if err := s.store.Replace(ctx, Merge(nil, records), writeOpts(backupTaken)); err != nil {
			return err
		}
		backupTaken = true
		result.Wrote = true
		return nil
	}

	sinceCheckpoint := 0
	for _, idx := range pending {
		if err := s.limiter.Wait(ctx); err != nil {
			if result.Attempted > 0 {
				if wErr := write(); wErr != nil {
					s.logger.Error("checkpoint after cancellation failed", "error", wErr)
				}
			}
			result.Records = Merge(nil, records)
			return result, fmt.Errorf("classifier throttle: %w", err)
		}

		result.Attempted++
		records[idx] = s.classifyOne(ctx, records[idx], &result)

		sinceCheckpoint++
		if s.checkpointEvery > 0 && sinceCheckpoint >= s.checkpointEvery {
			if err := write(); err != nil {
				return result, err
			}
			sinceCheckpoint = 0
			s.logger.Info("classification checkpoint", "attempted", result.Attempted, "classified", result.NewlyClassified)
		}
	}

	if sinceCheckpoint > 0 || !result.Wrote {
		if err := write(); err != nil {
			return result, err
		}
	}
	result.Records = Merge(nil, records)

	s.logger.Info("classification finished",
		"attempted", result.Attempted,
		"classified", result.NewlyClassified,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *ClassificationStep) classifyOne(ctx context.Context, r domain.Review, result *ClassifyResult) domain.Review {
	c, err := s.classifier.Classify(ctx, r.Text)
	if err != nil {
		result.Failed++
		s.logger.Warn("classification failed", "key", r.Key, "error", err)
		return r.WithClassification(domain.Classification{Rationale: "error: " + err.Error()})
	}

	c.Labels = s.filterLabels(c.Labels)
	c.Confidence = clampConfidence(c.Confidence)
	c.Rationale = strings.TrimSpace(c.Rationale)
	if len(c.Labels) > 0 {
		result.NewlyClassified++
	}
	return r.WithClassification(c)
}

// filterLabels normalizes, deduplicates and, with a vocabulary, maps labels onto
// the configured spelling while dropping unknown ones.
func (s *ClassificationStep) filterLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = normalizeLabel(label)
		if label == "" {
			continue
		}
		fold := strings.ToLower(label)
		if s.categories != nil {
			canonical, ok := s.categories[fold]
			if !ok {
				continue
			}
			label = canonical
		}
		if _, dup := seen[fold]; dup {
			continue
		}
		seen[fold] = struct{}{}
		out = append(out, label)
	}
	return out
}

func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(label)), " ")
}

func clampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func writeOpts(backupTaken bool) ports.WriteOptions {
	return ports.WriteOptions{SkipBackup: backupTaken}
}
