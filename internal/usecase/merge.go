package usecase

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

// Merge puts incoming ahead of existing, keeps the first record per composite
// key and orders the result newest first. Records whose timestamp does not
// parse go last in their original relative order.
//
// The remote owns the content of a review, so an incoming record replaces an
// existing one with the same key. Labels and the used flag are local state and
// are carried over from the replaced record when the incoming copy has none.
func Merge(existing, incoming []domain.Review) []domain.Review {
	merged := make([]domain.Review, 0, len(existing)+len(incoming))
	positions := make(map[domain.CompositeKey]int, cap(merged))

	for _, batch := range [][]domain.Review{incoming, existing} {
		for _, r := range batch {
			key := domain.CompositeKeyOf(r)
			if at, dup := positions[key]; dup {
				merged[at] = inheritLocalState(merged[at], r)
				continue
			}
			positions[key] = len(merged)
			merged = append(merged, r)
		}
	}

	sortNewestFirst(merged)
	return merged
}

func inheritLocalState(kept, dropped domain.Review) domain.Review {
	if kept.NeedsClassification() && !dropped.NeedsClassification() {
		kept.Labels = append([]string(nil), dropped.Labels...)
		kept.LabelConfidence = dropped.LabelConfidence
		kept.LabelRationale = dropped.LabelRationale
	}
	if !kept.Used && dropped.Used {
		kept.Used = true
		kept.UsedAt = dropped.UsedAt
	}
	return kept
}

func sortNewestFirst(reviews []domain.Review) {
	stamps := make(map[int]time.Time, len(reviews))
	order := make([]int, len(reviews))
	for i, r := range reviews {
		order[i] = i
		if ts, ok := domain.ParseTimestamp(r.TimestampNormalized); ok {
			stamps[i] = ts
		}
	}

	sort.SliceStable(order, func(a, b int) bool {
		ta, okA := stamps[order[a]]
		tb, okB := stamps[order[b]]
		switch {
		case okA && okB:
			return ta.After(tb)
		case okA:
			return true
		default:
			return false
		}
	})

	sorted := make([]domain.Review, len(reviews))
	for i, idx := range order {
		sorted[i] = reviews[idx]
	}
	copy(reviews, sorted)
}

// MergeWriter merges fresh records into the durable store.
type MergeWriter struct {
	store  ports.RecordStore
	logger *slog.Logger
}

// NewMergeWriter wraps store.
func NewMergeWriter(store ports.RecordStore, logger *slog.Logger) *MergeWriter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MergeWriter{store: store, logger: logger}
}

// MergeAndWrite merges incoming into existing and replaces the store content.
// Without incoming records the store is left untouched and wrote is false.
func (w *MergeWriter) MergeAndWrite(ctx context.Context, existing, incoming []domain.Review) (merged []domain.Review, wrote bool, err error) {
	if len(incoming) == 0 {
		return existing, false, nil
	}

	merged = Merge(existing, incoming)
	if err := w.store.Replace(ctx, merged, ports.WriteOptions{}); err != nil {
		return existing, false, err
	}
	w.logger.Info("store updated",
		"location", w.store.Location(),
		"before", len(existing),
		"after", len(merged),
	)
	return merged, true, nil
}
