package usecase

import (
	"context"
	"fmt"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

// KnownKeys is the set of identifiers already held by the durable store.
type KnownKeys map[string]struct{}

// KnownKeysFrom collects the normalized, non-empty keys of the given records.
func KnownKeysFrom(reviews []domain.Review) KnownKeys {
	keys := make(KnownKeys, len(reviews))
	keys.add(reviews)
	return keys
}

// LoadKnownKeys reads every source and unions their keys. An absent source
// contributes nothing; a corrupt one aborts with its *domain.StoreReadError.
func LoadKnownKeys(ctx context.Context, sources ...ports.KeySource) (KnownKeys, error) {
	keys := KnownKeys{}
	for _, source := range sources {
		if source == nil {
			continue
		}
		reviews, err := source.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load known keys: %w", err)
		}
		keys.add(reviews)
	}
	return keys, nil
}

// Has reports whether key was ingested by a previous run.
func (k KnownKeys) Has(key string) bool {
	key = domain.NormalizeKey(key)
	if key == "" {
		return false
	}
	_, ok := k[key]
	return ok
}

// Len returns the number of known keys.
func (k KnownKeys) Len() int { return len(k) }

// Union adds all keys of other.
func (k KnownKeys) Union(other KnownKeys) {
	for key := range other {
		k[key] = struct{}{}
	}
}

func (k KnownKeys) add(reviews []domain.Review) {
	for _, r := range reviews {
		if key := domain.NormalizeKey(r.Key); key != "" {
			k[key] = struct{}{}
		}
	}
}
