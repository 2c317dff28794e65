// Package retention bounds the local cache's size.
//
// Only logically-inactive entities (enabled = false) are ever eviction
// candidates, in least-recently-accessed order. Offline availability of
// active tasks is a hard guarantee: an enabled task survives any amount of
// cache pressure, and when inactive candidates run out the policy reports
// the remaining overage instead of touching active data.
package retention

import (
	"context"
	"log"
	"os"

	"github.com/avlloyd/remindd/internal/store"
)

// DefaultCeilingBytes is the default retention ceiling (25 MiB).
const DefaultCeilingBytes = 25 << 20

// evictBatch is how many candidates are fetched per pass.
const evictBatch = 256

// Report describes the outcome of one retention sweep.
type Report struct {
	// SizeBytes is the cache size estimate before the sweep.
	SizeBytes int64
	// Evicted is how many inactive entities were removed.
	Evicted int
	// OverageBytes is how far the cache still exceeds the ceiling after
	// all eligible candidates were evicted. Zero when under budget.
	OverageBytes int64
}

// Policy evicts inactive entities when the cache exceeds its ceiling.
type Policy struct {
	store   *store.Store
	ceiling int64
	logger  *log.Logger
}

// New creates a retention policy. A non-positive ceiling falls back to the
// default. If logger is nil a default stderr logger is used.
func New(st *store.Store, ceilingBytes int64, logger *log.Logger) *Policy {
	if ceilingBytes <= 0 {
		ceilingBytes = DefaultCeilingBytes
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[retention] ", log.LstdFlags)
	}
	return &Policy{store: st, ceiling: ceilingBytes, logger: logger}
}

// Run performs one sweep: measure, evict oldest-accessed inactive entities
// until under budget, and report any remaining overage.
func (p *Policy) Run(ctx context.Context) (Report, error) {
	size, err := p.store.SizeEstimateBytes(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Report{SizeBytes: size}
	if size <= p.ceiling {
		return report, nil
	}

	remaining := size
	for remaining > p.ceiling {
		candidates, err := p.store.ListEvictable(ctx, evictBatch)
		if err != nil {
			return report, err
		}
		if len(candidates) == 0 {
			break
		}

		evictedThisBatch := 0
		for _, c := range candidates {
			if remaining <= p.ceiling {
				break
			}
			if err := p.store.DeleteTask(ctx, c.ID); err != nil {
				return report, err
			}
			remaining -= c.SizeEstimate
			report.Evicted++
			evictedThisBatch++
		}
		if evictedThisBatch == 0 {
			break
		}
	}

	if remaining > p.ceiling {
		report.OverageBytes = remaining - p.ceiling
		p.logger.Printf("Cache over budget by %d bytes with no evictable entities", report.OverageBytes)
	}
	if report.Evicted > 0 {
		p.logger.Printf("Evicted %d inactive entities (%d -> ~%d bytes)", report.Evicted, size, remaining)
	}
	return report, nil
}
