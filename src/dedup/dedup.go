// Package dedup finds near-duplicate proposals by embedding similarity.
package dedup

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/ai"
	"github.com/stake-plus/nexvote/src/metrics"
	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/types"
)

// MaxCandidates caps the list returned to the author.
const MaxCandidates = 5

type Detector struct {
	client    ai.Client
	index     store.Embeddings
	threshold float64
	log       zerolog.Logger
	metrics   *metrics.Collector
}

func New(client ai.Client, index store.Embeddings, threshold float64, log zerolog.Logger, m *metrics.Collector) *Detector {
	return &Detector{client: client, index: index, threshold: threshold, log: log, metrics: m}
}

func (d *Detector) Threshold() float64 { return d.threshold }

// GetEmbedding returns nil when the backend is unavailable; callers then skip
// duplicate detection.
func (d *Detector) GetEmbedding(ctx context.Context, text string) []float64 {
	emb, err := d.client.Embed(ctx, text)
	if err != nil {
		d.metrics.SoftFailure("ai_embed")
		d.log.Warn().Err(err).Msg("failed to generate embedding")
		return nil
	}
	return emb
}

// FindDuplicates ranks proposals of the same region and category. It never
// fails: an index that cannot rank vectors, or any query error, yields an
// empty list.
func (d *Detector) FindDuplicates(ctx context.Context, embedding []float64, regionCode, category, excludeID string) []types.DuplicateCandidate {
	if len(embedding) == 0 {
		return nil
	}
	rows, err := d.index.NearestProposals(ctx, store.NearestQuery{
		Embedding:  embedding,
		RegionCode: regionCode,
		Category:   category,
		ExcludeID:  excludeID,
		Limit:      MaxCandidates,
	})
	if errors.Is(err, store.ErrVectorUnsupported) {
		d.log.Debug().Msg("vector similarity unavailable, skipping duplicate detection")
		return nil
	}
	if err != nil {
		d.metrics.SoftFailure("dedup_index")
		d.log.Warn().Err(err).Msg("duplicate search failed")
		return nil
	}

	out := make([]types.DuplicateCandidate, 0, len(rows))
	for _, r := range rows {
		if r.Similarity >= d.threshold {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out
}
