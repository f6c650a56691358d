package starspace

import (
	"sort"

	"github.com/soundprediction/starspace/pkg/model"
	"github.com/soundprediction/starspace/pkg/telemetry"
)

// maxReplyCandidates caps how many ranked candidates a reply carries.
const maxReplyCandidates = 100

// predict routes a vectorized batch to training when it carries targets and
// to candidate ranking otherwise, writing replies at the original
// observation positions.
func (a *Agent) predict(b *batch, replies []Reply) {
	if b.ys != nil {
		a.trainBatch(b, replies)
		return
	}
	a.rankBatch(b, replies)
}

// trainBatch runs one ranking-loss step per example, accumulating gradients
// across the batch into a single parameter update. Examples that draw no
// negatives are skipped and keep their empty reply.
func (a *Agent) trainBatch(b *batch, replies []Reply) {
	var acc *model.Grads
	for i, ctx := range b.xs {
		negs := a.negatives(b.ysRaw[i])
		if len(negs) == 0 {
			continue
		}

		targets := make([][]int, 0, len(negs)+1)
		targets = append(targets, b.ys[i])
		targets = append(targets, negs...)
		signs := make([]float32, len(targets))
		signs[0] = 1
		for j := 1; j < len(signs); j++ {
			signs[j] = -1
		}

		loss, scores, g, err := a.model.ForwardBackward(ctx, targets, signs)
		if err != nil {
			a.logger.Error("training step failed", "error", err)
			continue
		}
		if acc == nil {
			acc = g
		} else {
			acc.Merge(g)
		}

		// Rank of the positive among the negatives; ties count against it.
		rank := 0
		for _, s := range scores[1:] {
			if s >= scores[0] {
				rank++
			}
		}
		replies[b.validInds[i]].Metrics = &Metrics{
			MeanRank:  rank,
			Loss:      loss,
			Negatives: len(negs),
		}

		a.tele.Record(telemetry.StepRecord{
			AgentID:       AgentID,
			Loss:          loss,
			MeanRank:      int32(rank),
			Negatives:     int32(len(negs)),
			CacheSize:     int32(a.cache.size()),
			ContextTokens: int32(len(ctx)),
		})
	}
	if acc != nil {
		a.model.ApplyStep(a.opt, acc)
	}
}

// negatives assembles the negative target set for one training pair: cache
// samples that differ from the truth, plus optionally the partner's last
// utterance as an adversarial parrot negative.
func (a *Agent) negatives(truth []int) [][]int {
	negs := a.cache.sample(truth, a.cfg.Training.NegSamples)
	if a.cfg.Training.ParrotNeg {
		if lu := a.history.LastUtterance(); len(lu) > 2 {
			negs = append(negs, lu)
		}
	}
	return negs
}

// rankBatch scores each example's candidates against its context and fills
// the reply with the winner plus the ranked list. Examples without their own
// candidates fall back to the fixed candidate set; with neither, the reply
// stays empty.
func (a *Agent) rankBatch(b *batch, replies []Reply) {
	for i, ctx := range b.xs {
		pos := b.validInds[i]
		cands, texts := b.cands[pos], b.candsTxt[pos]
		if len(cands) == 0 {
			cands, texts = a.fixedCandVecs, a.fixedCands
		}
		if len(cands) == 0 {
			continue
		}

		scores := a.model.Forward(ctx, cands)
		order := make([]int, len(cands))
		for j := range order {
			order[j] = j
		}
		// Stable so equal-scoring candidates keep their input order.
		sort.SliceStable(order, func(p, q int) bool {
			return scores[order[p]] > scores[order[q]]
		})

		n := len(order)
		if n > maxReplyCandidates {
			n = maxReplyCandidates
		}
		ranked := make([]string, n)
		for j := 0; j < n; j++ {
			ranked[j] = texts[order[j]]
		}
		replies[pos].Text = ranked[0]
		replies[pos].TextCandidates = ranked
	}
}
