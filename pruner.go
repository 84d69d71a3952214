package hpo

import (
	"fmt"
	"hash/crc32"
	"math"
	"sort"
)

//////
// Pruner protocol.
//////

// PruneContext is everything a pruner may look at when deciding whether the
// running trial should stop.
type PruneContext struct {
	Study     string
	Number    int
	Direction Direction

	// Step and Value are the latest report of the running trial.
	Step  int
	Value float64

	// Intermediate holds every value the running trial reported so far,
	// Step included.
	Intermediate map[int]float64

	// History holds every finished trial of the study.
	History []Trial
}

// Pruner decides whether a running trial is unlikely to beat the best known
// result. Pruners are stateless: everything they need is in the context, so
// a resumed study prunes exactly like an uninterrupted one.
type Pruner interface {
	Prune(ctx PruneContext) bool
}

// NopPruner never prunes.
type NopPruner struct{}

// Prune implements Pruner.
func (NopPruner) Prune(PruneContext) bool { return false }

// bestIntermediate returns the best value reported up to step.
func bestIntermediate(values map[int]float64, step int, direction Direction) (float64, bool) {
	var (
		best  float64
		found bool
	)

	for s, v := range values {
		if s > step || math.IsNaN(v) {
			continue
		}

		if !found || direction.better(v, best) {
			best, found = v, true
		}
	}

	return best, found
}

//////
// Median.
//////

// MedianPruner prunes a trial whose best intermediate value is worse than the
// median of what complete trials reported at the same step.
type MedianPruner struct {
	// StartupTrials is the number of complete trials needed before pruning.
	StartupTrials int

	// WarmupSteps is the number of steps of each trial that are never pruned.
	WarmupSteps int
}

// Prune implements Pruner.
func (p *MedianPruner) Prune(ctx PruneContext) bool {
	if ctx.Step < p.WarmupSteps {
		return false
	}

	if completeCount(ctx.History) < p.StartupTrials {
		return false
	}

	if math.IsNaN(ctx.Value) {
		return true
	}

	best, ok := bestIntermediate(ctx.Intermediate, ctx.Step, ctx.Direction)
	if !ok {
		return false
	}

	var others []float64

	for _, t := range ctx.History {
		if t.State != Complete {
			continue
		}

		if v, ok := t.Intermediate[ctx.Step]; ok && !math.IsNaN(v) {
			others = append(others, v)
		}
	}

	if len(others) == 0 {
		return false
	}

	return ctx.Direction.better(median(others), best)
}

//////
// Successive halving.
//////

// SuccessiveHalvingPruner implements asynchronous successive halving.
//
// How it works:
//   - Rung k sits at resource MinResource * ReductionFactor^(EarlyStoppingRate+k)
//   - A trial's value at a rung is its report at the first step reaching it
//   - When a trial reaches a rung it must rank in the top 1/ReductionFactor
//     of every trial that reached the same rung, or it is pruned
type SuccessiveHalvingPruner struct {
	MinResource       int
	ReductionFactor   int
	EarlyStoppingRate int

	// bracket, when set, restricts the competitors to the trials of one
	// hyperband bracket.
	bracket func(study string, number int) int
}

func (p *SuccessiveHalvingPruner) rungStep(rung int) float64 {
	return float64(max(p.MinResource, 1)) * math.Pow(float64(p.eta()), float64(p.EarlyStoppingRate+rung))
}

func (p *SuccessiveHalvingPruner) eta() int {
	return max(p.ReductionFactor, 2)
}

// rungValue returns the value reported at the first step reaching rung.
func (p *SuccessiveHalvingPruner) rungValue(values map[int]float64, rung int) (float64, bool) {
	threshold := p.rungStep(rung)

	first := -1
	for s := range values {
		if float64(s) >= threshold && (first < 0 || s < first) {
			first = s
		}
	}

	if first < 0 {
		return 0, false
	}

	return values[first], true
}

// Prune implements Pruner.
func (p *SuccessiveHalvingPruner) Prune(ctx PruneContext) bool {
	previous := math.Inf(-1)

	for s := range ctx.Intermediate {
		if s < ctx.Step && float64(s) > previous {
			previous = float64(s)
		}
	}

	for rung := 0; p.rungStep(rung) <= float64(ctx.Step); rung++ {
		// Rungs crossed by an earlier report were decided then.
		if p.rungStep(rung) <= previous {
			continue
		}

		if math.IsNaN(ctx.Value) {
			return true
		}

		if !p.promising(ctx, rung, ctx.Value) {
			return true
		}
	}

	return false
}

func (p *SuccessiveHalvingPruner) promising(ctx PruneContext, rung int, value float64) bool {
	competing := []float64{value}

	own := 0
	if p.bracket != nil {
		own = p.bracket(ctx.Study, ctx.Number)
	}

	for _, t := range ctx.History {
		if p.bracket != nil && p.bracket(ctx.Study, t.Number) != own {
			continue
		}

		if v, ok := p.rungValue(t.Intermediate, rung); ok && !math.IsNaN(v) {
			competing = append(competing, v)
		}
	}

	idx := len(competing)/p.eta() - 1
	if idx < 0 {
		idx = 0
	}

	sort.Slice(competing, func(i, j int) bool {
		return ctx.Direction.better(competing[i], competing[j])
	})

	return !ctx.Direction.better(competing[idx], value)
}

//////
// Hyperband.
//////

// HyperbandPruner runs several successive halving brackets with increasing
// early stopping rates. Each trial is assigned to one bracket by hashing its
// study name and number, weighted by the bracket budgets, and only competes
// with trials of the same bracket.
type HyperbandPruner struct {
	MinResource     int
	MaxResource     int
	ReductionFactor int

	brackets []*SuccessiveHalvingPruner
	budgets  []int
	total    int
}

// NewHyperbandPruner builds the brackets for [minResource, maxResource].
func NewHyperbandPruner(minResource, maxResource, reductionFactor int) *HyperbandPruner {
	minResource = max(minResource, 1)
	maxResource = max(maxResource, minResource)
	reductionFactor = max(reductionFactor, 2)

	p := &HyperbandPruner{
		MinResource:     minResource,
		MaxResource:     maxResource,
		ReductionFactor: reductionFactor,
	}

	n := int(math.Floor(math.Log(float64(maxResource)/float64(minResource))/math.Log(float64(reductionFactor)))) + 1
	if n < 1 {
		n = 1
	}

	for i := 0; i < n; i++ {
		s := n - 1 - i
		budget := int(math.Ceil(float64(n) * math.Pow(float64(reductionFactor), float64(s)) / float64(s+1)))

		p.budgets = append(p.budgets, budget)
		p.total += budget
		p.brackets = append(p.brackets, &SuccessiveHalvingPruner{
			MinResource:       minResource,
			ReductionFactor:   reductionFactor,
			EarlyStoppingRate: i,
			bracket:           p.bracketOf,
		})
	}

	return p
}

// Brackets returns the number of brackets.
func (p *HyperbandPruner) Brackets() int { return len(p.brackets) }

func (p *HyperbandPruner) bracketOf(study string, number int) int {
	n := int(crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s_%d", study, number))) % uint32(p.total))

	for i, budget := range p.budgets {
		n -= budget
		if n < 0 {
			return i
		}
	}

	return len(p.budgets) - 1
}

// Prune implements Pruner.
func (p *HyperbandPruner) Prune(ctx PruneContext) bool {
	return p.brackets[p.bracketOf(ctx.Study, ctx.Number)].Prune(ctx)
}
