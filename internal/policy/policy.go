// Package policy implements the pluggable sample-selection strategies of §4.4: round-robin,
// random, weighted-by-expertise, redundancy-aware, and composite chains of the above.
package policy

import (
	"math/rand/v2"
	"sort"

	"github.com/klabs/labelqueue/internal/core"
)

// RoundRobin hands out candidates in the fixed order given, cycling via a cursor held in state.
type RoundRobin struct{}

type roundRobinState struct{ cursor int }

func (RoundRobin) Init(cfg core.PolicyConfig) (interface{}, error) {
	return &roundRobinState{}, nil
}

func (RoundRobin) Next(state interface{}, labelerID string, candidates []core.PolicyCandidate) (core.PolicyResult, error) {
	st := state.(*roundRobinState)
	if len(candidates) == 0 {
		return core.PolicyResult{NoSamples: true}, nil
	}
	sorted := sortedBySampleID(candidates)
	idx := st.cursor % len(sorted)
	c := sorted[idx]
	return core.PolicyResult{Candidate: &c}, nil
}

func (RoundRobin) Update(state interface{}, chosen core.PolicyCandidate) interface{} {
	st := state.(*roundRobinState)
	st.cursor++
	return st
}

// Random selects uniformly among eligible candidates.
type Random struct{}

func (Random) Init(cfg core.PolicyConfig) (interface{}, error) { return nil, nil }

func (Random) Next(state interface{}, labelerID string, candidates []core.PolicyCandidate) (core.PolicyResult, error) {
	if len(candidates) == 0 {
		return core.PolicyResult{NoSamples: true}, nil
	}
	c := candidates[rand.IntN(len(candidates))]
	return core.PolicyResult{Candidate: &c}, nil
}

func (Random) Update(state interface{}, chosen core.PolicyCandidate) interface{} { return state }

// WeightedExpertise rejects labelers below MinExpertise, then among the remaining candidates
// picks the one maximizing expertise − difficulty(candidate) — the easiest sample the labeler
// still comfortably covers — using DifficultyScore or, for named buckets, PolicyConfig's
// DifficultyWeights map as an override of the default {easy:0.3, medium:0.5, hard:0.8}.
type WeightedExpertise struct {
	// ExpertiseLookup returns labelerID's expertise weight for a queue's component module.
	ExpertiseLookup func(labelerID string) float64
}

func (p WeightedExpertise) Init(cfg core.PolicyConfig) (interface{}, error) { return cfg, nil }

func (p WeightedExpertise) Next(state interface{}, labelerID string, candidates []core.PolicyCandidate) (core.PolicyResult, error) {
	cfg := state.(core.PolicyConfig)
	if len(candidates) == 0 {
		return core.PolicyResult{NoSamples: true}, nil
	}
	expertise := 0.0
	if p.ExpertiseLookup != nil {
		expertise = p.ExpertiseLookup(labelerID)
	}
	if expertise < cfg.MinExpertise {
		return core.PolicyResult{NoSamples: true, RejectedBy: core.ErrLabelerBelowThreshold}, nil
	}
	sorted := sortedBySampleID(candidates)
	best := sorted[0]
	bestScore := expertise - difficultyScore(best, cfg.DifficultyWeights)
	for _, c := range sorted[1:] {
		score := expertise - difficultyScore(c, cfg.DifficultyWeights)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return core.PolicyResult{Candidate: &best}, nil
}

func (p WeightedExpertise) Update(state interface{}, chosen core.PolicyCandidate) interface{} { return state }

func difficultyScore(c core.PolicyCandidate, weights map[string]float64) float64 {
	if c.DifficultyScore != nil {
		return *c.DifficultyScore
	}
	if w, ok := weights[c.Difficulty]; ok {
		return w
	}
	switch c.Difficulty {
	case "hard":
		return 0.8
	case "medium":
		return 0.5
	default:
		return 0.3
	}
}

// Redundancy passes over candidates whose sample already has RedundancyK labels, optionally
// excluding a labeler who has already labeled that sample (§4.4 "allow_same_labeler").
type Redundancy struct{}

func (Redundancy) Init(cfg core.PolicyConfig) (interface{}, error) { return cfg, nil }

func (Redundancy) Next(state interface{}, labelerID string, candidates []core.PolicyCandidate) (core.PolicyResult, error) {
	cfg := state.(core.PolicyConfig)
	k := cfg.RedundancyK
	if k <= 0 {
		k = 1
	}
	sorted := sortedBySampleID(candidates)
	for i := range sorted {
		c := sorted[i]
		if c.LabelCount >= k {
			continue
		}
		if !cfg.AllowSameLabeler && contains(c.LabeledBy, labelerID) {
			continue
		}
		return core.PolicyResult{Candidate: &c}, nil
	}
	return core.PolicyResult{NoSamples: true}, nil
}

func (Redundancy) Update(state interface{}, chosen core.PolicyCandidate) interface{} { return state }

// Composite chains several policies, returning the last stage's pick and halting (rather than
// falling through) on the first error or no-samples outcome from any stage, per the decision
// recorded in DESIGN.md's Open Questions section.
type Composite struct {
	Stages []core.Policy
}

type compositeState struct {
	inner []interface{}
}

func (c Composite) Init(cfg core.PolicyConfig) (interface{}, error) {
	st := &compositeState{inner: make([]interface{}, len(c.Stages))}
	for i, stage := range c.Stages {
		var stageCfg core.PolicyConfig
		if i < len(cfg.Chain) {
			stageCfg = cfg.Chain[i]
		}
		s, err := stage.Init(stageCfg)
		if err != nil {
			return nil, err
		}
		st.inner[i] = s
	}
	return st, nil
}

// Next runs every stage in order against the same candidate set; an error or a NoSamples result
// from any stage halts the chain immediately, otherwise the last stage's pick is the one
// returned (§4.4 "the last policy in the chain selects").
func (c Composite) Next(state interface{}, labelerID string, candidates []core.PolicyCandidate) (core.PolicyResult, error) {
	st := state.(*compositeState)
	result := core.PolicyResult{NoSamples: true}
	for i, stage := range c.Stages {
		res, err := stage.Next(st.inner[i], labelerID, candidates)
		if err != nil {
			return core.PolicyResult{}, err
		}
		if res.NoSamples {
			return res, nil
		}
		result = res
	}
	return result, nil
}

func (c Composite) Update(state interface{}, chosen core.PolicyCandidate) interface{} {
	st := state.(*compositeState)
	for i, stage := range c.Stages {
		st.inner[i] = stage.Update(st.inner[i], chosen)
	}
	return st
}

func sortedBySampleID(candidates []core.PolicyCandidate) []core.PolicyCandidate {
	out := make([]core.PolicyCandidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].SampleID < out[j].SampleID })
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Router is the single core.Policy a dispatcher is constructed with; it resolves the concrete
// strategy from each queue's PolicyConfig.Kind at Init time and forwards Next/Update to it. This
// lets one Dispatcher serve queues configured with different policies.
type Router struct {
	ExpertiseLookup func(labelerID string) float64
}

type routerState struct {
	resolved core.Policy
	inner    interface{}
}

func (r Router) resolve(kind string) core.Policy {
	switch kind {
	case "random":
		return Random{}
	case "weighted_expertise":
		return WeightedExpertise{ExpertiseLookup: r.ExpertiseLookup}
	case "redundancy":
		return Redundancy{}
	case "composite":
		return Composite{Stages: []core.Policy{WeightedExpertise{ExpertiseLookup: r.ExpertiseLookup}, RoundRobin{}}}
	default:
		return RoundRobin{}
	}
}

func (r Router) Init(cfg core.PolicyConfig) (interface{}, error) {
	resolved := r.resolve(cfg.Kind)
	inner, err := resolved.Init(cfg)
	if err != nil {
		return nil, err
	}
	return &routerState{resolved: resolved, inner: inner}, nil
}

func (r Router) Next(state interface{}, labelerID string, candidates []core.PolicyCandidate) (core.PolicyResult, error) {
	st := state.(*routerState)
	return st.resolved.Next(st.inner, labelerID, candidates)
}

func (r Router) Update(state interface{}, chosen core.PolicyCandidate) interface{} {
	st := state.(*routerState)
	st.inner = st.resolved.Update(st.inner, chosen)
	return st
}
