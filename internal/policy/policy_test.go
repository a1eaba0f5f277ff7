package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klabs/labelqueue/internal/core"
)

func TestRoundRobin_CyclesThroughCandidatesInSampleIDOrder(t *testing.T) {
	p := RoundRobin{}
	state, err := p.Init(core.PolicyConfig{})
	require.NoError(t, err)

	candidates := []core.PolicyCandidate{
		{SampleID: "c"}, {SampleID: "a"}, {SampleID: "b"},
	}

	res, err := p.Next(state, "labeler-1", candidates)
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "a", res.Candidate.SampleID)

	state = p.Update(state, *res.Candidate)
	res, err = p.Next(state, "labeler-1", candidates)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Candidate.SampleID)
}

func TestRoundRobin_NoSamplesWhenCandidatesEmpty(t *testing.T) {
	p := RoundRobin{}
	state, err := p.Init(core.PolicyConfig{})
	require.NoError(t, err)

	res, err := p.Next(state, "labeler-1", nil)
	require.NoError(t, err)
	assert.True(t, res.NoSamples)
	assert.Nil(t, res.Candidate)
}

func TestWeightedExpertise_RejectsLabelerBelowMinExpertise(t *testing.T) {
	p := WeightedExpertise{ExpertiseLookup: func(string) float64 { return 0.1 }}
	state, err := p.Init(core.PolicyConfig{MinExpertise: 0.5})
	require.NoError(t, err)

	res, err := p.Next(state, "labeler-1", []core.PolicyCandidate{{SampleID: "s1", Difficulty: "hard"}})
	require.NoError(t, err)
	assert.True(t, res.NoSamples)
	assert.ErrorIs(t, res.RejectedBy, core.ErrLabelerBelowThreshold)
}

func TestWeightedExpertise_MaximizesExpertiseMinusDifficulty(t *testing.T) {
	p := WeightedExpertise{ExpertiseLookup: func(string) float64 { return 0.6 }}
	state, err := p.Init(core.PolicyConfig{MinExpertise: 0.5})
	require.NoError(t, err)

	res, err := p.Next(state, "labeler-1", []core.PolicyCandidate{
		{SampleID: "easy", Difficulty: "easy"},
		{SampleID: "hard", Difficulty: "hard"},
		{SampleID: "medium", Difficulty: "medium"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "easy", res.Candidate.SampleID, "0.6-0.3 (easy) beats 0.6-0.5 (medium) beats 0.6-0.8 (hard)")
}

func TestRedundancy_SkipsSamplesAtTargetCountAndAlreadyLabeledByLabeler(t *testing.T) {
	p := Redundancy{}
	state, err := p.Init(core.PolicyConfig{RedundancyK: 2})
	require.NoError(t, err)

	res, err := p.Next(state, "labeler-1", []core.PolicyCandidate{
		{SampleID: "full", LabelCount: 2},
		{SampleID: "already-mine", LabelCount: 1, LabeledBy: []string{"labeler-1"}},
		{SampleID: "eligible", LabelCount: 1, LabeledBy: []string{"labeler-2"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "eligible", res.Candidate.SampleID)
}

func TestRedundancy_AllowSameLabelerPermitsRepeatLabeler(t *testing.T) {
	p := Redundancy{}
	state, err := p.Init(core.PolicyConfig{RedundancyK: 2, AllowSameLabeler: true})
	require.NoError(t, err)

	res, err := p.Next(state, "labeler-1", []core.PolicyCandidate{
		{SampleID: "already-mine", LabelCount: 1, LabeledBy: []string{"labeler-1"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "already-mine", res.Candidate.SampleID)
}

func TestComposite_StopsAtFirstNoSamplesStage(t *testing.T) {
	c := Composite{Stages: []core.Policy{
		WeightedExpertise{ExpertiseLookup: func(string) float64 { return 0.0 }},
		RoundRobin{},
	}}
	state, err := c.Init(core.PolicyConfig{Chain: []core.PolicyConfig{
		{MinExpertise: 0.9}, {},
	}})
	require.NoError(t, err)

	res, err := c.Next(state, "labeler-1", []core.PolicyCandidate{{SampleID: "s1", Difficulty: "hard"}})
	require.NoError(t, err)
	assert.True(t, res.NoSamples)
}

func TestComposite_LastStageSelectsWhenEarlierStagesPass(t *testing.T) {
	c := Composite{Stages: []core.Policy{
		WeightedExpertise{ExpertiseLookup: func(string) float64 { return 1.0 }},
		RoundRobin{},
	}}
	state, err := c.Init(core.PolicyConfig{Chain: []core.PolicyConfig{
		{MinExpertise: 0.0}, {},
	}})
	require.NoError(t, err)

	candidates := []core.PolicyCandidate{{SampleID: "b", Difficulty: "hard"}, {SampleID: "a", Difficulty: "easy"}}
	res, err := c.Next(state, "labeler-1", candidates)
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "a", res.Candidate.SampleID, "RoundRobin (the last stage) picks candidates[0] in sample-id order, not WeightedExpertise's pick")
}

func TestRouter_ResolvesConfiguredPolicyKindAndDelegates(t *testing.T) {
	r := Router{ExpertiseLookup: func(string) float64 { return 1.0 }}

	state, err := r.Init(core.PolicyConfig{Kind: "redundancy", RedundancyK: 1})
	require.NoError(t, err)

	res, err := r.Next(state, "labeler-1", []core.PolicyCandidate{{SampleID: "s1"}})
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "s1", res.Candidate.SampleID)

	state = r.Update(state, *res.Candidate)
	res, err = r.Next(state, "labeler-1", []core.PolicyCandidate{{SampleID: "s1", LabelCount: 1}})
	require.NoError(t, err)
	assert.True(t, res.NoSamples, "redundancy target already met after Update")
}

func TestRouter_DefaultsToRoundRobinForUnknownKind(t *testing.T) {
	r := Router{}
	state, err := r.Init(core.PolicyConfig{Kind: "unknown"})
	require.NoError(t, err)

	res, err := r.Next(state, "labeler-1", []core.PolicyCandidate{{SampleID: "only"}})
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "only", res.Candidate.SampleID)
}
