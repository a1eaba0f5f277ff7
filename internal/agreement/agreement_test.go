package agreement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klabs/labelqueue/internal/core"
)

func TestSelect_PicksCohenForExactlyTwoRaters(t *testing.T) {
	kind, err := Select([]RatingSet{
		{"labeler-1": "yes", "labeler-2": "no"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cohen_kappa", kind)
}

func TestSelect_PicksFleissForConstantThreePlusRaters(t *testing.T) {
	kind, err := Select([]RatingSet{
		{"labeler-1": "yes", "labeler-2": "no", "labeler-3": "yes"},
		{"labeler-1": "no", "labeler-2": "no", "labeler-3": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fleiss_kappa", kind)
}

func TestSelect_PicksKrippendorffForSparseRaterCounts(t *testing.T) {
	kind, err := Select([]RatingSet{
		{"labeler-1": "yes", "labeler-2": "no", "labeler-3": "yes"},
		{"labeler-1": "no", "labeler-4": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "krippendorff_alpha", kind)
}

func TestCohenKappa_PerfectAgreementYieldsOne(t *testing.T) {
	ratings := []RatingSet{
		{"a": "yes", "b": "yes"},
		{"a": "no", "b": "no"},
		{"a": "yes", "b": "yes"},
		{"a": "no", "b": "no"},
	}
	k, err := CohenKappa(ratings, "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, k, 1e-9)
}

func TestCohenKappa_NoCommonSamplesErrors(t *testing.T) {
	ratings := []RatingSet{
		{"a": "yes"},
		{"b": "no"},
	}
	_, err := CohenKappa(ratings, "a", "b")
	assert.ErrorIs(t, err, core.ErrNoCommonSamples)
}

func TestCohenKappa_PerfectDisagreementYieldsMinusOne(t *testing.T) {
	ratings := []RatingSet{
		{"a": "yes", "b": "no"},
		{"a": "no", "b": "yes"},
		{"a": "yes", "b": "no"},
		{"a": "no", "b": "yes"},
	}
	k, err := CohenKappa(ratings, "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, -1.0, k, 1e-9)
}

func TestFleissKappa_PerfectAgreementYieldsOne(t *testing.T) {
	ratings := []RatingSet{
		{"a": "yes", "b": "yes", "c": "yes"},
		{"a": "no", "b": "no", "c": "no"},
	}
	k, err := FleissKappa(ratings)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, k, 1e-9)
}

func TestFleissKappa_RejectsVaryingRaterCounts(t *testing.T) {
	ratings := []RatingSet{
		{"a": "yes", "b": "yes", "c": "yes"},
		{"a": "no", "b": "no"},
	}
	_, err := FleissKappa(ratings)
	assert.Error(t, err)
}

func TestKrippendorffAlpha_PerfectAgreementYieldsOne(t *testing.T) {
	ratings := []RatingSet{
		{"a": "yes", "b": "yes"},
		{"a": "no", "c": "no"},
	}
	alpha, err := KrippendorffAlpha(ratings, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, alpha, 1e-9)
}

func TestKrippendorffAlpha_NoCommonSamplesErrors(t *testing.T) {
	ratings := []RatingSet{
		{"a": "yes"},
	}
	_, err := KrippendorffAlpha(ratings, nil)
	assert.ErrorIs(t, err, core.ErrNoCommonSamples)
}

func TestNominalDistance(t *testing.T) {
	assert.Equal(t, 0.0, NominalDistance("yes", "yes"))
	assert.Equal(t, 1.0, NominalDistance("yes", "no"))
}
