// Package agreement computes inter-rater reliability statistics over labels collected for a
// sample set (§4.7): Cohen's kappa for exactly two raters, Fleiss' kappa for three or more raters
// each judging a fixed category set, and Krippendorff's alpha for the general sparse case where
// not every rater labels every sample.
package agreement

import (
	"fmt"

	"github.com/klabs/labelqueue/internal/core"
)

// RatingSet is one sample's ratings, keyed by labeler id, value being the (string-coercible)
// category chosen for a single-valued field.
type RatingSet map[string]string

// Select picks the appropriate statistic for the shape of the data (§9 "auto-selection"):
// Cohen for exactly 2 raters total across the set, Fleiss when every sample has the same rater
// count >= 3, Krippendorff otherwise.
func Select(ratings []RatingSet) (string, error) {
	raterSet := map[string]struct{}{}
	countsEqual := true
	var first = -1
	for _, rs := range ratings {
		for r := range rs {
			raterSet[r] = struct{}{}
		}
		if first == -1 {
			first = len(rs)
		} else if len(rs) != first {
			countsEqual = false
		}
	}
	switch {
	case len(raterSet) == 2:
		return "cohen_kappa", nil
	case countsEqual && first >= 3:
		return "fleiss_kappa", nil
	default:
		return "krippendorff_alpha", nil
	}
}

// CohenKappa computes agreement between exactly two named raters over the samples where both
// rated (§4.7).
func CohenKappa(ratings []RatingSet, raterA, raterB string) (float64, error) {
	type pair struct{ a, b string }
	var pairs []pair
	for _, rs := range ratings {
		a, okA := rs[raterA]
		b, okB := rs[raterB]
		if okA && okB {
			pairs = append(pairs, pair{a, b})
		}
	}
	if len(pairs) == 0 {
		return 0, core.ErrNoCommonSamples
	}

	categories := map[string]struct{}{}
	agree := 0
	for _, p := range pairs {
		categories[p.a] = struct{}{}
		categories[p.b] = struct{}{}
		if p.a == p.b {
			agree++
		}
	}
	n := float64(len(pairs))
	po := float64(agree) / n

	aCounts := map[string]int{}
	bCounts := map[string]int{}
	for _, p := range pairs {
		aCounts[p.a]++
		bCounts[p.b]++
	}
	pe := 0.0
	for c := range categories {
		pe += (float64(aCounts[c]) / n) * (float64(bCounts[c]) / n)
	}
	if pe == 1 {
		return 1, nil
	}
	return (po - pe) / (1 - pe), nil
}

// FleissKappa computes agreement across 3+ raters over a fixed set of categories, per sample
// (§4.7). Every element of ratings must carry the same number of raters.
func FleissKappa(ratings []RatingSet) (float64, error) {
	if len(ratings) == 0 {
		return 0, core.ErrNoCommonSamples
	}

	categories := map[string]struct{}{}
	for _, rs := range ratings {
		for _, v := range rs {
			categories[v] = struct{}{}
		}
	}
	catList := make([]string, 0, len(categories))
	for c := range categories {
		catList = append(catList, c)
	}

	n := 0 // raters per sample, assumed constant
	N := len(ratings)
	counts := make([][]int, N) // counts[i][j] = raters choosing category j for sample i
	for i, rs := range ratings {
		row := make([]int, len(catList))
		for _, v := range rs {
			for j, c := range catList {
				if c == v {
					row[j]++
				}
			}
		}
		counts[i] = row
		rowSum := 0
		for _, c := range row {
			rowSum += c
		}
		if n == 0 {
			n = rowSum
		} else if rowSum != n {
			return 0, fmt.Errorf("fleiss kappa requires a constant rater count per sample")
		}
	}
	if n < 2 {
		return 0, core.ErrRequiresExactlyTwoRaters
	}

	pj := make([]float64, len(catList))
	for j := range catList {
		sum := 0
		for i := range ratings {
			sum += counts[i][j]
		}
		pj[j] = float64(sum) / float64(N*n)
	}

	pBarSum := 0.0
	for i := range ratings {
		sumSq := 0
		for _, c := range counts[i] {
			sumSq += c * c
		}
		pi := (float64(sumSq) - float64(n)) / float64(n*(n-1))
		pBarSum += pi
	}
	pBar := pBarSum / float64(N)

	peBar := 0.0
	for _, p := range pj {
		peBar += p * p
	}

	if peBar == 1 {
		return 1, nil
	}
	return (pBar - peBar) / (1 - peBar), nil
}

// DistanceFunc computes the disagreement distance between two category values for
// Krippendorff's alpha. NominalDistance (the default) treats any mismatch as distance 1; ordinal,
// interval, and ratio variants are left as an extension point (§9 Open Question #1 — only nominal
// ships today).
type DistanceFunc func(a, b string) float64

// NominalDistance is 0 for identical categories, 1 otherwise.
func NominalDistance(a, b string) float64 {
	if a == b {
		return 0
	}
	return 1
}

// KrippendorffAlpha computes agreement over a sparse rating matrix using the coincidence-matrix
// form, generalizing to any number of raters and samples where not every rater judged every
// sample (§4.7).
func KrippendorffAlpha(ratings []RatingSet, dist DistanceFunc) (float64, error) {
	if dist == nil {
		dist = NominalDistance
	}

	type observation struct{ value string }
	var units [][]observation
	for _, rs := range ratings {
		if len(rs) < 2 {
			continue
		}
		obs := make([]observation, 0, len(rs))
		for _, v := range rs {
			obs = append(obs, observation{value: v})
		}
		units = append(units, obs)
	}
	if len(units) == 0 {
		return 0, core.ErrNoCommonSamples
	}

	// Observed disagreement: average pairwise distance within each unit, weighted by unit size.
	doObs := 0.0
	doWeight := 0.0
	valueTotals := map[string]float64{}
	grandTotal := 0.0

	for _, obs := range units {
		m := float64(len(obs))
		if m < 2 {
			continue
		}
		for i := 0; i < len(obs); i++ {
			valueTotals[obs[i].value]++
			grandTotal++
			for j := 0; j < len(obs); j++ {
				if i == j {
					continue
				}
				doObs += dist(obs[i].value, obs[j].value) / (m - 1)
			}
		}
		doWeight += m
	}
	if doWeight == 0 || grandTotal == 0 {
		return 0, core.ErrNoCommonSamples
	}
	doObs /= doWeight

	// Expected disagreement: average pairwise distance across the whole pooled value
	// distribution.
	deExp := 0.0
	for v1, n1 := range valueTotals {
		for v2, n2 := range valueTotals {
			if v1 == v2 {
				continue
			}
			deExp += n1 * n2 * dist(v1, v2)
		}
	}
	deExp /= grandTotal * (grandTotal - 1)

	if deExp == 0 {
		return 1, nil
	}
	return 1 - doObs/deExp, nil
}
