package emotion

import (
	"math"
	"sort"
	"strings"
)

// Label is one of the closed set of emotional states the classifier reports.
type Label string

const (
	Anger     Label = "Anger"
	Disgust   Label = "Disgust"
	Fear      Label = "Fear"
	Happiness Label = "Happiness"
	Sadness   Label = "Sadness"
	Surprise  Label = "Surprise"
	Neutral   Label = "Neutral"
)

var allLabels = []Label{Anger, Disgust, Fear, Happiness, Sadness, Surprise, Neutral}

// rawLabels maps classifier output keys (DeepFace/FER naming) to labels.
var rawLabels = map[string]Label{
	"angry":    Anger,
	"disgust":  Disgust,
	"fear":     Fear,
	"happy":    Happiness,
	"sad":      Sadness,
	"surprise": Surprise,
	"neutral":  Neutral,
}

// Labels returns every label in declaration order.
func Labels() []Label {
	out := make([]Label, len(allLabels))
	copy(out, allLabels)
	return out
}

// ParseLabel maps a raw classifier key or a canonical label name to a Label.
// Unknown values map to Neutral.
func ParseLabel(raw string) Label {
	key := strings.ToLower(strings.TrimSpace(raw))
	if l, ok := rawLabels[key]; ok {
		return l
	}
	for _, l := range allLabels {
		if strings.ToLower(string(l)) == key {
			return l
		}
	}
	return Neutral
}

// Valid reports whether l is part of the closed label set.
func (l Label) Valid() bool {
	for _, v := range allLabels {
		if v == l {
			return true
		}
	}
	return false
}

// Distribution is the per-label confidence reported by a classifier, each in [0,1].
type Distribution map[Label]float64

// NormalizeScores converts raw classifier scores into a Distribution. Scores
// reported as percentages (any value above 1) are scaled down; keys are
// mapped through ParseLabel so unknown keys accumulate under Neutral.
func NormalizeScores(raw map[string]float64) Distribution {
	scale := 1.0
	for _, v := range raw {
		if v > 1 {
			scale = 100
			break
		}
	}
	out := make(Distribution, len(raw))
	for k, v := range raw {
		out[ParseLabel(k)] += clamp(v / scale)
	}
	for l, v := range out {
		out[l] = clamp(v)
	}
	return out
}

// Dominant returns the highest scoring label. Ties go to the lexicographically
// smaller label. ok is false for an empty distribution.
func (d Distribution) Dominant() (Label, float64, bool) {
	if len(d) == 0 {
		return "", 0, false
	}
	labels := make([]Label, 0, len(d))
	for l := range d {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	best := labels[0]
	for _, l := range labels[1:] {
		if d[l] > d[best] {
			best = l
		}
	}
	return best, d[best], true
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
