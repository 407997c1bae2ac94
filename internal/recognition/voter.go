package recognition

import "math"

// Reason explains a verdict.
type Reason string

const (
	ReasonAccepted      Reason = "accepted"
	ReasonInconsistent  Reason = "inconsistent"
	ReasonLowConfidence Reason = "low_confidence"
	ReasonUnrecognized  Reason = "unrecognized"
)

// Verdict is the outcome of voting over one full window.
type Verdict struct {
	Label          string  `json:"label"`
	Count          int     `json:"count"`
	Size           int     `json:"size"`
	MeanConfidence float64 `json:"meanConfidence"`
	Accepted       bool    `json:"accepted"`
	Reason         Reason  `json:"reason"`
}

// VoterConfig holds the acceptance thresholds. Both are recognizer specific.
type VoterConfig struct {
	// MajorityRatio is the share of the window the winning label needs.
	MajorityRatio float64
	// ConfidenceThreshold is exclusive: the mean must be strictly below it.
	ConfidenceThreshold float64
}

func DefaultVoterConfig() VoterConfig {
	return VoterConfig{MajorityRatio: 0.6, ConfidenceThreshold: 200.0}
}

type Voter struct {
	cfg VoterConfig
}

func NewVoter(cfg VoterConfig) *Voter {
	return &Voter{cfg: cfg}
}

// Evaluate votes over w. Rules are checked in order: supermajority, mean
// confidence, then the unrecognized sentinels. A window that is not full
// never yields an accepted verdict.
//
// Ties on count go to the label whose first occurrence is oldest in the window.
func (v *Voter) Evaluate(w *Window) Verdict {
	counts := make(map[string]int)
	var order []string
	var total float64

	w.each(func(g Guess) {
		if _, seen := counts[g.Identity]; !seen {
			order = append(order, g.Identity)
		}
		counts[g.Identity]++
		total += g.Confidence
	})

	verdict := Verdict{Size: w.Len()}
	if verdict.Size > 0 {
		verdict.MeanConfidence = total / float64(verdict.Size)
	}
	for _, label := range order {
		if counts[label] > verdict.Count {
			verdict.Label = label
			verdict.Count = counts[label]
		}
	}

	switch {
	case !w.IsFull() || verdict.Count < v.required(w.Cap()):
		verdict.Reason = ReasonInconsistent
	case verdict.MeanConfidence >= v.cfg.ConfidenceThreshold || math.IsNaN(verdict.MeanConfidence):
		verdict.Reason = ReasonLowConfidence
	case IsUnrecognized(verdict.Label):
		verdict.Reason = ReasonUnrecognized
	default:
		verdict.Accepted = true
		verdict.Reason = ReasonAccepted
	}
	return verdict
}

// required is the smallest count satisfying count >= ratio*n.
func (v *Voter) required(n int) int {
	// The epsilon absorbs float error such as 0.6*50 = 29.999...
	return int(math.Ceil(v.cfg.MajorityRatio*float64(n) - 1e-9))
}
