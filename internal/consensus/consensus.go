// Package consensus merges multiple evaluator opinions of one artifact
// into a single weighted score and an accept/revise/reject decision.
// The decision is a pure function of the (score, weight) pairs, the
// threshold, and the margin.
package consensus

import (
	"fmt"

	"github.com/agentic/conclave/internal/scheduler"
)

// Decision is the outcome of a consensus round.
type Decision int

const (
	Accept Decision = iota
	Revise
	Reject
)

// String returns the lowercase decision name.
func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Revise:
		return "revise"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// Request identifies the artifact under judgment and the round parameters.
type Request struct {
	Artifact  *scheduler.ExecutionResult
	Threshold float64
	Margin    float64
	Round     int // 0 for the first round, increments per revision
}

// Scored is one evaluator's opinion.
type Scored struct {
	AgentID  string
	Score    float64
	Findings []string // Optional recommendations carried into revisions
}

// Evaluation is one evaluator's opinion with its resolved weight.
type Evaluation struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
	Weight  float64 `json:"weight"`
}

// Result is the merged verdict of one round.
type Result struct {
	Score           float64      `json:"score"`
	Decision        Decision     `json:"decision"`
	Evaluations     []Evaluation `json:"evaluations"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// WeightSource resolves an evaluator's weight: the fixed per-role base
// weight scaled by the evaluator's rolling success rate. More reliable
// evaluators count more.
type WeightSource interface {
	Weight(agentID string) float64
}

// EqualWeights is a WeightSource giving every evaluator weight 1.0.
type EqualWeights struct{}

// Weight implements WeightSource.
func (EqualWeights) Weight(string) float64 { return 1.0 }

// Engine computes consensus verdicts.
type Engine struct {
	weights WeightSource
}

// NewEngine creates an engine. A nil source falls back to equal weights.
func NewEngine(weights WeightSource) *Engine {
	if weights == nil {
		weights = EqualWeights{}
	}
	return &Engine{weights: weights}
}

// Evaluate merges the evaluations into a Result. At least one evaluation
// is required; zero evaluators is ErrInsufficientEvaluators.
func (e *Engine) Evaluate(req Request, evals []Scored) (*Result, error) {
	if len(evals) == 0 {
		return nil, fmt.Errorf("%w: no evaluators responded in round %d",
			scheduler.ErrInsufficientEvaluators, req.Round)
	}

	res := &Result{Evaluations: make([]Evaluation, 0, len(evals))}
	var weightedSum, weightTotal float64
	seen := make(map[string]bool)
	for _, ev := range evals {
		w := e.weights.Weight(ev.AgentID)
		if w < 0 {
			w = 0
		}
		score := clamp(ev.Score)
		weightedSum += score * w
		weightTotal += w
		res.Evaluations = append(res.Evaluations, Evaluation{AgentID: ev.AgentID, Score: score, Weight: w})
		for _, f := range ev.Findings {
			if !seen[f] {
				seen[f] = true
				res.Recommendations = append(res.Recommendations, f)
			}
		}
	}

	if weightTotal == 0 {
		// Degenerate weights reduce to an unweighted mean.
		var sum float64
		for _, ev := range res.Evaluations {
			sum += ev.Score
		}
		res.Score = sum / float64(len(res.Evaluations))
	} else {
		res.Score = weightedSum / weightTotal
	}

	res.Decision = decide(res.Score, req.Threshold, req.Margin)
	return res, nil
}

// decide applies the decision rule. An exact tie at the revise/reject
// boundary resolves to Revise: the round budget still decrements, so
// termination is unaffected.
func decide(score, threshold, margin float64) Decision {
	switch {
	case score >= threshold:
		return Accept
	case score >= threshold-margin:
		return Revise
	default:
		return Reject
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
