package adapter

import (
	"math/rand"

	"github.com/wudi/stablegate/internal/stableerrors"
)

// TrialModeConfig describes the Bernoulli outcome probabilities for a
// simulated attempt, per spec §4.1 "Trial mode".
type TrialModeConfig struct {
	Enabled               bool
	ReqFailureProbability   float64 // probability an attempt "fails"
	RetryFailureProbability float64 // probability a failure is classified retryable
}

// Validate reports a validation error if either probability is outside
// [0, 1], per spec §4.1 step 1.
func (c TrialModeConfig) Validate() error {
	if c.ReqFailureProbability < 0 || c.ReqFailureProbability > 1 {
		return stableerrors.New(stableerrors.KindValidation, "reqFailureProbability must be in [0,1]")
	}
	if c.RetryFailureProbability < 0 || c.RetryFailureProbability > 1 {
		return stableerrors.New(stableerrors.KindValidation, "retryFailureProbability must be in [0,1]")
	}
	return nil
}

// TrialAdapter is an Adapter that never calls out over the network: each
// attempt draws a synthetic outcome from TrialModeConfig instead.
type TrialAdapter struct {
	Config TrialModeConfig
	Rand   *rand.Rand // nil uses the package-level source
}

func (t *TrialAdapter) float64() float64 {
	if t.Rand != nil {
		return t.Rand.Float64()
	}
	return rand.Float64()
}

// Do draws a synthetic success/failure outcome and never performs I/O.
func (t *TrialAdapter) Do(cfg RequestConfig) (*Response, error) {
	if t.float64() < t.Config.ReqFailureProbability {
		retryable := t.float64() < t.Config.RetryFailureProbability
		err := stableerrors.New(stableerrors.KindTrialMode, "trial mode synthetic failure")
		if retryable {
			return nil, err.WithStatusCode(503)
		}
		return nil, err.WithStatusCode(400)
	}
	return &Response{Status: 200, Data: []byte(`{"trialMode":true}`)}, nil
}
