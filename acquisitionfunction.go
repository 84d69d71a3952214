package hpo

import (
	"math"
	"math/rand"
)

//////
// Acquisition functions used by the GP sampler.
// Each one scores a candidate from the model's predicted loss and variance;
// lower values are more promising.
//////

// AcquisitionFunc scores a candidate point.
//
// Parameters:
// - mean: The predicted loss at the point (lower is better)
// - variance: The predicted variance/uncertainty at that point
// - params: Additional parameters needed by specific acquisition functions
//
// Returns:
// - float64: Acquisition value (lower values indicate more promising points)
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds the parameters of the acquisition functions.
type AcquisitionParams struct {
	// Beta controls the exploration-exploitation trade-off of UCB.
	// - Higher values (e.g., 3.0 or 5.0) encourage more exploration
	// - Lower values (e.g., 0.1 or 0.5) focus on known good areas
	Beta float64

	// Xi is the minimum improvement PI and EI look for.
	// Typical values range from 0.01 to 0.1.
	Xi float64

	// BestSoFar is the lowest loss observed so far, maintained by the
	// sampler.
	BestSoFar float64

	// RandomState is the random number generator used by Thompson Sampling.
	// Each trial gets its own, seeded from the study seed.
	RandomState *rand.Rand
}

// UCB implements the Upper Confidence Bound acquisition function.
//
// How it works:
// - Combines the predicted mean with the uncertainty (variance)
// - The Beta parameter controls the trade-off between exploration and exploitation
//
// Example:
//
//	params := AcquisitionParams{
//	    Beta: 2.0,  // Balance between exploration and exploitation
//	}
//	value := UCB(0.5, 0.2, params)  // Evaluate a point with mean=0.5, variance=0.2
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement (PI) scores the probability that a point fails
// to improve on BestSoFar by at least Xi; lower is more promising.
//
// When to use:
// - When you want to be conservative in exploring new points
// - When "probably better" matters more than "how much better"
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	gap := mean - params.BestSoFar - params.Xi

	sigma := math.Sqrt(variance)
	if sigma == 0 {
		if gap < 0 {
			return 0
		}

		return 1
	}

	return normalCDF(gap / sigma)
}

// ExpectedImprovement (EI) combines the probability of improvement with its
// magnitude. It returns the negated expected improvement over BestSoFar-Xi,
// so that at equal mean the more uncertain point scores lower.
//
// When to use:
// - Most commonly used acquisition function
// - When the magnitude of improvement matters
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	improvement := params.BestSoFar - mean - params.Xi

	sigma := math.Sqrt(variance)
	if sigma == 0 {
		return -math.Max(improvement, 0)
	}

	z := improvement / sigma

	return -(improvement*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws a random sample from the posterior at the point.
//
// Warning:
// - RandomState must not be nil.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*params.RandomState.NormFloat64()
}

// acquisitionByName maps the MethodConfig.Acquisition names to functions.
func acquisitionByName(name string) AcquisitionFunc {
	switch name {
	case "PI":
		return ProbabilityOfImprovement
	case "EI":
		return ExpectedImprovement
	case "THOMPSON":
		return ThompsonSampling
	default:
		return UCB
	}
}
