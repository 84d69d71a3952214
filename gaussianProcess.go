package hpo

import (
	"math"
	"sync"
)

//////
// Const, vars, types.
//////

// minVariance keeps predictions strictly uncertain so acquisition functions
// never divide by zero or take the root of a negative number.
const minVariance = 1e-12

// gaussianProcess implements a thread-safe kernel regression model over
// normalised parameter vectors. The GP sampler uses it to predict the
// (minimisation-oriented) score of untested assignments from finished trials.
//
// Fields:
// - mu: RWMutex for thread-safe access to all fields
// - X: Observed input points, every coordinate in [0, 1]
// - Y: Observed losses at each input point (lower is better)
// - sigma: Kernel width controlling the smoothness of interpolation
//
// Memory usage:
// - O(n) where n is the number of observations.
type gaussianProcess struct {
	// mu protects access to all fields
	mu sync.RWMutex

	// X stores the encoded assignments, one slice per observation. Length of
	// inner slices must be consistent.
	X [][]float64

	// Y stores the observed losses at each point in X.
	Y []float64

	// sigma is the kernel width parameter
	// Larger values = smoother interpolation
	// Smaller values = more local influence
	sigma float64
}

//////
// Methods.
//////

// rbfKernel implements the Radial Basis Function kernel.
//
// Mathematical formula:
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * sigma^2))
//
// Important notes:
// - Panics if input vectors have different lengths
// - Returns 1.0 for identical points
// - Caller must hold at least the read lock.
func (gp *gaussianProcess) rbfKernel(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	// Calculate squared Euclidean distance
	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// Predict estimates the expected loss and its uncertainty at x.
//
// Returns:
// - mean: Kernel-weighted average of the observed losses; the plain average
// when x is far from every observation
// - variance: Uncertainty in the prediction, in (0, 1]
//
// Mathematical details:
// - Returns (0, 1) if no observations exist
// - Variance shrinks as x gets closer to observed points
//
// Performance considerations:
// - O(n^2) time for the variance, n being the number of observations.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	// Handle case with no observations
	if len(gp.X) == 0 {
		return 0, 1
	}

	// Calculate kernel values between x and all observed points
	k := make([]float64, len(gp.X))
	for i := range gp.X {
		k[i] = gp.rbfKernel(x, gp.X[i])
	}

	var weighted, weights, plain float64

	for i := range gp.X {
		weighted += k[i] * gp.Y[i]
		weights += k[i]
		plain += gp.Y[i]
	}

	if weights > 1e-9 {
		mean = weighted / weights
	} else {
		mean = plain / float64(len(gp.X))
	}

	// Calculate variance.
	variance = 1.0

	for i := range gp.X {
		for j := range gp.X {
			variance -= k[i] * k[j] / float64(len(gp.X))
		}
	}

	return mean, math.Max(variance, minVariance)
}

// Update adds a new observation point to the model.
//
// Important notes:
// - Creates a deep copy of input slice x to prevent external modifications
// - Memory usage grows with each update.
func (gp *gaussianProcess) Update(x []float64, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	// Create deep copy of input to prevent external modifications
	newX := make([]float64, len(x))
	copy(newX, x)

	// Append new observation to our training data
	gp.X = append(gp.X, newX)
	gp.Y = append(gp.Y, y)
}

// SetSigma updates the kernel width (must be positive). Affects all
// subsequent predictions.
func (gp *gaussianProcess) SetSigma(sigma float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.sigma = sigma
}

//////
// Factory.
//////

// newGaussianProcess creates a model with sigma = 1.0, suitable for inputs
// normalised to the unit cube.
func newGaussianProcess() *gaussianProcess {
	return &gaussianProcess{
		sigma: 1.0, // Default kernel width
	}
}
