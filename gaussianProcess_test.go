package hpo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGaussianProcessPredict(t *testing.T) {
	gp := newGaussianProcess()
	gp.SetSigma(0.25)

	// No observations: prior mean and full uncertainty.
	mean, variance := gp.Predict([]float64{0.5})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 1.0, variance)

	gp.Update([]float64{0.1}, 2)
	gp.Update([]float64{0.9}, 4)

	near, nearVariance := gp.Predict([]float64{0.1})
	_, midVariance := gp.Predict([]float64{0.5})

	assert.InDelta(t, 2, near, 0.05)
	assert.Less(t, nearVariance, midVariance)
	assert.Greater(t, nearVariance, 0.0)
}

func TestGaussianProcessUpdateCopies(t *testing.T) {
	gp := newGaussianProcess()

	x := []float64{0.2, 0.4}
	gp.Update(x, 1)
	x[0] = 0.9

	assert.Equal(t, []float64{0.2, 0.4}, gp.X[0])
}

func TestRBFKernel(t *testing.T) {
	gp := newGaussianProcess()

	assert.Equal(t, 1.0, gp.rbfKernel([]float64{0.3, 0.7}, []float64{0.3, 0.7}))
	assert.Less(t, gp.rbfKernel([]float64{0, 0}, []float64{1, 1}), gp.rbfKernel([]float64{0, 0}, []float64{0.5, 0.5}))
	assert.Panics(t, func() { gp.rbfKernel([]float64{0}, []float64{0, 1}) })
}
