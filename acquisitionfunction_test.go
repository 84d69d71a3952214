package hpo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedImprovement(t *testing.T) {
	params := AcquisitionParams{BestSoFar: 1}

	// At the incumbent's mean the closed form is -sigma*phi(0).
	assert.InDelta(t, -0.5*normalPDF(0), ExpectedImprovement(1, 0.25, params), 1e-12)

	// Equal mean: the more uncertain candidate ranks first.
	assert.Less(t, ExpectedImprovement(1, 0.5, params), ExpectedImprovement(1, 0.1, params))

	// Equal variance: the lower predicted loss ranks first.
	assert.Less(t, ExpectedImprovement(0.5, 0.1, params), ExpectedImprovement(1.5, 0.1, params))

	// No uncertainty leaves the plain improvement.
	assert.Equal(t, -0.25, ExpectedImprovement(0.75, 0, params))
	assert.Equal(t, 0.0, ExpectedImprovement(2, 0, params))

	// Xi raises the bar.
	assert.Greater(t, ExpectedImprovement(0.9, 0.1, AcquisitionParams{BestSoFar: 1, Xi: 0.1}), ExpectedImprovement(0.9, 0.1, params))
}

func TestProbabilityOfImprovement(t *testing.T) {
	params := AcquisitionParams{BestSoFar: 1}

	assert.InDelta(t, 0.5, ProbabilityOfImprovement(1, 0.3, params), 1e-12)
	assert.Less(t, ProbabilityOfImprovement(0.5, 0.1, params), ProbabilityOfImprovement(1.5, 0.1, params))

	assert.Equal(t, 0.0, ProbabilityOfImprovement(0.5, 0, params))
	assert.Equal(t, 1.0, ProbabilityOfImprovement(1.5, 0, params))
	assert.False(t, math.IsNaN(ProbabilityOfImprovement(1, 0, params)))
}

func TestUCB(t *testing.T) {
	params := AcquisitionParams{Beta: 2}

	assert.Equal(t, 0.0, UCB(1, 0.25, params))
	assert.Less(t, UCB(1, 1, params), UCB(1, 0.25, params))
}

func TestThompsonSamplingIsSeeded(t *testing.T) {
	a := ThompsonSampling(1, 0.5, AcquisitionParams{RandomState: rand.New(rand.NewSource(7))})
	b := ThompsonSampling(1, 0.5, AcquisitionParams{RandomState: rand.New(rand.NewSource(7))})

	assert.Equal(t, a, b)
	assert.Equal(t, 1.0, ThompsonSampling(1, 0, AcquisitionParams{RandomState: rand.New(rand.NewSource(7))}))
}

func TestAcquisitionByName(t *testing.T) {
	params := AcquisitionParams{BestSoFar: 1}

	assert.Equal(t, ExpectedImprovement(1, 0.5, params), acquisitionByName("EI")(1, 0.5, params))
	assert.Equal(t, ProbabilityOfImprovement(0.5, 0.5, params), acquisitionByName("PI")(0.5, 0.5, params))
	assert.Equal(t, UCB(1, 0.5, AcquisitionParams{Beta: 2}), acquisitionByName("")(1, 0.5, AcquisitionParams{Beta: 2}))
}
