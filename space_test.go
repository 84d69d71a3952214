package hpo

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRange(t *testing.T) {
	assert.Equal(t, Float{Low: 0.001, High: 0.1}, Range(0.001, 0.1))
	assert.Equal(t, Int{Low: 5, High: 50}, Range(5, 50))
	assert.Equal(t, Int{Low: 1, High: 8}, Range[int64](1, 8))
}

func TestSearchSpaceValidate(t *testing.T) {
	tests := []struct {
		name  string
		space SearchSpace
		want  error
	}{
		{"valid", SearchSpace{"lr": Range(0.001, 0.1), "opt": Choices("adam", "sgd")}, nil},
		{"empty", SearchSpace{}, ErrConfiguration},
		{"no choices", SearchSpace{"opt": Choices()}, ErrConfiguration},
		{"bad choice type", SearchSpace{"opt": Choices([]int{1})}, ErrConfiguration},
		{"low above high", SearchSpace{"lr": Range(0.1, 0.001)}, ErrInvalidArgument},
		{"int low above high", SearchSpace{"epochs": Range(50, 5)}, ErrInvalidArgument},
		{"log needs positive low", SearchSpace{"lr": Float{Low: 0, High: 1, Log: true}}, ErrInvalidArgument},
		{"nil distribution", SearchSpace{"lr": nil}, ErrConfiguration},
		{"infinite bounds", SearchSpace{"lr": Range(math.Inf(-1), math.Inf(1))}, ErrInvalidArgument},
		{"infinite high", SearchSpace{"lr": Range(0.0, math.Inf(1))}, ErrInvalidArgument},
		{"duplicate choices", SearchSpace{"opt": Choices("adam", "adam", "sgd")}, ErrConfiguration},
		{"non-finite choice", SearchSpace{"x": Choices(0.5, math.NaN())}, ErrConfiguration},
		{"same value, other kind", SearchSpace{"x": Choices(1, 1.0, int64(1))}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.space.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestSearchSpaceNamesSorted(t *testing.T) {
	space := SearchSpace{"b": Range(0, 1), "c": Range(0, 1), "a": Range(0, 1)}

	assert.Equal(t, []string{"a", "b", "c"}, space.Names())
}

func TestSearchSpaceJSONKeepsChoiceKinds(t *testing.T) {
	space := SearchSpace{
		"lr":     Float{Low: 1e-4, High: 1e-1, Log: true},
		"epochs": Int{Low: 5, High: 50, Step: 5},
		"batch":  Choices(16, 32, 64),
		"opt":    Choices("adam", "sgd"),
		"mix":    Choices(true, 0.5, int64(7)),
	}

	data, err := json.Marshal(space)
	require.NoError(t, err)

	var decoded SearchSpace
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, space, decoded)

	// int choices must stay ints, not float64s.
	assert.IsType(t, 0, decoded["batch"].(Categorical).Choices[0])
}

func TestEncodeDecode(t *testing.T) {
	space := SearchSpace{"lr": Range(0.001, 0.1), "opt": Choices("adam", "sgd"), "epochs": Range(1, 10)}

	internal, err := space.encode(Params{"lr": 0.01, "opt": "sgd", "epochs": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"lr": 0.01, "opt": 1, "epochs": 3}, internal)

	assert.Equal(t, Params{"lr": 0.01, "opt": "sgd", "epochs": 3}, space.decode(internal))

	// Values outside the space are dropped.
	assert.Equal(t, Params{"opt": "adam"}, space.decode(map[string]float64{"opt": 0, "lr": 5, "gone": 1}))

	_, err = space.encode(Params{"opt": "rmsprop"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = space.encode(Params{"momentum": 0.9})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIntSnap(t *testing.T) {
	d := Int{Low: 5, High: 50, Step: 5}

	assert.Equal(t, 10, d.count())
	assert.Equal(t, 5, d.snap(4.4))
	assert.Equal(t, 10, d.snap(8.0))
	assert.Equal(t, 50, d.snap(52.6))
	assert.Equal(t, 50, d.at(9))
}
