package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeights_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Weights{Intent: 40, Fit: 35, Accessibility: 25}.Validate())
	assert.NoError(t, Weights{Intent: 100, Fit: 0, Accessibility: 0}.Validate())

	assert.Error(t, Weights{Intent: 40, Fit: 35, Accessibility: 26}.Validate())
	assert.Error(t, Weights{Intent: 50, Fit: 30, Accessibility: 19}.Validate())
	assert.Error(t, Weights{Intent: -10, Fit: 85, Accessibility: 25}.Validate())
	assert.Error(t, Weights{Intent: 110, Fit: -5, Accessibility: -5}.Validate())
}

func TestICPProfile_Validate(t *testing.T) {
	t.Parallel()

	p := &ICPProfile{
		UserID:  "u-1",
		Name:    "Mid-market SaaS",
		Weights: DefaultWeights,
	}
	require.NoError(t, p.Validate())

	p.Weights = Weights{Intent: 50, Fit: 50, Accessibility: 50}
	assert.Error(t, p.Validate())

	p.Weights = DefaultWeights
	p.Name = ""
	assert.Error(t, p.Validate())

	p.Name = "x"
	p.UserID = ""
	assert.Error(t, p.Validate())
}
