package model

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyrax/instra/internal/features"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func identityArtifact(t Target, coef float64, intercept float64) *Artifact {
	n := features.VectorLen
	a := &Artifact{
		Target:       t,
		Kind:         KindLinear,
		Features:     features.Names(),
		Mean:         make([]float64, n),
		Scale:        make([]float64, n),
		Coefficients: make([]float64, n),
		Intercept:    intercept,
	}
	for i := range n {
		a.Scale[i] = 1
		a.Coefficients[i] = coef
	}
	return a
}

func TestArtifactPredict_DotProduct(t *testing.T) {
	a := identityArtifact(Impressions, 2, 10)
	var v features.Vector
	v[features.Likes] = 3
	v[features.Saves] = 4
	assert.Equal(t, 10+2*3+2*4.0, a.Predict(v))
}

func TestArtifactPredict_Standardizes(t *testing.T) {
	a := identityArtifact(Impressions, 1, 0)
	a.Mean[features.Likes] = 100
	a.Scale[features.Likes] = 50
	var v features.Vector
	v[features.Likes] = 200
	assert.InDelta(t, 2.0, a.Predict(v), 1e-12)
}

func TestArtifactPredict_ZeroScaleTreatedAsOne(t *testing.T) {
	a := identityArtifact(Impressions, 1, 0)
	a.Scale[features.Saves] = 0
	var v features.Vector
	v[features.Saves] = 7
	assert.Equal(t, 7.0, a.Predict(v))
}

func TestRegistry_UnavailableTarget(t *testing.T) {
	reg, err := NewRegistry(identityArtifact(Impressions, 1, 0))
	require.NoError(t, err)

	_, err = reg.Predict(ViralScore, features.Vector{})
	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, ViralScore, ue.Target)
	assert.False(t, reg.Available(ViralScore))
	assert.True(t, reg.Available(Impressions))
}

func TestRegistry_MalformedArtifactUnavailable(t *testing.T) {
	bad := identityArtifact(ViralScore, 1, 0)
	bad.Coefficients = bad.Coefficients[:3]

	reg, err := NewRegistry(identityArtifact(Impressions, 1, 0), bad)
	require.NoError(t, err)

	_, err = reg.Predict(ViralScore, features.Vector{})
	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Error(), "coefficients")
}

func TestRegistry_FeatureOrderMismatchIsFatal(t *testing.T) {
	a := identityArtifact(Impressions, 1, 0)
	a.Features[0], a.Features[1] = a.Features[1], a.Features[0]

	reg, err := NewRegistry(a)
	assert.Nil(t, reg)
	var oe *OrderError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, Impressions, oe.Target)
}

func TestLoad_Default(t *testing.T) {
	b, err := Load("", quietLogger())
	require.NoError(t, err)

	for _, target := range Targets {
		assert.True(t, b.Registry.Available(target), "target %s", target)
	}
	assert.Equal(t, KindRidge, b.Registry.Artifact(Impressions).Kind)
	assert.Equal(t, KindLinear, b.Registry.Artifact(ViralScore).Kind)

	var sum float64
	for _, w := range b.Importance {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, 0.30, b.Importance["saves"])
}

func TestLoad_DefaultZeroVectorIsPositive(t *testing.T) {
	b, err := Load("", quietLogger())
	require.NoError(t, err)

	got, err := b.Registry.Predict(Impressions, features.Vector{})
	require.NoError(t, err)
	assert.InDelta(t, 400.0, got, 1e-6)
}

const partialYAML = `
features: [likes, saves, comments, shares, follows, profile_visits, caption_length, hashtags, reposts, save_to_like_ratio, follower_conversion_rate]
scaler:
  mean:  [0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]
  scale: [1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1]
targets:
  impressions:
    kind: ridge
    coefficients: [1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1]
    intercept: 5
`

func TestParse_MissingTargetUnavailable(t *testing.T) {
	b, err := parse([]byte(partialYAML), quietLogger())
	require.NoError(t, err)

	assert.True(t, b.Registry.Available(Impressions))
	_, err = b.Registry.Predict(ViralScore, features.Vector{})
	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Nil(t, b.Importance)
}

func TestParse_OrderMismatch(t *testing.T) {
	swapped := strings.Replace(partialYAML, "[likes, saves,", "[saves, likes,", 1)
	_, err := parse([]byte(swapped), quietLogger())
	var oe *OrderError
	assert.True(t, errors.As(err, &oe), "got %v", err)
}

func TestParse_ImportanceValidation(t *testing.T) {
	cases := map[string]string{
		"bad sum":      "importance:\n  saves: 0.5\n  likes: 0.2\n",
		"unknown name": "importance:\n  impressions: 1.0\n",
		"negative":     "importance:\n  saves: 1.5\n  likes: -0.5\n",
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse([]byte(partialYAML+extra), quietLogger())
			assert.Error(t, err)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := parse([]byte("targets: [unterminated"), quietLogger())
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir()+"/nope.yaml", quietLogger())
	assert.Error(t, err)
}
