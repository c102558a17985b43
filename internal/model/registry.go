package model

import (
	"errors"
	"fmt"

	"github.com/xyrax/instra/internal/features"
)

// Target names a prediction target.
type Target string

const (
	Impressions Target = "impressions"
	ViralScore  Target = "viral_score"
)

// Targets lists every target the registry serves.
var Targets = []Target{Impressions, ViralScore}

// Regressor kinds.
const (
	KindRidge  = "ridge"
	KindLinear = "linear"
)

// Artifact is a fitted scaler and regressor for one target. It is never
// mutated after loading.
type Artifact struct {
	Target       Target
	Kind         string
	Features     []string
	Mean         []float64
	Scale        []float64
	Coefficients []float64
	Intercept    float64
	CVR2         float64
}

// Predict standardizes v with the stored scaler and applies the regressor.
func (a *Artifact) Predict(v features.Vector) float64 {
	sum := a.Intercept
	for i := range a.Coefficients {
		scale := a.Scale[i]
		if scale == 0 {
			scale = 1
		}
		sum += a.Coefficients[i] * (v[i] - a.Mean[i]) / scale
	}
	return sum
}

// validate checks the artifact's internal consistency. A feature order that
// differs from features.Names is reported as an *OrderError.
func (a *Artifact) validate() error {
	if a.Kind != KindRidge && a.Kind != KindLinear {
		return fmt.Errorf("unknown regressor kind %q", a.Kind)
	}
	want := features.Names()
	if len(a.Features) != len(want) {
		return &OrderError{Target: a.Target, Got: a.Features, Want: want}
	}
	for i := range want {
		if a.Features[i] != want[i] {
			return &OrderError{Target: a.Target, Got: a.Features, Want: want}
		}
	}
	n := features.VectorLen
	if len(a.Mean) != n || len(a.Scale) != n {
		return fmt.Errorf("scaler has %d means and %d scales, want %d", len(a.Mean), len(a.Scale), n)
	}
	if len(a.Coefficients) != n {
		return fmt.Errorf("regressor has %d coefficients, want %d", len(a.Coefficients), n)
	}
	return nil
}

// UnavailableError is returned for a target whose artifact failed to load.
type UnavailableError struct {
	Target Target
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model unavailable: %s", e.Target)
	}
	return fmt.Sprintf("model unavailable: %s: %v", e.Target, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// OrderError reports an artifact whose feature order does not match the
// feature engineer. It is a configuration error, fatal at startup.
type OrderError struct {
	Target Target
	Got    []string
	Want   []string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s artifact feature order %v does not match engineered order %v", e.Target, e.Got, e.Want)
}

// Registry holds the loaded artifacts. It is read-only after construction and
// safe for concurrent use.
type Registry struct {
	artifacts map[Target]*Artifact
	failures  map[Target]error
}

// NewRegistry validates the given artifacts. Artifacts that fail validation
// leave their target unavailable, except for a feature order mismatch, which
// is returned as an error.
func NewRegistry(artifacts ...*Artifact) (*Registry, error) {
	r := &Registry{
		artifacts: make(map[Target]*Artifact),
		failures:  make(map[Target]error),
	}
	for _, a := range artifacts {
		if err := a.validate(); err != nil {
			var oe *OrderError
			if errors.As(err, &oe) {
				return nil, oe
			}
			r.failures[a.Target] = err
			continue
		}
		r.artifacts[a.Target] = a
	}
	return r, nil
}

// Predict runs inference for target over v.
func (r *Registry) Predict(target Target, v features.Vector) (float64, error) {
	a, ok := r.artifacts[target]
	if !ok {
		return 0, &UnavailableError{Target: target, Err: r.failures[target]}
	}
	return a.Predict(v), nil
}

// Available reports whether target has a loaded artifact.
func (r *Registry) Available(target Target) bool {
	_, ok := r.artifacts[target]
	return ok
}

// Artifact returns the loaded artifact for target, or nil.
func (r *Registry) Artifact(target Target) *Artifact {
	return r.artifacts[target]
}
