package model

import (
	"embed"
	"fmt"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xyrax/instra/internal/features"
)

//go:embed artifacts/default.yaml
var artifactsFS embed.FS

const defaultArtifacts = "artifacts/default.yaml"

// Importance maps a feature name to its relative weight. Weights sum to 1.
type Importance map[string]float64

// Bundle is the immutable model configuration handed to the prediction
// service and insight generator.
type Bundle struct {
	Registry   *Registry
	Importance Importance
}

type scalerFile struct {
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
}

type targetFile struct {
	Kind         string      `yaml:"kind"`
	Alpha        float64     `yaml:"alpha"`
	CVR2         float64     `yaml:"cv_r2"`
	Features     []string    `yaml:"features"`
	Scaler       *scalerFile `yaml:"scaler"`
	Coefficients []float64   `yaml:"coefficients"`
	Intercept    float64     `yaml:"intercept"`
}

type artifactsFile struct {
	Version    int                   `yaml:"version"`
	Features   []string              `yaml:"features"`
	Scaler     *scalerFile           `yaml:"scaler"`
	Targets    map[string]targetFile `yaml:"targets"`
	Importance map[string]float64    `yaml:"importance"`
}

// Load reads the artifact file at path, or the embedded default when path is
// empty. Targets missing from the file, or whose sections are malformed, are
// left unavailable and logged. A feature order mismatch or an invalid
// importance table is returned as an error.
func Load(path string, logger *slog.Logger) (*Bundle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = artifactsFS.ReadFile(defaultArtifacts)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading model artifacts: %w", err)
	}

	return parse(data, logger)
}

func parse(data []byte, logger *slog.Logger) (*Bundle, error) {
	var f artifactsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing model artifacts: %w", err)
	}

	var artifacts []*Artifact
	missing := make(map[Target]error)
	for _, t := range Targets {
		tf, ok := f.Targets[string(t)]
		if !ok {
			missing[t] = fmt.Errorf("no artifact section for %s", t)
			continue
		}
		a := &Artifact{
			Target:       t,
			Kind:         tf.Kind,
			Features:     tf.Features,
			Coefficients: tf.Coefficients,
			Intercept:    tf.Intercept,
			CVR2:         tf.CVR2,
		}
		if a.Features == nil {
			a.Features = f.Features
		}
		sc := tf.Scaler
		if sc == nil {
			sc = f.Scaler
		}
		if sc != nil {
			a.Mean, a.Scale = sc.Mean, sc.Scale
		}
		artifacts = append(artifacts, a)
	}

	reg, err := NewRegistry(artifacts...)
	if err != nil {
		return nil, err
	}
	for t, e := range missing {
		reg.failures[t] = e
	}
	for _, t := range Targets {
		if e, failed := reg.failures[t]; failed {
			logger.Error("model artifact unavailable", "target", t, "error", e)
			continue
		}
		a := reg.Artifact(t)
		logger.Debug("model artifact loaded", "target", t, "kind", a.Kind, "cv_r2", a.CVR2)
	}

	imp, err := validateImportance(f.Importance)
	if err != nil {
		return nil, err
	}

	return &Bundle{Registry: reg, Importance: imp}, nil
}

func validateImportance(m map[string]float64) (Importance, error) {
	if len(m) == 0 {
		return nil, nil
	}
	var sum float64
	imp := make(Importance, len(m))
	for name, w := range m {
		if features.Index(name) < 0 {
			return nil, fmt.Errorf("importance table names unknown feature %q", name)
		}
		if w < 0 {
			return nil, fmt.Errorf("importance weight for %q is negative", name)
		}
		sum += w
		imp[name] = w
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("importance weights sum to %.6f, want 1", sum)
	}
	return imp, nil
}
