package predict

import (
	"fmt"
	"log/slog"

	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/model"
)

// Result is the outcome of one analysis.
type Result struct {
	PredictedImpressions float64          `json:"predicted_impressions"`
	PredictedViralScore  float64          `json:"predicted_viral_score"`
	Counts               features.Counts  `json:"inputs"`
	Derived              features.Derived `json:"derived"`
	Vector               features.Vector  `json:"-"`

	// Clamped is set when a negative impressions output was replaced with 0.
	Clamped bool `json:"clamped,omitempty"`
}

// Predictor runs inference for one target.
type Predictor interface {
	Predict(target model.Target, v features.Vector) (float64, error)
}

// Service sequences feature derivation and model inference.
type Service struct {
	models Predictor
	logger *slog.Logger
}

// NewService creates a Service over the given registry.
func NewService(models Predictor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{models: models, logger: logger}
}

// Analyze predicts impressions and viral score for m. It returns
// *features.InsufficientInputError, *features.InvalidInputError or
// *model.UnavailableError unchanged.
func (s *Service) Analyze(m features.PostMetrics) (Result, error) {
	counts, derived, vec, err := features.Derive(m)
	if err != nil {
		return Result{}, err
	}

	imp, err := s.models.Predict(model.Impressions, vec)
	if err != nil {
		return Result{}, err
	}
	viral, err := s.models.Predict(model.ViralScore, vec)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		PredictedImpressions: imp,
		PredictedViralScore:  viral,
		Counts:               counts,
		Vector:               vec,
	}
	if imp < 0 {
		s.logger.Debug("clamping negative impressions", "raw", imp)
		res.PredictedImpressions = 0
		res.Clamped = true
	}
	res.Derived = derived.WithImpressions(counts, res.PredictedImpressions)
	return res, nil
}

// FollowRate returns follows per profile visit as a percentage, 0 when there
// were no visits.
func (r Result) FollowRate() float64 {
	if r.Counts.ProfileVisits == 0 {
		return 0
	}
	return float64(r.Counts.Follows) / float64(r.Counts.ProfileVisits) * 100
}

// Label buckets the viral score.
func (r Result) Label() string {
	return ViralLabel(r.PredictedViralScore)
}

// ViralLabel buckets a viral score into a potential band.
func ViralLabel(score float64) string {
	switch {
	case score >= 65:
		return "High Potential"
	case score >= 40:
		return "Moderate Potential"
	default:
		return "Low Potential"
	}
}

// String is a compact one-line description used in logs and prompts.
func (r Result) String() string {
	return fmt.Sprintf("impressions=%.0f viral_score=%.1f", r.PredictedImpressions, r.PredictedViralScore)
}
