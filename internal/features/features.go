package features

import (
	"fmt"
)

// Epsilon is the denominator floor for ratio features.
const Epsilon = 1.0

// MinFields is the number of non-nil counters a request must carry.
const MinFields = 3

// Vector positions. Names() returns the same order.
const (
	Likes = iota
	Saves
	Comments
	Shares
	Follows
	ProfileVisits
	CaptionLength
	Hashtags
	Reposts
	SaveToLikeRatio
	FollowerConversionRate

	VectorLen

	rawFields = Reposts + 1
)

var names = [VectorLen]string{
	"likes",
	"saves",
	"comments",
	"shares",
	"follows",
	"profile_visits",
	"caption_length",
	"hashtags",
	"reposts",
	"save_to_like_ratio",
	"follower_conversion_rate",
}

// Names returns the feature names in vector order.
func Names() []string {
	out := make([]string, VectorLen)
	copy(out, names[:])
	return out
}

// Index returns the vector position of a feature name, or -1.
func Index(name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// PostMetrics holds the raw counters of one post. A nil field was not supplied.
type PostMetrics struct {
	Likes         *int `json:"likes,omitempty"`
	Saves         *int `json:"saves,omitempty"`
	Comments      *int `json:"comments,omitempty"`
	Shares        *int `json:"shares,omitempty"`
	Follows       *int `json:"follows,omitempty"`
	ProfileVisits *int `json:"profile_visits,omitempty"`
	CaptionLength *int `json:"caption_length,omitempty"`
	Hashtags      *int `json:"hashtags,omitempty"`
	Reposts       *int `json:"reposts,omitempty"`
}

// Int returns a pointer to v. Handy for building PostMetrics literals.
func Int(v int) *int { return &v }

func (m PostMetrics) fields() [rawFields]*int {
	return [rawFields]*int{
		m.Likes, m.Saves, m.Comments, m.Shares, m.Follows,
		m.ProfileVisits, m.CaptionLength, m.Hashtags, m.Reposts,
	}
}

// Field returns the address of the counter called name, or nil for an
// unknown or derived name.
func (m *PostMetrics) Field(name string) **int {
	switch Index(name) {
	case Likes:
		return &m.Likes
	case Saves:
		return &m.Saves
	case Comments:
		return &m.Comments
	case Shares:
		return &m.Shares
	case Follows:
		return &m.Follows
	case ProfileVisits:
		return &m.ProfileVisits
	case CaptionLength:
		return &m.CaptionLength
	case Hashtags:
		return &m.Hashtags
	case Reposts:
		return &m.Reposts
	default:
		return nil
	}
}

// Present returns how many counters are non-nil.
func (m PostMetrics) Present() int {
	n := 0
	for _, f := range m.fields() {
		if f != nil {
			n++
		}
	}
	return n
}

// Counts is PostMetrics with absent fields imputed as zero.
type Counts struct {
	Likes         int `json:"likes"`
	Saves         int `json:"saves"`
	Comments      int `json:"comments"`
	Shares        int `json:"shares"`
	Follows       int `json:"follows"`
	ProfileVisits int `json:"profile_visits"`
	CaptionLength int `json:"caption_length"`
	Hashtags      int `json:"hashtags"`
	Reposts       int `json:"reposts"`
}

// Impute fills absent counters with zero.
func (m PostMetrics) Impute() Counts {
	v := func(p *int) int {
		if p == nil {
			return 0
		}
		return *p
	}
	return Counts{
		Likes:         v(m.Likes),
		Saves:         v(m.Saves),
		Comments:      v(m.Comments),
		Shares:        v(m.Shares),
		Follows:       v(m.Follows),
		ProfileVisits: v(m.ProfileVisits),
		CaptionLength: v(m.CaptionLength),
		Hashtags:      v(m.Hashtags),
		Reposts:       v(m.Reposts),
	}
}

// Metrics converts c back into a fully populated PostMetrics.
func (c Counts) Metrics() PostMetrics {
	return PostMetrics{
		Likes:         Int(c.Likes),
		Saves:         Int(c.Saves),
		Comments:      Int(c.Comments),
		Shares:        Int(c.Shares),
		Follows:       Int(c.Follows),
		ProfileVisits: Int(c.ProfileVisits),
		CaptionLength: Int(c.CaptionLength),
		Hashtags:      Int(c.Hashtags),
		Reposts:       Int(c.Reposts),
	}
}

// Derived holds the ratio features computed from one post.
type Derived struct {
	SaveToLikeRatio        float64 `json:"save_to_like_ratio"`
	FollowerConversionRate float64 `json:"follower_conversion_rate"`
	// EngagementRate is a percentage of impressions and stays zero until
	// WithImpressions is called.
	EngagementRate float64 `json:"engagement_rate"`
}

// WithImpressions returns a copy of d with EngagementRate computed against
// the given impressions.
func (d Derived) WithImpressions(c Counts, impressions float64) Derived {
	total := float64(c.Likes + c.Saves + c.Comments + c.Shares)
	d.EngagementRate = total / max(impressions, Epsilon) * 100
	return d
}

// Vector is the fixed-order model input.
type Vector [VectorLen]float64

// Get returns the value of a named feature, or 0 if the name is unknown.
func (v Vector) Get(name string) float64 {
	i := Index(name)
	if i < 0 {
		return 0
	}
	return v[i]
}

// InsufficientInputError reports a request with too few counters.
type InsufficientInputError struct {
	Present int
}

func (e *InsufficientInputError) Error() string {
	return fmt.Sprintf("insufficient input: %d of %d required metrics present", e.Present, MinFields)
}

// InvalidInputError reports a negative counter.
type InvalidInputError struct {
	Field string
	Value int
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s must be non-negative, got %d", e.Field, e.Value)
}

// Derive validates m, imputes missing counters as zero, and builds the model
// input vector. The field count is checked before imputation.
func Derive(m PostMetrics) (Counts, Derived, Vector, error) {
	if n := m.Present(); n < MinFields {
		return Counts{}, Derived{}, Vector{}, &InsufficientInputError{Present: n}
	}
	for i, f := range m.fields() {
		if f != nil && *f < 0 {
			return Counts{}, Derived{}, Vector{}, &InvalidInputError{Field: names[i], Value: *f}
		}
	}

	c := m.Impute()
	d := Derived{
		SaveToLikeRatio:        float64(c.Saves) / max(float64(c.Likes), Epsilon),
		FollowerConversionRate: float64(c.Follows) / max(float64(c.ProfileVisits), Epsilon),
	}

	var v Vector
	v[Likes] = float64(c.Likes)
	v[Saves] = float64(c.Saves)
	v[Comments] = float64(c.Comments)
	v[Shares] = float64(c.Shares)
	v[Follows] = float64(c.Follows)
	v[ProfileVisits] = float64(c.ProfileVisits)
	v[CaptionLength] = float64(c.CaptionLength)
	v[Hashtags] = float64(c.Hashtags)
	v[Reposts] = float64(c.Reposts)
	v[SaveToLikeRatio] = d.SaveToLikeRatio
	v[FollowerConversionRate] = d.FollowerConversionRate

	return c, d, v, nil
}

// Map returns the vector keyed by feature name.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, VectorLen)
	for i, n := range names {
		out[n] = v[i]
	}
	return out
}
