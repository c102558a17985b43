package report

import "github.com/xyrax/instra/internal/storage"

// Summary aggregates a session's history for grounding chat replies.
type Summary struct {
	Count int

	AvgLikes       float64
	AvgSaves       float64
	AvgComments    float64
	AvgShares      float64
	AvgFollows     float64
	AvgHashtags    float64
	AvgImpressions float64
	AvgViralScore  float64

	Best  storage.Post
	Worst storage.Post
}

// Summarize aggregates posts. The zero Summary is returned for no posts.
func Summarize(posts []storage.Post) Summary {
	if len(posts) == 0 {
		return Summary{}
	}
	s := Summary{Count: len(posts), Best: posts[0], Worst: posts[0]}
	for _, p := range posts {
		s.AvgLikes += float64(p.Counts.Likes)
		s.AvgSaves += float64(p.Counts.Saves)
		s.AvgComments += float64(p.Counts.Comments)
		s.AvgShares += float64(p.Counts.Shares)
		s.AvgFollows += float64(p.Counts.Follows)
		s.AvgHashtags += float64(p.Counts.Hashtags)
		s.AvgImpressions += p.PredictedImpressions
		s.AvgViralScore += p.ViralScore
		if p.PredictedImpressions > s.Best.PredictedImpressions {
			s.Best = p
		}
		if p.PredictedImpressions < s.Worst.PredictedImpressions {
			s.Worst = p
		}
	}
	n := float64(len(posts))
	s.AvgLikes /= n
	s.AvgSaves /= n
	s.AvgComments /= n
	s.AvgShares /= n
	s.AvgFollows /= n
	s.AvgHashtags /= n
	s.AvgImpressions /= n
	s.AvgViralScore /= n
	return s
}

// SaveToLike is the ratio of average saves to average likes.
func (s Summary) SaveToLike() float64 {
	return s.AvgSaves / max(s.AvgLikes, 1)
}

// ScoreBand describes the average viral score relative to the viral threshold.
func (s Summary) ScoreBand() string {
	switch {
	case s.AvgViralScore >= 65:
		return "strong (above viral threshold)"
	case s.AvgViralScore >= 40:
		return "moderate (below viral threshold of 65)"
	default:
		return "weak (well below viral threshold)"
	}
}
