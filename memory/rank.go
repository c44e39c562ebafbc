package memory

import (
	"math"
	"sort"
	"time"
)

// blendedScore combines similarity, recency, and importance into one
// retrieval score. Recency decays exponentially at lambda per hour;
// importance is softened so a zero-importance record is dampened rather
// than removed from ranking.
func blendedScore(similarity float64, age time.Duration, importance float64, lambda float64) float64 {
	decay := math.Exp(-lambda * age.Hours())
	return similarity * decay * (0.5 + importance/2)
}

// rank orders scored records by blended score, highest first, breaking
// ties in favor of the more recent record. Pure; the same inputs always
// produce the same order.
func rank(scored []Scored, now time.Time, lambda float64) []Record {
	type ranked struct {
		rec   Record
		score float64
	}
	rs := make([]ranked, 0, len(scored))
	for _, s := range scored {
		age := now.Sub(s.Record.CreatedAt)
		if age < 0 {
			age = 0
		}
		rs = append(rs, ranked{
			rec:   s.Record,
			score: blendedScore(s.Similarity, age, s.Record.Importance, lambda),
		})
	}

	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		return rs[i].rec.CreatedAt.After(rs[j].rec.CreatedAt)
	})

	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = r.rec
	}
	return out
}
