package trust

import "time"

var tierPriority = map[Tier]int{
	TierMyNetwork:     3,
	TierSimilarTastes: 2,
	TierCommunity:     1,
	TierUnrated:       0,
}

// Candidate is one scored piece of content competing for a grouping key,
// such as several recommendations of the same venue
type Candidate struct {
	GroupKey  string    `json:"group_key"`
	ContentID string    `json:"content_id"`
	AuthorID  string    `json:"author_id"`
	Tier      Tier      `json:"tier"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// RankGroup keeps one candidate per group key: the highest-priority tier,
// then the most recent. Groups come back in order of first appearance.
func RankGroup(candidates []Candidate) []Candidate {
	best := make(map[string]int, len(candidates))
	out := make([]Candidate, 0, len(candidates))

	for _, c := range candidates {
		idx, ok := best[c.GroupKey]
		if !ok {
			best[c.GroupKey] = len(out)
			out = append(out, c)
			continue
		}
		if beats(c, out[idx]) {
			out[idx] = c
		}
	}
	return out
}

func beats(a, b Candidate) bool {
	pa, pb := tierPriority[a.Tier], tierPriority[b.Tier]
	if pa != pb {
		return pa > pb
	}
	return a.Timestamp.After(b.Timestamp)
}
