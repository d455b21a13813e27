package models

import "math"

// Stats is an aggregate over a window of history.
type Stats struct {
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int64   `json:"count"`
}

// Add folds one value into the aggregate.
func (s Stats) Add(v float64) Stats {
	if s.Count == 0 {
		return Stats{Sum: v, Avg: v, Min: v, Max: v, Count: 1}
	}
	s.Sum += v
	s.Count++
	s.Min = math.Min(s.Min, v)
	s.Max = math.Max(s.Max, v)
	s.Avg = s.Sum / float64(s.Count)
	return s
}

// Merge combines aggregates of two disjoint windows.
func (s Stats) Merge(o Stats) Stats {
	if s.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return s
	}
	out := Stats{
		Sum:   s.Sum + o.Sum,
		Count: s.Count + o.Count,
		Min:   math.Min(s.Min, o.Min),
		Max:   math.Max(s.Max, o.Max),
	}
	out.Avg = out.Sum / float64(out.Count)
	return out
}
