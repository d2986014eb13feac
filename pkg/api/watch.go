package api

import (
	"maps"
	"time"
)

type (
	// HealthSignal is one record of the append-only, monotonically-id'd
	// health feed
	HealthSignal struct {
		ID        int64     `json:"id"`
		Host      Host      `json:"host"`
		Timestamp time.Time `json:"timestamp"`
		Healthy   bool      `json:"healthy"`
		Detail    string    `json:"detail,omitempty"`
	}

	// HostWait tracks one suspected-unhealthy host between poll cycles
	HostWait struct {
		Host      Host      `json:"host"`
		FirstSeen time.Time `json:"first_seen"`
		LastID    int64     `json:"last_id"`
		Cycles    int       `json:"cycles"`
	}

	// WatchState is the remediation watcher's persisted cursor: the feed
	// watermark, the per-host wait records, and the per-cluster submission
	// registry used for cool-down gating
	WatchState struct {
		Watermark   int64                   `json:"watermark"`
		Waits       map[Host]*HostWait      `json:"waits"`
		Submitted   map[ClusterID]time.Time `json:"submitted"`
		LastUpdated time.Time               `json:"last_updated"`
	}
)

// SetWatermark returns a copy of the watch state with the watermark set
func (s *WatchState) SetWatermark(mark int64) *WatchState {
	res := *s
	res.Watermark = mark
	return &res
}

// SetWait returns a copy of the watch state with the host wait replaced
func (s *WatchState) SetWait(w *HostWait) *WatchState {
	res := *s
	res.Waits = maps.Clone(s.Waits)
	if res.Waits == nil {
		res.Waits = map[Host]*HostWait{}
	}
	res.Waits[w.Host] = w
	return &res
}

// RemoveWait returns a copy of the watch state with the host wait removed
func (s *WatchState) RemoveWait(host Host) *WatchState {
	res := *s
	res.Waits = maps.Clone(s.Waits)
	delete(res.Waits, host)
	return &res
}

// SetSubmitted returns a copy of the watch state recording a remediation
// submission time for a cluster
func (s *WatchState) SetSubmitted(id ClusterID, at time.Time) *WatchState {
	res := *s
	res.Submitted = maps.Clone(s.Submitted)
	if res.Submitted == nil {
		res.Submitted = map[ClusterID]time.Time{}
	}
	res.Submitted[id] = at
	return &res
}

// SetLastUpdated returns a copy of the watch state with the update time
// set
func (s *WatchState) SetLastUpdated(at time.Time) *WatchState {
	res := *s
	res.LastUpdated = at
	return &res
}
