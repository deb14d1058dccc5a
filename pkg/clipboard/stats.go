package clipboard

import "sync/atomic"

// Stats counts monitor activity.
type Stats struct {
	Reads            uint64 `json:"reads"`
	Detections       uint64 `json:"detections"`
	PermissionDenied uint64 `json:"permission_denied"`
	Failures         uint64 `json:"failures"`
	Demotions        uint64 `json:"demotions"`
	Writes           uint64 `json:"writes"`
	Refusals         uint64 `json:"refusals"`
}

type monitorStats struct {
	reads            atomic.Uint64
	detections       atomic.Uint64
	permissionDenied atomic.Uint64
	failures         atomic.Uint64
	demotions        atomic.Uint64
	writes           atomic.Uint64
	refusals         atomic.Uint64
}

func (s *monitorStats) snapshot() Stats {
	return Stats{
		Reads:            s.reads.Load(),
		Detections:       s.detections.Load(),
		PermissionDenied: s.permissionDenied.Load(),
		Failures:         s.failures.Load(),
		Demotions:        s.demotions.Load(),
		Writes:           s.writes.Load(),
		Refusals:         s.refusals.Load(),
	}
}
