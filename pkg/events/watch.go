package events

import (
	"time"

	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
)

const WatchPrefix = "watch"

var (
	// WatchKey is the aggregate ID of the singleton remediation watcher
	WatchKey = timebox.NewAggregateID(WatchPrefix)

	// WatchAppliers contains the event applier functions for the
	// remediation watcher's cursor state
	WatchAppliers = makeWatchAppliers()
)

// NewWatchState creates an empty watch state with initialized maps
func NewWatchState() *api.WatchState {
	return &api.WatchState{
		Waits:     map[api.Host]*api.HostWait{},
		Submitted: map[api.ClusterID]time.Time{},
	}
}

func makeWatchAppliers() timebox.Appliers[*api.WatchState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.WatchState]{
		api.EventTypeWatermarkAdvanced: timebox.MakeApplier(
			watermarkAdvanced,
		),
		api.EventTypeHostSuspected: timebox.MakeApplier(hostSuspected),
		api.EventTypeHostResolved:  timebox.MakeApplier(hostResolved),
		api.EventTypeRemediationSubmitted: timebox.MakeApplier(
			remediationSubmitted,
		),
	})
}

// watermarkAdvanced only ever moves the cursor forward. A stale event
// replayed out of order cannot rewind it
func watermarkAdvanced(
	st *api.WatchState, ev *timebox.Event, data api.WatermarkAdvancedEvent,
) *api.WatchState {
	if data.Watermark <= st.Watermark {
		return st
	}
	return st.
		SetWatermark(data.Watermark).
		SetLastUpdated(ev.Timestamp)
}

func hostSuspected(
	st *api.WatchState, ev *timebox.Event, data api.HostSuspectedEvent,
) *api.WatchState {
	return st.
		SetWait(data.Wait).
		SetLastUpdated(ev.Timestamp)
}

func hostResolved(
	st *api.WatchState, ev *timebox.Event, data api.HostResolvedEvent,
) *api.WatchState {
	return st.
		RemoveWait(data.Host).
		SetLastUpdated(ev.Timestamp)
}

func remediationSubmitted(
	st *api.WatchState, ev *timebox.Event, data api.RemediationSubmittedEvent,
) *api.WatchState {
	for _, host := range data.Hosts {
		st = st.RemoveWait(host)
	}
	return st.
		SetSubmitted(data.ClusterID, data.At).
		SetLastUpdated(ev.Timestamp)
}
