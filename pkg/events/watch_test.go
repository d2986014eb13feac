package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
)

func applyWatch(
	t *testing.T, st *api.WatchState, et api.EventType, payload any,
) *api.WatchState {
	t.Helper()
	data, err := json.Marshal(payload)
	assert.NoError(t, err)

	event := &timebox.Event{
		Timestamp:   time.Now(),
		AggregateID: events.WatchKey,
		Type:        timebox.EventType(et),
		Data:        data,
	}
	applier := events.WatchAppliers[event.Type]
	return applier(st, event)
}

func TestWatermarkAdvanced(t *testing.T) {
	st := applyWatch(t, events.NewWatchState(),
		api.EventTypeWatermarkAdvanced,
		api.WatermarkAdvancedEvent{Watermark: 42})

	assert.EqualValues(t, 42, st.Watermark)
}

func TestWatermarkNeverRewinds(t *testing.T) {
	st := applyWatch(t, events.NewWatchState(),
		api.EventTypeWatermarkAdvanced,
		api.WatermarkAdvancedEvent{Watermark: 42})
	st = applyWatch(t, st, api.EventTypeWatermarkAdvanced,
		api.WatermarkAdvancedEvent{Watermark: 17})

	assert.EqualValues(t, 42, st.Watermark)
}

func TestHostSuspectedAndResolved(t *testing.T) {
	now := time.Now()
	st := applyWatch(t, events.NewWatchState(), api.EventTypeHostSuspected,
		api.HostSuspectedEvent{
			Wait: &api.HostWait{
				Host:      "10.0.0.1",
				FirstSeen: now,
				LastID:    7,
				Cycles:    1,
			},
		})

	wait := st.Waits["10.0.0.1"]
	assert.NotNil(t, wait)
	assert.EqualValues(t, 7, wait.LastID)

	st = applyWatch(t, st, api.EventTypeHostResolved,
		api.HostResolvedEvent{Host: "10.0.0.1"})
	assert.Empty(t, st.Waits)
}

func TestRemediationSubmitted(t *testing.T) {
	now := time.Now()
	st := applyWatch(t, events.NewWatchState(), api.EventTypeHostSuspected,
		api.HostSuspectedEvent{
			Wait: &api.HostWait{Host: "10.0.0.1", FirstSeen: now},
		})
	st = applyWatch(t, st, api.EventTypeHostSuspected,
		api.HostSuspectedEvent{
			Wait: &api.HostWait{Host: "10.0.0.2", FirstSeen: now},
		})

	st = applyWatch(t, st, api.EventTypeRemediationSubmitted,
		api.RemediationSubmittedEvent{
			ClusterID: "c-1",
			Hosts:     []api.Host{"10.0.0.1"},
			At:        now,
		})

	_, submitted := st.Submitted["c-1"]
	assert.True(t, submitted)
	assert.Nil(t, st.Waits["10.0.0.1"])
	assert.NotNil(t, st.Waits["10.0.0.2"])
}
