// Package events defines the aggregate keys and pure applier functions
// that fold engine events into flow, topology, engine, and watch state
package events

import (
	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
)

// MakeAppliers converts a map keyed by api.EventType into timebox appliers
func MakeAppliers[T any](
	app map[api.EventType]timebox.Applier[T],
) timebox.Appliers[T] {
	res := map[timebox.EventType]timebox.Applier[T]{}
	for et, fn := range app {
		res[timebox.EventType(et)] = fn
	}
	return res
}

// MakeDispatcher converts a map keyed by api.EventType into a timebox
// event dispatcher
func MakeDispatcher(
	handlers map[api.EventType]timebox.Handler,
) timebox.Handler {
	res := map[timebox.EventType]timebox.Handler{}
	for et, fn := range handlers {
		res[timebox.EventType(et)] = fn
	}
	return timebox.MakeDispatcher(res)
}

// Raise raises an event through the aggregator
func Raise[T, E any](
	ag *timebox.Aggregator[T], eventType api.EventType, event E,
) error {
	return timebox.Raise(ag, timebox.EventType(eventType), event)
}
