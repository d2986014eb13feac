package events

import "github.com/kode4food/timebox"

// EventFilter reports whether an event matches a subscription
type EventFilter func(*timebox.Event) bool

// FilterEvents matches events of any of the given types
func FilterEvents(eventTypes ...timebox.EventType) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, et := range eventTypes {
			if ev.Type == et {
				return true
			}
		}
		return false
	}
}

// FilterAggregate matches events belonging to the given aggregate
func FilterAggregate(id timebox.AggregateID) EventFilter {
	return func(ev *timebox.Event) bool {
		if len(ev.AggregateID) != len(id) {
			return false
		}
		for i, p := range id {
			if ev.AggregateID[i] != p {
				return false
			}
		}
		return true
	}
}

// AndFilters matches events that satisfy every given filter
func AndFilters(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, f := range filters {
			if !f(ev) {
				return false
			}
		}
		return true
	}
}
