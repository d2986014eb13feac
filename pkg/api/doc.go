// Package api defines the core data types shared across the orchestration
// engine
//
// This package contains the topology entities, flow graph definitions, flow
// and node execution state, events, error classifications, and HTTP messages
package api
