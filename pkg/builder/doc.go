// Package builder provides an API for composing flow plans
//
// Plans are assembled from activities, parallel groups, nested pipelines,
// and pause gates. Builders are immutable; every With* call returns a new
// builder, and Build produces a validated plan the runtime can schedule
package builder
