// Package flotilla is the orchestration engine for a fleet of database
// clusters. It executes long, multi-step topology changes as flow graphs
// with checkpointing, retry, and remediation of failed hosts
package flotilla

const (
	// Name identifies the application in logs and metadata
	Name = "flotilla"

	// Version is the engine release version
	Version = "0.9.0"
)
