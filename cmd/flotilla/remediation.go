package main

import (
	"fmt"
	"strings"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/builder"
)

// Scripts the remediation plan dispatches to the fleet's job service
const (
	fenceScript   = "fence_host.sh"
	restoreScript = "restore_host.sh"
	verifyScript  = "verify_cluster.sh"
)

// remediationPlan builds the flow the watcher submits for one cluster's
// confirmed hosts: fence and restore each host concurrently, then verify
// the cluster from the first recovered host. Host branches are best
// effort so a fencing failure on one host never blocks the others
func remediationPlan(
	cluster api.ClusterID, hosts []api.Host,
) (*api.Plan, api.Args, error) {
	if len(hosts) == 0 {
		return nil, nil, fmt.Errorf("no hosts to remediate for %s", cluster)
	}

	group := builder.NewParallel("hosts").BestEffort()
	for _, h := range hosts {
		id := api.NodeID(hostNodeID(h))
		group = group.WithBranch(builder.NewPipeline(id).
			Then(builder.Remote("fence", fenceScript).
				OnHost(api.Literal(string(h))).
				WithParam("cluster", api.FromOutput(
					api.InitNodeID, "cluster",
				))).
			Then(builder.Remote("restore", restoreScript).
				OnHost(api.Literal(string(h))).
				WithParam("cluster", api.FromOutput(
					api.InitNodeID, "cluster",
				))))
	}

	pipeline := builder.NewPipeline(api.NodeID("remediate-"+string(cluster))).
		Then(group).
		Then(builder.Remote("verify", verifyScript).
			OnHost(api.Literal(string(hosts[0]))).
			WithParam("cluster", api.FromOutput(api.InitNodeID, "cluster")))

	plan, err := pipeline.Build()
	if err != nil {
		return nil, nil, err
	}

	init := api.Args{"cluster": string(cluster)}
	return plan, init, nil
}

// hostNodeID derives a branch node ID from a host address
func hostNodeID(h api.Host) string {
	return "host-" + strings.NewReplacer(".", "-", ":", "-").
		Replace(string(h))
}
