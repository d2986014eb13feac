package watcher

import (
	"slices"
	"time"

	"github.com/coastline-io/flotilla/internal/config"
	"github.com/coastline-io/flotilla/pkg/api"
)

type (
	// Remediation is one cluster-scoped remediation the watcher should
	// originate this cycle
	Remediation struct {
		ClusterID api.ClusterID
		Hosts     []api.Host
	}

	// Actions is the output of one poll cycle's fold: what to record and
	// what to originate. The fold itself performs no I/O
	Actions struct {
		Watermark int64
		Suspect   []*api.HostWait
		Resolve   []api.Host
		Remediate []Remediation
	}
)

// advance folds one batch of health signals into the watch state's next
// actions. Only the highest-id signal per host matters: a recovery signal
// releases the host immediately, an unhealthy one starts or refreshes its
// wait. The watermark moves to the highest signal seen but never past a
// signal belonging to an unresolved host, so a restarted watcher re-reads
// everything still in question
func advance(
	st *api.WatchState, topo *api.TopologyState,
	signals []*api.HealthSignal, busy map[api.ClusterID]bool,
	now time.Time, cfg *config.WatchConfig,
) Actions {
	latest := map[api.Host]*api.HealthSignal{}
	maxID := st.Watermark
	for _, sig := range signals {
		if sig.ID > maxID {
			maxID = sig.ID
		}
		if cur, ok := latest[sig.Host]; !ok || sig.ID > cur.ID {
			latest[sig.Host] = sig
		}
	}

	res := Actions{}
	waits := map[api.Host]*api.HostWait{}
	for host, w := range st.Waits {
		waits[host] = w
	}

	for host, sig := range latest {
		if sig.Healthy {
			if _, ok := waits[host]; ok {
				delete(waits, host)
				res.Resolve = append(res.Resolve, host)
			}
			continue
		}
		w, ok := waits[host]
		if !ok {
			w = &api.HostWait{Host: host, FirstSeen: sig.Timestamp}
		}
		next := *w
		if sig.ID > next.LastID {
			next.LastID = sig.ID
		}
		waits[host] = &next
	}

	// Every unresolved wait ages one cycle; silence from a suspect host
	// is not recovery
	for host, w := range waits {
		next := *w
		next.Cycles++
		waits[host] = &next
		res.Suspect = append(res.Suspect, &next)
	}
	slices.SortFunc(res.Suspect, func(a, b *api.HostWait) int {
		return cmpString(a.Host, b.Host)
	})
	slices.Sort(res.Resolve)

	res.Remediate = confirmRemediations(st, topo, waits, busy, now, cfg)
	res.Watermark = holdWatermark(st.Watermark, maxID, waits, cfg)
	return res
}

// confirmRemediations groups confirmed hosts by owning cluster and gates
// each cluster on its cool-down window and outstanding remediation flows
func confirmRemediations(
	st *api.WatchState, topo *api.TopologyState,
	waits map[api.Host]*api.HostWait, busy map[api.ClusterID]bool,
	now time.Time, cfg *config.WatchConfig,
) []Remediation {
	grouped := map[api.ClusterID][]api.Host{}
	for host, w := range waits {
		if w.Cycles < cfg.ConfirmCycles {
			continue
		}
		for _, cid := range topo.ClustersOnHost(host) {
			grouped[cid] = append(grouped[cid], host)
		}
	}

	var res []Remediation
	for cid, hosts := range grouped {
		if busy[cid] {
			continue
		}
		if at, ok := st.Submitted[cid]; ok && now.Sub(at) < cfg.Cooldown {
			continue
		}
		slices.Sort(hosts)
		res = append(res, Remediation{ClusterID: cid, Hosts: hosts})
	}
	slices.SortFunc(res, func(a, b Remediation) int {
		return cmpString(a.ClusterID, b.ClusterID)
	})
	return res
}

// holdWatermark computes the next cursor: the highest signal seen, pulled
// back to just before the earliest signal of any unresolved host. A host
// stuck past the escalation bound stops holding the cursor back
func holdWatermark(
	current, maxID int64, waits map[api.Host]*api.HostWait,
	cfg *config.WatchConfig,
) int64 {
	candidate := maxID
	for _, w := range waits {
		if cfg.EscalationCycles > 0 && w.Cycles > cfg.EscalationCycles {
			continue
		}
		if w.LastID > 0 && w.LastID-1 < candidate {
			candidate = w.LastID - 1
		}
	}
	if candidate < current {
		return current
	}
	return candidate
}

func cmpString[T ~string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
