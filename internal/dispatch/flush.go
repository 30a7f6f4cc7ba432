package dispatch

import (
	"context"
	"time"

	"github.com/yungbote/masterctl/internal/transport"
)

// flushBarrier implements §4.4.8: request a log flush from every
// participating Online node, wait for confirmation (or 30s), then close
// the stage's log channel writer and await the consumer's drain. Only
// after the drain does Execute return its result, guaranteeing every
// log that preceded the terminal status reached the Journal
// (invariant 5).
func (d *Dispatcher) flushBarrier(ctx context.Context, state *execState) {
	background := context.Background()

	onlineNodes := map[string]struct{}{}
	seen := map[string]struct{}{}
	for _, t := range state.na.Tasks {
		if _, dup := seen[t.NodeName]; dup {
			continue
		}
		seen[t.NodeName] = struct{}{}
		if ns, ok := d.health.GetCachedState(t.NodeName); ok && ns.IsReachable() {
			onlineNodes[t.NodeName] = struct{}{}
			d.sender.SendLogFlushRequest(background, t.NodeName, transport.RequestLogFlushForTask{
				NodeActionID: state.na.ID,
			})
		}
	}

	if len(onlineNodes) > 0 {
		timer := time.NewTimer(flushBarrierTimeout)
		defer timer.Stop()
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
	waitConfirm:
		for {
			if d.flushConfirmedCount(state) >= len(onlineNodes) {
				break waitConfirm
			}
			select {
			case <-timer.C:
				break waitConfirm
			case <-ticker.C:
			}
		}
	}

	close(state.logCh)
	<-state.logDone
}

// ConfirmLogFlush records a node's confirmation that it has flushed all
// logs for nodeActionID.
func (d *Dispatcher) ConfirmLogFlush(nodeActionID, nodeName string) {
	state, ok := d.stateFor(nodeActionID)
	if !ok {
		return
	}
	state.flushMu.Lock()
	state.flushedNodes[nodeName] = struct{}{}
	state.flushMu.Unlock()
}

func (d *Dispatcher) flushConfirmedCount(state *execState) int {
	state.flushMu.Lock()
	defer state.flushMu.Unlock()
	return len(state.flushedNodes)
}
