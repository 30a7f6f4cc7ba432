package dispatch

import (
	"context"
	"time"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/transport"
)

// cancellationBranch implements §4.4.5: the stage outcome is Cancelled,
// with offline nodes short-circuited immediately and online nodes given
// a 15s window before being force-cancelled.
func (d *Dispatcher) cancellationBranch(ctx context.Context, state *execState) Result {
	background := context.Background()

	for _, t := range state.na.Tasks {
		if t.Status.Terminal() {
			continue
		}
		ns, known := d.health.GetCachedState(t.NodeName)
		if known && ns.IsDownForTask() {
			d.setTerminal(t, masteraction.TaskCancelled, "node unreachable at cancellation, short-circuited")
			continue
		}
		t.Status = masteraction.TaskCancelling
		t.LastUpdateTime = time.Now().UTC()
		d.sender.SendCancelTask(background, t.NodeName, transport.CancelTask{
			NodeActionID: state.na.ID,
			TaskID:       t.TaskID,
			Reason:       "MasterAction cancellation requested",
		})
	}
	d.recalculate(background, state)

	deadline := time.NewTimer(cancelWindow)
	defer deadline.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

waitLoop:
	for {
		if d.cancellationQuiesced(state) {
			break waitLoop
		}
		select {
		case <-deadline.C:
			break waitLoop
		case <-poll.C:
		}
	}

	forced := false
	for _, t := range state.na.Tasks {
		if t.Status == masteraction.TaskCancelling {
			d.setTerminal(t, masteraction.TaskCancelled, "cancellation window elapsed before node confirmed, forcibly cancelled")
			forced = true
		}
	}
	if forced {
		d.recalculate(background, state)
	}

	return Result{IsSuccess: false, FinalState: masteraction.StatusCancelled}
}

// cancellationQuiesced reports whether the monitor loop may exit early:
// no task remains Cancelling, or every still-Cancelling task is on an
// Offline/Unreachable node.
func (d *Dispatcher) cancellationQuiesced(state *execState) bool {
	for _, t := range state.na.Tasks {
		if t.Status != masteraction.TaskCancelling {
			continue
		}
		ns, known := d.health.GetCachedState(t.NodeName)
		if !known || !ns.IsDownForTask() {
			return false
		}
	}
	return true
}
