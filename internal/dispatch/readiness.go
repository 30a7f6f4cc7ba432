package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/transport"
)

// readinessPhase implements §4.4.2: send PrepareForTask for every task
// and set it to ReadinessCheckSent. The reply is delivered later via
// HandleReadinessReport.
func (d *Dispatcher) readinessPhase(ctx context.Context, state *execState) {
	for _, t := range state.na.Tasks {
		t.Status = masteraction.TaskReadinessCheckSent
		t.LastUpdateTime = time.Now().UTC()
		d.sender.SendPrepareForTask(ctx, t.NodeName, transport.PrepareForTask{
			NodeActionID:              state.na.ID,
			TaskID:                    t.TaskID,
			ExpectedTaskType:          t.TaskType,
			PreparationParametersJSON: t.Payload,
			TargetResource:            t.TargetResource,
		})
	}
	d.recalculate(ctx, state)
}

// HandleReadinessReport processes a slave's ReadinessReport for one
// task. Re-entrance on an already-terminal task is ignored.
func (d *Dispatcher) HandleReadinessReport(ctx context.Context, report transport.ReadinessReport) {
	nodeActionID, ok := d.nodeActionForTask(report.TaskID)
	if !ok {
		return
	}
	state, ok := d.stateFor(nodeActionID)
	if !ok {
		return
	}
	task := state.na.Task(report.TaskID)
	if task == nil || task.Status.Terminal() {
		return
	}

	if !report.IsReady {
		d.setTerminal(task, masteraction.TaskNotReadyForTask, report.ReasonIfNotReady)
		d.recalculate(ctx, state)
		return
	}

	task.Status = masteraction.TaskReadyToExecute
	now := time.Now().UTC()
	task.StartTime = &now
	task.Status = masteraction.TaskDispatched
	task.LastUpdateTime = now

	d.sender.SendSlaveTask(ctx, task.NodeName, transport.SlaveTask{
		NodeActionID:   state.na.ID,
		TaskID:         task.TaskID,
		TaskType:       task.TaskType,
		ParametersJSON: task.Payload,
		TimeoutSeconds: task.TimeoutSeconds,
	})
	d.armExecutionTimeout(ctx, state, task)
	d.recalculate(ctx, state)
}

// runReadinessTimeout implements §4.4.6: after 30s, any task still in
// ReadinessCheckSent is terminal ReadinessCheckTimedOut.
func (d *Dispatcher) runReadinessTimeout(ctx context.Context, state *execState) {
	timer := time.NewTimer(readinessTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-state.logDone:
		return
	case <-timer.C:
	}
	changed := false
	for _, t := range state.na.Tasks {
		if t.Status == masteraction.TaskReadinessCheckSent {
			d.setTerminal(t, masteraction.TaskReadinessCheckTimedOut, "readiness check timed out after 30s")
			changed = true
		}
	}
	if changed {
		d.recalculate(ctx, state)
	}
}

func decodeResultJSON(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"DeserializationError": err.Error()}
	}
	return m
}
