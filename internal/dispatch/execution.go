package dispatch

import (
	"context"
	"time"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/transport"
)

// HandleTaskProgress processes a slave's TaskProgressUpdate, updating
// the NodeTask in place and, on terminal transition, recording the
// result and recomputing the aggregate (§4.4.3).
func (d *Dispatcher) HandleTaskProgress(ctx context.Context, update transport.TaskProgressUpdate) {
	state, ok := d.stateFor(update.NodeActionID)
	if !ok {
		return
	}
	task := state.na.Task(update.TaskID)
	if task == nil || task.Status.Terminal() {
		return
	}

	status := masteraction.NodeTaskStatus(update.Status)
	task.Status = status
	task.LastUpdateTime = time.Now().UTC()
	if update.Message != "" {
		task.StatusMessage = update.Message
	}
	if update.ProgressPercent != nil {
		task.ProgressPercent = *update.ProgressPercent
		task.ClampProgress()
	}

	if status.Terminal() {
		now := time.Now().UTC()
		task.EndTime = &now
		task.Result = decodeResultJSON(update.ResultJSON)
		if err := d.journal.RecordNodeTaskResult(ctx, state.actionID, state.stageIndex, state.stageName, task); err != nil {
			d.log.Error("failed to record node task result", "error", err, "master_action_id", state.actionID, "task_id", task.TaskID)
		}
	}

	d.recalculate(ctx, state)
}

func (d *Dispatcher) setTerminal(task *masteraction.NodeTask, status masteraction.NodeTaskStatus, message string) {
	if task.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	task.Status = status
	task.StatusMessage = message
	task.EndTime = &now
	task.LastUpdateTime = now
}

// recalculate implements §4.4.4, the aggregate status algorithm. It
// must run after every NodeTask mutation and before progress is
// reported, so readers never see progress inconsistent with status.
func (d *Dispatcher) recalculate(ctx context.Context, state *execState) {
	tasks := state.na.Tasks
	if len(tasks) == 0 {
		d.complete(state, masteraction.StatusSucceeded)
		return
	}

	allTerminal := true
	anyCancelling := false
	anyCancelled := false
	anyFailed := false
	anySucceededWithIssues := false
	sumProgress := 0
	nonTerminalCount := 0

	for _, t := range tasks {
		if t.Status.Terminal() {
			switch t.Status {
			case masteraction.TaskCancelled, masteraction.TaskCancellationFailed:
				anyCancelled = true
			case masteraction.TaskSucceededWithIssues:
				anySucceededWithIssues = true
			case masteraction.TaskSucceeded:
				// no-op
			default:
				anyFailed = true
			}
		} else {
			allTerminal = false
			nonTerminalCount++
			sumProgress += t.ProgressPercent
			if t.Status == masteraction.TaskCancelling {
				anyCancelling = true
			}
		}
	}

	progressPercent := 100
	if nonTerminalCount > 0 {
		progressPercent = sumProgress / nonTerminalCount
	}

	var status masteraction.MasterActionStatus
	switch {
	case allTerminal && anyCancelled:
		status = masteraction.StatusCancelled
	case allTerminal && anyFailed:
		status = masteraction.StatusFailed
	case allTerminal && anySucceededWithIssues:
		status = masteraction.StatusSucceededWithErrors
	case allTerminal:
		status = masteraction.StatusSucceeded
	case anyCancelling:
		status = masteraction.StatusCancelling
	default:
		status = masteraction.StatusInProgress
	}

	if state.progress != nil {
		state.progress(progressPercent, status)
	}

	if allTerminal {
		d.complete(state, status)
	}
}

func (d *Dispatcher) complete(state *execState, status masteraction.MasterActionStatus) {
	state.completionOnce.Do(func() {
		isSuccess := status == masteraction.StatusSucceeded || status == masteraction.StatusSucceededWithErrors
		state.completionCh <- Result{IsSuccess: isSuccess, FinalState: status}
	})
}

// armExecutionTimeout implements §4.4.7: when the per-task timer fires
// and the task is still non-terminal, set terminal TimedOut.
func (d *Dispatcher) armExecutionTimeout(ctx context.Context, state *execState, task *masteraction.NodeTask) {
	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		return
	}
	go func(taskID string) {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-state.logDone:
			return
		case <-timer.C:
		}
		t := state.na.Task(taskID)
		if t == nil || t.Status.Terminal() {
			return
		}
		d.setTerminal(t, masteraction.TaskTimedOut, "execution timed out")
		d.recalculate(ctx, state)
	}(task.TaskID)
}

// runHealthWatch implements the health-fail half of §4.4.1: every 15s,
// walk the non-terminal tasks and fail any whose node is
// Offline/Unreachable.
func (d *Dispatcher) runHealthWatch(ctx context.Context, state *execState) {
	ticker := time.NewTicker(healthWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.failOfflineTasks(ctx, state)
		}
	}
}

func (d *Dispatcher) failOfflineTasks(ctx context.Context, state *execState) {
	changed := false
	for _, t := range state.na.Tasks {
		if t.Status.Terminal() {
			continue
		}
		ns, ok := d.health.GetCachedState(t.NodeName)
		if ok && ns.IsDownForTask() {
			d.setTerminal(t, masteraction.TaskNodeOfflineDuringTask, "node went offline during task execution")
			changed = true
		}
	}
	if changed {
		d.recalculate(ctx, state)
	}
}

// runLogConsumer is the stage's single reader: it drains state.logCh and
// hands each entry to Journal.AppendSlaveLogToStage, preserving order.
func (d *Dispatcher) runLogConsumer(state *execState) {
	defer close(state.logDone)
	for entry := range state.logCh {
		if err := d.journal.AppendSlaveLogToStage(context.Background(), state.actionID, entry); err != nil {
			d.log.Warn("failed to append slave log", "error", err, "master_action_id", state.actionID)
		}
	}
}
