package masteraction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/masterctl/internal/ambient"
	domain "github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/dispatch"
	"github.com/yungbote/masterctl/internal/logforward"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

// Journal is the narrow slice of the Journal contract a handler context
// needs directly (stage bookkeeping); the Dispatcher and LogForwarder
// hold their own narrower slices.
type Journal interface {
	RecordStageInitiated(ctx context.Context, actionID string, index int, name string, input json.RawMessage) error
	RecordStageCompleted(ctx context.Context, actionID string, index int, name string, result map[string]interface{}) error
	RecordMasterActionResult(ctx context.Context, actionID string, payload map[string]interface{}) error
}

// Context is the capability-scoped execution handle a Handler receives.
// It is the only sanctioned way for handler code to run a stage, report
// progress, log, or terminate the run.
type Context struct {
	Ctx    context.Context
	Action *domain.MasterAction
	Log    *logger.Logger

	journal    Journal
	dispatcher *dispatch.Dispatcher
	forwarder  *logforward.Forwarder

	nextStageIndex int
}

func newContext(ctx context.Context, action *domain.MasterAction, log *logger.Logger, j Journal, d *dispatch.Dispatcher, fwd *logforward.Forwarder) *Context {
	return &Context{
		Ctx:        ambient.WithMasterAction(ctx, action.ID),
		Action:     action,
		Log:        log.With("master_action_id", action.ID),
		journal:    j,
		dispatcher: d,
		forwarder:  fwd,
	}
}

// Logf forwards a log line through the LogForwarder, tagged with this
// context's ambient MasterActionId/Stage.
func (c *Context) Logf(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.Action.AppendLog(msg)
	if c.forwarder != nil {
		c.forwarder.Log(c.Ctx, level, msg)
	}
}

// RunStage executes one stage of the workflow: it allocates the next
// dense stage index, appends the Stage to the MasterAction before it
// runs, journals initiation, runs the Dispatcher, and records the result.
func (c *Context) RunStage(name string, input json.RawMessage, na *domain.NodeAction) (dispatch.Result, error) {
	index := c.nextStageIndex
	c.nextStageIndex++

	now := time.Now().UTC()
	stage := &domain.Stage{
		Index:      index,
		Name:       name,
		StartTime:  &now,
		Input:      input,
		NodeTasks:  na.Tasks,
		NodeAction: na,
	}
	c.Action.PushStage(stage)

	stageCtx := ambient.WithStage(c.Ctx, index, name)
	if err := c.journal.RecordStageInitiated(stageCtx, c.Action.ID, index, name, input); err != nil {
		c.Log.Error("failed to record stage initiation", "error", err, "stage_name", name)
	}

	progress := func(pct int, status domain.MasterActionStatus) {
		c.Action.SetProgress(pct)
		if status == domain.StatusCancelling {
			c.Action.SetStatus(domain.StatusCancelling)
		}
	}

	result, err := c.dispatcher.Execute(stageCtx, c.Action.ID, index, name, na, progress)

	end := time.Now().UTC()
	stage.EndTime = &end
	stage.Success = result.IsSuccess
	stage.Result = map[string]interface{}{"finalState": string(result.FinalState)}

	if jerr := c.journal.RecordStageCompleted(stageCtx, c.Action.ID, index, name, stage.Result); jerr != nil {
		c.Log.Error("failed to record stage completion", "error", jerr, "stage_name", name)
	}
	c.Action.FinishActiveStage()

	return result, err
}

// Succeed finalizes the MasterAction as Succeeded (or
// SucceededWithErrors if errorsPresent) with the given result payload.
func (c *Context) Succeed(result map[string]interface{}, errorsPresent bool) {
	status := domain.StatusSucceeded
	if errorsPresent {
		status = domain.StatusSucceededWithErrors
	}
	c.Action.SetResult(result)
	c.Action.SetStatus(status)
	if c.journal != nil {
		if err := c.journal.RecordMasterActionResult(c.Ctx, c.Action.ID, result); err != nil {
			c.Log.Error("failed to record master action result", "error", err)
		}
	}
}

// Fail finalizes the MasterAction as Failed with err's message recorded
// in the recent-logs ring buffer.
func (c *Context) Fail(err error) {
	if err == nil {
		return
	}
	c.Logf("ERROR", "workflow failed: %s", err.Error())
	c.Action.SetStatus(domain.StatusFailed)
}
