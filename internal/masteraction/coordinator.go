// Package masteraction implements the MasterActionCoordinator (C5):
// singleton admission, handler resolution, per-action ambient context,
// stage sequencing via *Context, and terminal journaling.
package masteraction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/masterctl/internal/ambient"
	domain "github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/dispatch"
	"github.com/yungbote/masterctl/internal/logforward"
	"github.com/yungbote/masterctl/internal/observability"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

var tracer = observability.Tracer("masteraction")

// FullJournal is the complete Journal slice the Coordinator needs:
// action-level bookkeeping (via Journal) plus archived-action lookup and
// the Change Journal pair used to record initiation.
type FullJournal interface {
	Journal
	RecordActionInitiated(ctx context.Context, action *domain.MasterAction) error
	RecordActionCompleted(ctx context.Context, action *domain.MasterAction) error
	GetArchivedAction(ctx context.Context, id string) (*domain.MasterAction, error)
	InitiateStateChange(ctx context.Context, info domain.StateChangeInfo) (string, string, error)
	FinalizeStateChange(ctx context.Context, outcome domain.StateChangeOutcome) error
	ClearMappings(actionID string)
}

// InitiateRequest is the decoded body of POST /operations (spec §6).
type InitiateRequest struct {
	OperationType domain.OperationType
	Name          string
	Description   string
	Parameters    map[string]interface{}
}

type runningAction struct {
	action *domain.MasterAction
	cancel context.CancelFunc
	done   chan struct{}
}

// StatusView is what GetStatus returns (spec §4.5).
type StatusView struct {
	Action    domain.MasterAction
	NodeTasks []domain.NodeTask
}

type Coordinator struct {
	log       *logger.Logger
	journal   FullJournal
	dispatcher *dispatch.Dispatcher
	forwarder *logforward.Forwarder
	registry  *Registry

	admission chan struct{} // buffered(1): process-wide single-slot gate

	mu     sync.RWMutex
	active *runningAction
}

func NewCoordinator(log *logger.Logger, j FullJournal, d *dispatch.Dispatcher, fwd *logforward.Forwarder, reg *Registry) *Coordinator {
	return &Coordinator{
		log:        log.With("component", "MasterActionCoordinator"),
		journal:    j,
		dispatcher: d,
		forwarder:  fwd,
		registry:   reg,
		admission:  make(chan struct{}, 1),
	}
}

// Initiate implements §4.5 admission + handler resolution + detached
// execution. It returns as soon as the action is admitted; the handler
// runs in a detached goroutine.
func (c *Coordinator) Initiate(ctx context.Context, req InitiateRequest, initiator string) (*domain.MasterAction, error) {
	handler, ok := c.registry.Get(req.OperationType)
	if !ok {
		return nil, ErrUnsupportedOperation
	}

	select {
	case c.admission <- struct{}{}:
	default:
		return nil, ErrAnotherInProgress
	}

	action := domain.New("ma-"+uuid.NewString(), req.OperationType, req.Name, req.Description, initiator, req.Parameters)
	action.SetStatus(domain.StatusInProgress)

	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = ambient.WithMasterAction(runCtx, action.ID)

	run := &runningAction{action: action, cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.active = run
	c.mu.Unlock()

	if err := c.journal.RecordActionInitiated(ctx, action); err != nil {
		c.log.Error("failed to record action initiation", "error", err, "master_action_id", action.ID)
	}
	changeID, _, _ := c.journal.InitiateStateChange(ctx, domain.StateChangeInfo{
		EventType:            string(req.OperationType),
		SourceMasterActionID: action.ID,
		Initiator:            initiator,
		Description:          fmt.Sprintf("%s initiated", req.OperationType),
	})

	go c.runHandler(runCtx, run, handler, changeID)

	return action, nil
}

func (c *Coordinator) runHandler(ctx context.Context, run *runningAction, handler Handler, changeID string) {
	action := run.action
	hctx := newContext(ctx, action, c.log, c.journal, c.dispatcher, c.forwarder)

	defer func() {
		if r := recover(); r != nil {
			hctx.Fail(fmt.Errorf("handler panicked: %v", r))
		}
		c.finish(ctx, run, changeID)
	}()

	err := handler.Run(hctx)
	switch {
	case ctx.Err() != nil:
		action.SetStatus(domain.StatusCancelled)
	case err != nil:
		hctx.Fail(err)
	default:
		if !action.GetStatus().Terminal() {
			hctx.Succeed(action.Result, false)
		}
	}
}

// finish implements the Coordinator's finally block: flush logs, record
// terminal state, release the admission slot.
func (c *Coordinator) finish(ctx context.Context, run *runningAction, changeID string) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if c.forwarder != nil {
		if err := c.forwarder.Flush(flushCtx); err != nil {
			c.log.Warn("log forwarder flush did not complete cleanly", "error", err, "master_action_id", run.action.ID)
		}
	}

	if err := c.journal.RecordActionCompleted(context.Background(), run.action); err != nil {
		c.log.Error("failed to record action completion", "error", err, "master_action_id", run.action.ID)
	}
	c.journal.ClearMappings(run.action.ID)

	outcome := domain.OutcomeSuccess
	if run.action.GetStatus() == domain.StatusFailed || run.action.GetStatus() == domain.StatusCancelled {
		outcome = domain.OutcomeFailure
	}
	if changeID != "" {
		_ = c.journal.FinalizeStateChange(context.Background(), domain.StateChangeOutcome{ChangeID: changeID, Outcome: outcome})
	}

	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
	close(run.done)

	<-c.admission
}

// GetStatus implements §4.5: for the live action, project it (with the
// active/most-recent stage's node tasks); for archived actions, load
// from the Journal.
func (c *Coordinator) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	c.mu.RLock()
	run := c.active
	c.mu.RUnlock()

	if run != nil && run.action.ID == id {
		snap := run.action.Snapshot()
		return projectStatus(&snap), nil
	}

	archived, err := c.journal.GetArchivedAction(ctx, id)
	if err != nil {
		return nil, err
	}
	if archived == nil {
		return nil, nil
	}
	return projectStatus(archived), nil
}

func projectStatus(action *domain.MasterAction) *StatusView {
	view := &StatusView{Action: *action}
	var stage *domain.Stage
	if action.ActiveStage != nil {
		stage = action.ActiveStage
	} else if len(action.Stages) > 0 {
		stage = action.Stages[len(action.Stages)-1]
	}
	if stage != nil && len(stage.NodeTasks) > 0 {
		for _, t := range stage.NodeTasks {
			view.NodeTasks = append(view.NodeTasks, *t)
		}
		return view
	}
	if action.Result != nil {
		view.NodeTasks = []domain.NodeTask{{
			TaskID:   "_master",
			NodeName: "_master",
			Status:   domain.TaskSucceeded,
			Result:   action.Result,
		}}
	}
	return view
}

// RequestCancel implements §4.5 cancellation resolution.
func (c *Coordinator) RequestCancel(ctx context.Context, id, by string) (CancelStatus, error) {
	c.mu.RLock()
	run := c.active
	c.mu.RUnlock()

	if run == nil || run.action.ID != id {
		archived, err := c.journal.GetArchivedAction(ctx, id)
		if err != nil {
			return "", err
		}
		if archived != nil {
			return CancelAlreadyCompleted, nil
		}
		return CancelNotFound, nil
	}

	if run.action.GetStatus().Terminal() {
		return CancelAlreadyCompleted, nil
	}

	run.action.SetStatus(domain.StatusCancelling)
	run.cancel()
	return CancelPending, nil
}
