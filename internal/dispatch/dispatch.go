// Package dispatch implements the NodeActionDispatcher (C4): executes
// one multi-node stage through readiness, execution, cancellation, and
// an end-of-stage log-flush barrier, with embedded per-task timeout and
// health-fail handling.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/masterctl/internal/ambient"
	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/journal"
	"github.com/yungbote/masterctl/internal/observability"
	"github.com/yungbote/masterctl/internal/platform/logger"
	"github.com/yungbote/masterctl/internal/transport"
)

var tracer = observability.Tracer("dispatch")

const (
	healthWatchInterval = 15 * time.Second
	readinessTimeout    = 30 * time.Second
	flushBarrierTimeout = 30 * time.Second
)

// cancelWindow is the §4.4.5 force-cancel grace period; a var (not a
// const) so tests can shrink it rather than waiting out the real 15s.
var cancelWindow = 15 * time.Second

// Journal is the narrow slice of the Journal contract the Dispatcher uses.
type Journal interface {
	MapNodeActionToStage(ctx context.Context, actionID string, stageIndex int, stageName, nodeActionID string) error
	AppendSlaveLogToStage(ctx context.Context, actionID string, entry journal.LogRecord) error
	RecordNodeTaskResult(ctx context.Context, actionID string, stageIndex int, stageName string, task *masteraction.NodeTask) error
}

// HealthSource is the read-only health-cache accessor the Dispatcher
// consults for health-fail and cancellation short-circuiting.
type HealthSource interface {
	GetCachedState(nodeName string) (masteraction.NodeState, bool)
}

// AgentSender is the subset of AgentRegistry's send primitives the
// Dispatcher drives.
type AgentSender interface {
	SendPrepareForTask(ctx context.Context, node string, msg transport.PrepareForTask)
	SendSlaveTask(ctx context.Context, node string, msg transport.SlaveTask)
	SendCancelTask(ctx context.Context, node string, msg transport.CancelTask)
	SendLogFlushRequest(ctx context.Context, node string, msg transport.RequestLogFlushForTask)
}

// ProgressFunc reports the stage's recomputed aggregate after every
// NodeTask mutation, before the next suspension point.
type ProgressFunc func(progressPercent int, status masteraction.MasterActionStatus)

// Result is the outcome of one Execute call.
type Result struct {
	IsSuccess  bool
	FinalState masteraction.MasterActionStatus
}

type execState struct {
	na         *masteraction.NodeAction
	actionID   string
	stageIndex int
	stageName  string
	progress   ProgressFunc

	completionOnce sync.Once
	completionCh   chan Result

	flushMu      sync.Mutex
	flushedNodes map[string]struct{}

	logCh   chan journal.LogRecord
	logDone chan struct{}

	healthCancel context.CancelFunc
}

type Dispatcher struct {
	log     *logger.Logger
	journal Journal
	health  HealthSource
	sender  AgentSender

	mu         sync.Mutex
	active     map[string]*execState // nodeActionID -> state
	taskOwner  map[string]string     // taskID -> nodeActionID
}

func New(log *logger.Logger, j Journal, h HealthSource, sender AgentSender) *Dispatcher {
	return &Dispatcher{
		log:       log.With("component", "NodeActionDispatcher"),
		journal:   j,
		health:    h,
		sender:    sender,
		active:    make(map[string]*execState),
		taskOwner: make(map[string]string),
	}
}

// Execute runs one multi-node stage to completion: readiness, dispatch,
// progress aggregation, terminal status, and the end-of-stage flush
// barrier. ctx's cancellation drives the cancellation branch (§4.4.5).
func (d *Dispatcher) Execute(ctx context.Context, actionID string, stageIndex int, stageName string, na *masteraction.NodeAction, progress ProgressFunc) (Result, error) {
	ctx = ambient.WithStage(ambient.WithMasterAction(ctx, actionID), stageIndex, stageName)
	ctx, span := tracer.Start(ctx, "Dispatcher.Execute")
	defer span.End()

	state := d.setup(ctx, actionID, stageIndex, stageName, na, progress)
	defer d.teardown(na.ID)

	d.readinessPhase(ctx, state)

	select {
	case res := <-state.completionCh:
		d.flushBarrier(ctx, state)
		return res, nil
	case <-ctx.Done():
		res := d.cancellationBranch(ctx, state)
		d.flushBarrier(ctx, state)
		return res, nil
	}
}

// setup implements §4.4.1: register the active context, map every task
// id to this nodeAction, and start the background watches.
func (d *Dispatcher) setup(ctx context.Context, actionID string, stageIndex int, stageName string, na *masteraction.NodeAction, progress ProgressFunc) *execState {
	healthCtx, healthCancel := context.WithCancel(context.Background())

	state := &execState{
		na:           na,
		actionID:     actionID,
		stageIndex:   stageIndex,
		stageName:    stageName,
		progress:     progress,
		completionCh: make(chan Result, 1),
		flushedNodes: make(map[string]struct{}),
		logCh:        make(chan journal.LogRecord, 1024),
		logDone:      make(chan struct{}),
		healthCancel: healthCancel,
	}

	d.mu.Lock()
	d.active[na.ID] = state
	for _, t := range na.Tasks {
		d.taskOwner[t.TaskID] = na.ID
	}
	d.mu.Unlock()

	if err := d.journal.MapNodeActionToStage(ctx, actionID, stageIndex, stageName, na.ID); err != nil {
		d.log.Error("failed to map nodeAction to stage", "error", err, "master_action_id", actionID, "node_action_id", na.ID)
	}

	go d.runLogConsumer(state)
	go d.runHealthWatch(healthCtx, state)
	go d.runReadinessTimeout(ctx, state)

	d.recalculate(ctx, state)
	return state
}

// teardown implements §4.4.9.
func (d *Dispatcher) teardown(nodeActionID string) {
	d.mu.Lock()
	state, ok := d.active[nodeActionID]
	if ok {
		for _, t := range state.na.Tasks {
			delete(d.taskOwner, t.TaskID)
		}
		delete(d.active, nodeActionID)
	}
	d.mu.Unlock()
	if ok {
		state.healthCancel()
	}
}

func (d *Dispatcher) stateFor(nodeActionID string) (*execState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.active[nodeActionID]
	return s, ok
}

func (d *Dispatcher) nodeActionForTask(taskID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.taskOwner[taskID]
	return id, ok
}

// IngestLog hands a slave log line to this stage's single-reader
// channel. Called by whatever receives inbound transport messages.
func (d *Dispatcher) IngestLog(nodeActionID string, entry journal.LogRecord) {
	state, ok := d.stateFor(nodeActionID)
	if !ok {
		return
	}
	select {
	case state.logCh <- entry:
	case <-state.logDone:
	}
}
