package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/journal"
	"github.com/yungbote/masterctl/internal/platform/logger"
	"github.com/yungbote/masterctl/internal/transport"
)

type fakeJournal struct {
	mu      sync.Mutex
	results []*masteraction.NodeTask
}

func (f *fakeJournal) MapNodeActionToStage(ctx context.Context, actionID string, stageIndex int, stageName, nodeActionID string) error {
	return nil
}
func (f *fakeJournal) AppendSlaveLogToStage(ctx context.Context, actionID string, entry journal.LogRecord) error {
	return nil
}
func (f *fakeJournal) RecordNodeTaskResult(ctx context.Context, actionID string, stageIndex int, stageName string, task *masteraction.NodeTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, task)
	return nil
}

type fakeHealth struct {
	mu     sync.Mutex
	states map[string]masteraction.NodeState
}

func newFakeHealth() *fakeHealth { return &fakeHealth{states: map[string]masteraction.NodeState{}} }

func (f *fakeHealth) set(node string, conn masteraction.Connectivity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[node] = masteraction.NodeState{NodeName: node, Connectivity: conn}
}

func (f *fakeHealth) GetCachedState(node string) (masteraction.NodeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[node]
	return s, ok
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) record(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, kind)
}
func (f *fakeSender) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}
func (f *fakeSender) SendPrepareForTask(ctx context.Context, node string, msg transport.PrepareForTask) {
	f.record("PrepareForTask")
}
func (f *fakeSender) SendSlaveTask(ctx context.Context, node string, msg transport.SlaveTask) {
	f.record("SlaveTask")
}
func (f *fakeSender) SendCancelTask(ctx context.Context, node string, msg transport.CancelTask) {
	f.record("CancelTask")
}
func (f *fakeSender) SendLogFlushRequest(ctx context.Context, node string, msg transport.RequestLogFlushForTask) {
	f.record("LogFlushRequest")
}

func newTestDispatcher(t *testing.T, j Journal, h HealthSource, s AgentSender) *Dispatcher {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return New(log, j, h, s)
}

func singleTaskNodeAction(id, node, taskID string) *masteraction.NodeAction {
	return &masteraction.NodeAction{
		ID: id,
		Tasks: []*masteraction.NodeTask{
			{TaskID: taskID, NodeName: node, TaskType: "RunScript"},
		},
	}
}

// TestHappyPathSingleTask drives one task through readiness, execution,
// terminal succeeded status, and the flush barrier, synchronously
// (bypassing Execute's ctx-select so the test has no timing dependency).
func TestHappyPathSingleTask(t *testing.T) {
	fj := &fakeJournal{}
	fh := newFakeHealth() // node unknown to health: flushBarrier won't wait
	fs := &fakeSender{}
	d := newTestDispatcher(t, fj, fh, fs)

	na := singleTaskNodeAction("na-1", "node-a", "task-1")
	ctx := context.Background()

	var lastPct int
	var lastStatus masteraction.MasterActionStatus
	progress := func(pct int, status masteraction.MasterActionStatus) {
		lastPct = pct
		lastStatus = status
	}

	state := d.setup(ctx, "ma-1", 0, "stage-0", na, progress)
	defer d.teardown(na.ID)

	d.readinessPhase(ctx, state)
	if lastStatus != masteraction.StatusInProgress {
		t.Fatalf("expected InProgress after readiness phase, got %s", lastStatus)
	}

	d.HandleReadinessReport(ctx, transport.ReadinessReport{TaskID: "task-1", IsReady: true})
	task := na.Task("task-1")
	if task.Status != masteraction.TaskDispatched {
		t.Fatalf("expected task Dispatched after readiness report, got %s", task.Status)
	}

	hundred := 100
	d.HandleTaskProgress(ctx, transport.TaskProgressUpdate{
		NodeActionID:    na.ID,
		TaskID:          "task-1",
		Status:          string(masteraction.TaskSucceeded),
		ProgressPercent: &hundred,
	})

	if task.Status != masteraction.TaskSucceeded {
		t.Fatalf("expected task Succeeded, got %s", task.Status)
	}
	if len(fj.results) != 1 {
		t.Fatalf("expected 1 recorded node task result, got %d", len(fj.results))
	}

	select {
	case res := <-state.completionCh:
		if !res.IsSuccess || res.FinalState != masteraction.StatusSucceeded {
			t.Fatalf("expected successful completion, got %+v", res)
		}
	default:
		t.Fatal("expected completion channel to be signalled")
	}

	d.flushBarrier(ctx, state)

	if lastPct != 100 {
		t.Errorf("expected final progress 100, got %d", lastPct)
	}

	sent := fs.Sent()
	if len(sent) != 2 || sent[0] != "PrepareForTask" || sent[1] != "SlaveTask" {
		t.Errorf("expected [PrepareForTask SlaveTask], got %v", sent)
	}
}

func TestRecalculateAggregateStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []masteraction.NodeTaskStatus
		want     masteraction.MasterActionStatus
	}{
		{"all succeeded", []masteraction.NodeTaskStatus{masteraction.TaskSucceeded, masteraction.TaskSucceeded}, masteraction.StatusSucceeded},
		{"one succeeded with issues", []masteraction.NodeTaskStatus{masteraction.TaskSucceeded, masteraction.TaskSucceededWithIssues}, masteraction.StatusSucceededWithErrors},
		{"one failed wins over issues", []masteraction.NodeTaskStatus{masteraction.TaskFailed, masteraction.TaskSucceededWithIssues}, masteraction.StatusFailed},
		{"one cancelled wins over failed", []masteraction.NodeTaskStatus{masteraction.TaskCancelled, masteraction.TaskFailed}, masteraction.StatusCancelled},
		{"one still cancelling", []masteraction.NodeTaskStatus{masteraction.TaskCancelling, masteraction.TaskSucceeded}, masteraction.StatusCancelling},
		{"one still in progress", []masteraction.NodeTaskStatus{masteraction.TaskInProgress, masteraction.TaskSucceeded}, masteraction.StatusInProgress},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fj := &fakeJournal{}
			fh := newFakeHealth()
			fs := &fakeSender{}
			d := newTestDispatcher(t, fj, fh, fs)

			var tasks []*masteraction.NodeTask
			for i, st := range tc.statuses {
				tasks = append(tasks, &masteraction.NodeTask{TaskID: "t", NodeName: "n", Status: st, ProgressPercent: 50 * i})
			}
			na := &masteraction.NodeAction{ID: "na-x", Tasks: tasks}

			var gotStatus masteraction.MasterActionStatus
			state := &execState{
				na:           na,
				actionID:     "ma-x",
				completionCh: make(chan Result, 1),
				flushedNodes: make(map[string]struct{}),
				logCh:        make(chan journal.LogRecord, 1),
				logDone:      make(chan struct{}),
				progress: func(pct int, status masteraction.MasterActionStatus) {
					gotStatus = status
				},
			}

			d.recalculate(context.Background(), state)

			if gotStatus != tc.want {
				t.Errorf("expected %s, got %s", tc.want, gotStatus)
			}
		})
	}
}

func TestSetTerminalIsIdempotent(t *testing.T) {
	fj := &fakeJournal{}
	fh := newFakeHealth()
	fs := &fakeSender{}
	d := newTestDispatcher(t, fj, fh, fs)

	task := &masteraction.NodeTask{TaskID: "t", NodeName: "n", Status: masteraction.TaskDispatched}
	d.setTerminal(task, masteraction.TaskFailed, "first failure")
	if task.Status != masteraction.TaskFailed || task.StatusMessage != "first failure" {
		t.Fatalf("expected Failed/first failure, got %s/%s", task.Status, task.StatusMessage)
	}

	d.setTerminal(task, masteraction.TaskSucceeded, "should not apply")
	if task.Status != masteraction.TaskFailed || task.StatusMessage != "first failure" {
		t.Errorf("expected terminal task to be immutable once set, got %s/%s", task.Status, task.StatusMessage)
	}
}

func TestCancellationBranchShortCircuitsOfflineNodes(t *testing.T) {
	fj := &fakeJournal{}
	fh := newFakeHealth()
	fh.set("node-a", masteraction.ConnOffline)
	fs := &fakeSender{}
	d := newTestDispatcher(t, fj, fh, fs)

	na := singleTaskNodeAction("na-2", "node-a", "task-1")
	na.Tasks[0].Status = masteraction.TaskDispatched

	state := &execState{
		na:           na,
		actionID:     "ma-2",
		completionCh: make(chan Result, 1),
		flushedNodes: make(map[string]struct{}),
		logCh:        make(chan journal.LogRecord, 1),
		logDone:      make(chan struct{}),
	}

	res := d.cancellationBranch(context.Background(), state)

	if res.FinalState != masteraction.StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", res.FinalState)
	}
	if na.Tasks[0].Status != masteraction.TaskCancelled {
		t.Fatalf("expected task short-circuited to Cancelled, got %s", na.Tasks[0].Status)
	}
	if len(fs.Sent()) != 0 {
		t.Errorf("expected no CancelTask sent to an already-offline node, got %v", fs.Sent())
	}
}

// TestCancellationBranchForcesCancelAfterWindowElapses drives a task
// that stays online and never confirms Cancelled through the full
// cancelWindow, asserting it is forcibly finalized as TaskCancelled
// (not TaskCancellationFailed) per spec.md §4.4.5(e). cancelWindow is
// shrunk for the duration of the test so it doesn't block on the real
// 15s window.
func TestCancellationBranchForcesCancelAfterWindowElapses(t *testing.T) {
	original := cancelWindow
	cancelWindow = 50 * time.Millisecond
	defer func() { cancelWindow = original }()

	fj := &fakeJournal{}
	fh := newFakeHealth()
	fh.set("node-a", masteraction.ConnOnline)
	fs := &fakeSender{}
	d := newTestDispatcher(t, fj, fh, fs)

	na := singleTaskNodeAction("na-5", "node-a", "task-1")
	na.Tasks[0].Status = masteraction.TaskDispatched

	state := &execState{
		na:           na,
		actionID:     "ma-5",
		completionCh: make(chan Result, 1),
		flushedNodes: make(map[string]struct{}),
		logCh:        make(chan journal.LogRecord, 1),
		logDone:      make(chan struct{}),
		progress:     func(int, masteraction.MasterActionStatus) {},
	}

	res := d.cancellationBranch(context.Background(), state)

	if res.FinalState != masteraction.StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", res.FinalState)
	}
	task := na.Tasks[0]
	if task.Status != masteraction.TaskCancelled {
		t.Fatalf("expected forced-timeout task to end Cancelled, got %s", task.Status)
	}
	if task.StatusMessage == "" {
		t.Error("expected an explanatory status message on the forced cancellation")
	}

	sent := fs.Sent()
	if len(sent) != 1 || sent[0] != "CancelTask" {
		t.Errorf("expected a CancelTask sent to the still-online node, got %v", sent)
	}
}

func TestFailOfflineTasksMarksNodeOfflineDuringTask(t *testing.T) {
	fj := &fakeJournal{}
	fh := newFakeHealth()
	fh.set("node-a", masteraction.ConnOffline)
	fs := &fakeSender{}
	d := newTestDispatcher(t, fj, fh, fs)

	na := singleTaskNodeAction("na-3", "node-a", "task-1")
	na.Tasks[0].Status = masteraction.TaskInProgress

	state := &execState{
		na:           na,
		actionID:     "ma-3",
		completionCh: make(chan Result, 1),
		flushedNodes: make(map[string]struct{}),
		logCh:        make(chan journal.LogRecord, 1),
		logDone:      make(chan struct{}),
		progress:     func(int, masteraction.MasterActionStatus) {},
	}

	d.failOfflineTasks(context.Background(), state)

	if na.Tasks[0].Status != masteraction.TaskNodeOfflineDuringTask {
		t.Fatalf("expected NodeOfflineDuringTask, got %s", na.Tasks[0].Status)
	}
}

func TestConfirmLogFlushTracksPerNode(t *testing.T) {
	fj := &fakeJournal{}
	fh := newFakeHealth()
	fs := &fakeSender{}
	d := newTestDispatcher(t, fj, fh, fs)

	na := &masteraction.NodeAction{ID: "na-4"}
	state := &execState{na: na, flushedNodes: make(map[string]struct{})}
	d.mu.Lock()
	d.active[na.ID] = state
	d.mu.Unlock()

	d.ConfirmLogFlush(na.ID, "node-a")
	d.ConfirmLogFlush(na.ID, "node-a")
	d.ConfirmLogFlush(na.ID, "node-b")

	if got := d.flushConfirmedCount(state); got != 2 {
		t.Errorf("expected 2 distinct confirming nodes, got %d", got)
	}
}
