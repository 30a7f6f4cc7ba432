package masteraction

import (
	"testing"
	"time"
)

func TestMasterActionSetStatusIgnoresAfterTerminal(t *testing.T) {
	a := New("ma-1", OperationType("Test"), "test", "", "alice", nil)
	a.SetStatus(StatusFailed)
	if a.GetStatus() != StatusFailed {
		t.Fatalf("expected Failed, got %s", a.GetStatus())
	}
	a.SetStatus(StatusSucceeded)
	if a.GetStatus() != StatusFailed {
		t.Fatalf("expected status to remain Failed once terminal, got %s", a.GetStatus())
	}
	if a.EndTime == nil {
		t.Fatal("expected EndTime to be stamped on terminal transition")
	}
}

func TestMasterActionAppendLogRingBuffer(t *testing.T) {
	a := New("ma-2", OperationType("Test"), "test", "", "alice", nil)
	for i := 0; i < recentLogCapacity+10; i++ {
		a.AppendLog("line")
	}
	if got := len(a.RecentLogs()); got != recentLogCapacity {
		t.Fatalf("expected ring buffer capped at %d, got %d", recentLogCapacity, got)
	}
}

func TestNodeTaskClampProgress(t *testing.T) {
	tsk := &NodeTask{ProgressPercent: -5}
	tsk.ClampProgress()
	if tsk.ProgressPercent != 0 {
		t.Errorf("expected 0, got %d", tsk.ProgressPercent)
	}
	tsk.ProgressPercent = 150
	tsk.ClampProgress()
	if tsk.ProgressPercent != 100 {
		t.Errorf("expected 100, got %d", tsk.ProgressPercent)
	}
}

func TestMasterActionSnapshotIsIndependentCopy(t *testing.T) {
	a := New("ma-3", OperationType("Test"), "test", "", "alice", nil)
	a.PushStage(&Stage{Index: 0, Name: "stage-0"})
	snap := a.Snapshot()
	a.PushStage(&Stage{Index: 1, Name: "stage-1"})
	if len(snap.Stages) != 1 {
		t.Fatalf("expected snapshot to freeze at 1 stage, got %d", len(snap.Stages))
	}
	if len(a.Stages) != 2 {
		t.Fatalf("expected live action to have 2 stages, got %d", len(a.Stages))
	}
}

func TestStageTerminal(t *testing.T) {
	s := &Stage{}
	if s.Terminal() {
		t.Error("stage with no node tasks and no end time should not be terminal")
	}
	now := time.Now().UTC()
	s.EndTime = &now
	if !s.Terminal() {
		t.Error("stage with no node tasks but an end time should be terminal")
	}

	s2 := &Stage{NodeTasks: []*NodeTask{
		{Status: TaskSucceeded},
		{Status: TaskInProgress},
	}}
	if s2.Terminal() {
		t.Error("stage with a non-terminal task should not be terminal")
	}
	s2.NodeTasks[1].Status = TaskFailed
	if !s2.Terminal() {
		t.Error("stage with all-terminal tasks should be terminal")
	}
}
