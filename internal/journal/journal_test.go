package journal

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/journal/changeindex"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	j, err := New(t.TempDir(), "test", log, nil)
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}
	return j
}

func newTestAction(id string) *masteraction.MasterAction {
	return masteraction.New(id, masteraction.OperationType("Test"), "test-action", "", "alice", nil)
}

func TestRecordActionRoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	action := newTestAction("ma-roundtrip")
	action.PushStage(&masteraction.Stage{Index: 0, Name: "stage-0"})
	if err := j.RecordActionInitiated(ctx, action); err != nil {
		t.Fatalf("RecordActionInitiated: %v", err)
	}

	action.SetStatus(masteraction.StatusSucceeded)
	if err := j.RecordActionCompleted(ctx, action); err != nil {
		t.Fatalf("RecordActionCompleted: %v", err)
	}

	archived, err := j.GetArchivedAction(ctx, action.ID)
	if err != nil {
		t.Fatalf("GetArchivedAction: %v", err)
	}
	if archived == nil {
		t.Fatal("expected archived action, got nil")
	}
	if archived.ID != action.ID {
		t.Errorf("expected id %s, got %s", action.ID, archived.ID)
	}
	if archived.Operation != action.Operation {
		t.Errorf("expected operation %s, got %s", action.Operation, archived.Operation)
	}
	if archived.GetStatus() != masteraction.StatusSucceeded {
		t.Errorf("expected status Succeeded, got %s", archived.GetStatus())
	}
	if !archived.StartTime.Equal(action.StartTime) {
		t.Errorf("expected start time %v, got %v", action.StartTime, archived.StartTime)
	}
	if archived.EndTime == nil {
		t.Error("expected end time to be set on archived action")
	}
	if len(archived.Stages) != 1 {
		t.Errorf("expected 1 stage, got %d", len(archived.Stages))
	}
}

func TestGetArchivedActionUnknownReturnsNilNil(t *testing.T) {
	j := newTestJournal(t)
	archived, err := j.GetArchivedAction(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if archived != nil {
		t.Fatalf("expected nil for unknown id, got %+v", archived)
	}
}

func TestRecordActionInitiatedIsIdempotent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	action := newTestAction("ma-idempotent")

	if err := j.RecordActionInitiated(ctx, action); err != nil {
		t.Fatalf("first RecordActionInitiated: %v", err)
	}
	if err := j.RecordActionInitiated(ctx, action); err != nil {
		t.Fatalf("second RecordActionInitiated: %v", err)
	}

	if _, ok := j.actionDir(action.ID); !ok {
		t.Fatal("expected action dir to be registered")
	}
}

func TestClearMappingsOnUnknownActionIsNoop(t *testing.T) {
	j := newTestJournal(t)
	j.ClearMappings("never-registered")
}

func TestMapNodeActionToStageAndClearMappings(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	action := newTestAction("ma-routes")
	if err := j.RecordActionInitiated(ctx, action); err != nil {
		t.Fatalf("RecordActionInitiated: %v", err)
	}
	if err := j.RecordStageInitiated(ctx, action.ID, 0, "stage-0", nil); err != nil {
		t.Fatalf("RecordStageInitiated: %v", err)
	}
	if err := j.MapNodeActionToStage(ctx, action.ID, 0, "stage-0", "na-1"); err != nil {
		t.Fatalf("MapNodeActionToStage: %v", err)
	}

	if err := j.AppendSlaveLogToStage(ctx, action.ID, LogRecord{NodeActionID: "na-1", NodeName: "node-a", Message: "hello"}); err != nil {
		t.Fatalf("AppendSlaveLogToStage: %v", err)
	}

	j.ClearMappings(action.ID)

	j.mapMu.RLock()
	_, stillMapped := j.routes["na-1"]
	j.mapMu.RUnlock()
	if stillMapped {
		t.Error("expected route to be cleared")
	}

	if err := j.AppendSlaveLogToStage(ctx, action.ID, LogRecord{NodeActionID: "na-1", NodeName: "node-a", Message: "dropped"}); err != nil {
		t.Fatalf("AppendSlaveLogToStage after clear should not error: %v", err)
	}
}

func TestFinalizeStateChangeIsIdempotent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	changeID, _, err := j.InitiateStateChange(ctx, masteraction.StateChangeInfo{
		EventType:            "ConfigurationChange",
		SourceMasterActionID: "ma-1",
		Initiator:            "alice",
	})
	if err != nil {
		t.Fatalf("InitiateStateChange: %v", err)
	}
	if changeID == "" {
		t.Fatal("expected non-empty change id")
	}

	if err := j.FinalizeStateChange(ctx, masteraction.StateChangeOutcome{ChangeID: changeID, Outcome: masteraction.OutcomeSuccess}); err != nil {
		t.Fatalf("first FinalizeStateChange: %v", err)
	}

	linesAfterFirst, err := countIndexLines(j.changeIndexPath())
	if err != nil {
		t.Fatalf("countIndexLines: %v", err)
	}

	if err := j.FinalizeStateChange(ctx, masteraction.StateChangeOutcome{ChangeID: changeID, Outcome: masteraction.OutcomeSuccess}); err != nil {
		t.Fatalf("second FinalizeStateChange should be a no-op, not an error: %v", err)
	}

	linesAfterSecond, err := countIndexLines(j.changeIndexPath())
	if err != nil {
		t.Fatalf("countIndexLines: %v", err)
	}
	if linesAfterSecond != linesAfterFirst {
		t.Errorf("expected duplicate finalize to append no new index line, had %d lines, now %d", linesAfterFirst, linesAfterSecond)
	}
}

func countIndexLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return 0, nil
	}
	return len(lines), nil
}

func TestListChangesWithoutIndexReturnsError(t *testing.T) {
	j := newTestJournal(t)
	if _, _, err := j.ListChanges(context.Background(), changeindex.Filter{}); err == nil {
		t.Fatal("expected error when no change index configured")
	}
}
