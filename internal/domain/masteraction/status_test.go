package masteraction

import "testing"

func TestMasterActionStatusTerminal(t *testing.T) {
	terminal := []MasterActionStatus{StatusSucceeded, StatusSucceededWithErrors, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []MasterActionStatus{StatusPending, StatusInProgress, StatusCancelling}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestNodeTaskStatusTerminal(t *testing.T) {
	if TaskInProgress.Terminal() {
		t.Error("InProgress should not be terminal")
	}
	if TaskCancelling.Terminal() {
		t.Error("Cancelling should not be terminal")
	}
	if !TaskSucceeded.Terminal() {
		t.Error("Succeeded should be terminal")
	}
	if !TaskNodeOfflineDuringTask.Terminal() {
		t.Error("NodeOfflineDuringTask should be terminal")
	}
}
