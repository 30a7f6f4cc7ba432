package health

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/notify"
	"github.com/yungbote/masterctl/internal/notify/notifytest"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

func newTestMonitor(t *testing.T, notifier notify.UINotifier) *Monitor {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return New(Config{HeartbeatInterval: 50 * time.Millisecond}, log, nil, notifier)
}

func TestOnAgentConnectedSetsOnline(t *testing.T) {
	rec := notifytest.New()
	m := newTestMonitor(t, rec)
	m.OnAgentConnected(context.Background(), "node-a", "v1.0.0")

	state, ok := m.GetCachedState("node-a")
	if !ok {
		t.Fatal("expected node-a to be cached")
	}
	if state.Connectivity != masteraction.ConnOnline {
		t.Errorf("expected Online, got %s", state.Connectivity)
	}
	if rec.CountOf(notify.EventNodeStatusUpdate) != 1 {
		t.Errorf("expected 1 status notification, got %d", rec.CountOf(notify.EventNodeStatusUpdate))
	}
}

func TestOnAgentDisconnectedIsIdempotent(t *testing.T) {
	rec := notifytest.New()
	m := newTestMonitor(t, rec)
	ctx := context.Background()

	m.OnAgentConnected(ctx, "node-a", "v1.0.0")
	m.OnAgentDisconnected(ctx, "node-a")
	afterFirst := rec.CountOf(notify.EventNodeStatusUpdate)

	m.OnAgentDisconnected(ctx, "node-a")
	afterSecond := rec.CountOf(notify.EventNodeStatusUpdate)

	if afterFirst != afterSecond {
		t.Errorf("expected duplicate disconnect to be a no-op, notification count went from %d to %d", afterFirst, afterSecond)
	}

	state, _ := m.GetCachedState("node-a")
	if state.Connectivity != masteraction.ConnOffline {
		t.Errorf("expected Offline, got %s", state.Connectivity)
	}
}

func TestOnAgentDisconnectedForUnknownNodeIsNoop(t *testing.T) {
	rec := notifytest.New()
	m := newTestMonitor(t, rec)
	m.OnAgentDisconnected(context.Background(), "never-connected")
	if _, ok := m.GetCachedState("never-connected"); ok {
		t.Error("expected unknown node to remain unregistered")
	}
	if len(rec.Events()) != 0 {
		t.Errorf("expected no events for disconnect of unknown node, got %d", len(rec.Events()))
	}
}

func TestUpdateFromHeartbeatKeepsLatestSample(t *testing.T) {
	rec := notifytest.New()
	m := newTestMonitor(t, rec)
	ctx := context.Background()
	now := time.Now().UTC()

	m.UpdateFromHeartbeat(ctx, "node-a", 10, 20, now)
	m.UpdateFromHeartbeat(ctx, "node-a", 11, 21, now.Add(time.Second))

	state, ok := m.GetCachedState("node-a")
	if !ok {
		t.Fatal("expected node-a to be cached")
	}
	if state.CPUPercent != 11 {
		t.Errorf("expected latest cpu sample 11, got %v", state.CPUPercent)
	}
	if state.Connectivity != masteraction.ConnOnline {
		t.Errorf("expected Online, got %s", state.Connectivity)
	}
}

func TestSweepOnceClassifiesOfflineNodes(t *testing.T) {
	rec := notifytest.New()
	m := newTestMonitor(t, rec)
	ctx := context.Background()
	stale := time.Now().UTC().Add(-time.Hour)

	m.UpdateFromHeartbeat(ctx, "node-a", 1, 1, stale)
	m.sweepOnce(ctx)

	state, ok := m.GetCachedState("node-a")
	if !ok {
		t.Fatal("expected node-a to be cached")
	}
	if state.Connectivity != masteraction.ConnOffline {
		t.Errorf("expected Offline after sweep of a stale heartbeat, got %s", state.Connectivity)
	}
}

func TestRefreshConnectivityNoopWhenUnchanged(t *testing.T) {
	rec := notifytest.New()
	m := newTestMonitor(t, rec)
	ctx := context.Background()
	m.OnAgentConnected(ctx, "node-a", "v1.0.0")
	m.UpdateFromHeartbeat(ctx, "node-a", 1, 1, time.Now().UTC())
	before := len(rec.Events())

	m.RefreshConnectivity(ctx, "node-a")

	if len(rec.Events()) != before {
		t.Errorf("expected no additional notification when classification is unchanged, went from %d to %d", before, len(rec.Events()))
	}
}
