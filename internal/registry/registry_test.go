package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/journal"
	"github.com/yungbote/masterctl/internal/platform/logger"
	"github.com/yungbote/masterctl/internal/registry/registrytest"
	"github.com/yungbote/masterctl/internal/transport"
)

type fakeJournal struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeJournal) InitiateStateChange(ctx context.Context, info masteraction.StateChangeInfo) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, info.Description)
	return "chg-1", "", nil
}
func (f *fakeJournal) FinalizeStateChange(ctx context.Context, outcome masteraction.StateChangeOutcome) error {
	return nil
}

type fakeHealthForwarder struct {
	mu          sync.Mutex
	connected   []string
	dropped     []string
	heartbeats  []string
	diagnostics []string
}

func (f *fakeHealthForwarder) OnAgentConnected(ctx context.Context, nodeName, agentVersion string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, nodeName)
}
func (f *fakeHealthForwarder) OnAgentDisconnected(ctx context.Context, nodeName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, nodeName)
}
func (f *fakeHealthForwarder) UpdateFromHeartbeat(ctx context.Context, nodeName string, cpuPct, ramPct float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, nodeName)
}
func (f *fakeHealthForwarder) UpdateDiagnostics(ctx context.Context, nodeName, summary string, diagnostics map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diagnostics = append(f.diagnostics, nodeName)
}

func newTestRegistry(t *testing.T) (*Registry, *fakeJournal, *fakeHealthForwarder, *registrytest.FakeTransport) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	fj := &fakeJournal{}
	fh := &fakeHealthForwarder{}
	ft := registrytest.New()
	return New(log, fj, fh, ft), fj, fh, ft
}

func TestConnectForwardsToHealthAndJournal(t *testing.T) {
	r, fj, fh, _ := newTestRegistry(t)
	r.Connect(context.Background(), "conn-1", "node-a", "v1.0.0", "10.0.0.1:1234")

	if !r.IsConnected("node-a") {
		t.Fatal("expected node-a to be connected")
	}
	if name, ok := r.NodeNameForConnection("conn-1"); !ok || name != "node-a" {
		t.Fatalf("expected conn-1 to map to node-a, got %s/%v", name, ok)
	}
	if len(fh.connected) != 1 || fh.connected[0] != "node-a" {
		t.Errorf("expected health forwarder notified of node-a connect, got %v", fh.connected)
	}
	if len(fj.lines) != 1 {
		t.Errorf("expected one journaled connection event, got %d", len(fj.lines))
	}
}

func TestDisconnectUnknownConnectionIsNoop(t *testing.T) {
	r, fj, fh, _ := newTestRegistry(t)
	r.Disconnect(context.Background(), "never-connected")

	if len(fj.lines) != 0 {
		t.Errorf("expected no journal entries for unknown disconnect, got %d", len(fj.lines))
	}
	if len(fh.dropped) != 0 {
		t.Errorf("expected no health forwarding for unknown disconnect, got %v", fh.dropped)
	}
}

func TestDisconnectRemovesMapping(t *testing.T) {
	r, _, fh, _ := newTestRegistry(t)
	ctx := context.Background()
	r.Connect(ctx, "conn-1", "node-a", "v1.0.0", "10.0.0.1:1234")
	r.Disconnect(ctx, "conn-1")

	if r.IsConnected("node-a") {
		t.Error("expected node-a to be disconnected")
	}
	if _, ok := r.NodeNameForConnection("conn-1"); ok {
		t.Error("expected conn-1 mapping to be removed")
	}
	if len(fh.dropped) != 1 || fh.dropped[0] != "node-a" {
		t.Errorf("expected health forwarder notified of node-a disconnect, got %v", fh.dropped)
	}
}

func TestSendToUnknownNodeIsDroppedSilently(t *testing.T) {
	r, _, _, ft := newTestRegistry(t)
	r.SendPrepareForTask(context.Background(), "ghost-node", transport.PrepareForTask{TaskID: "t1"})

	if len(ft.Sent()) != 0 {
		t.Errorf("expected nothing sent to an unregistered node, got %v", ft.Sent())
	}
}

func TestSendToConnectedNodeReachesTransport(t *testing.T) {
	r, _, _, ft := newTestRegistry(t)
	r.Connect(context.Background(), "conn-1", "node-a", "v1.0.0", "10.0.0.1:1234")

	r.SendPrepareForTask(context.Background(), "node-a", transport.PrepareForTask{TaskID: "t1"})

	sent := ft.Sent()
	if len(sent) != 1 || sent[0].Node != "node-a" || sent[0].Kind != "PrepareForTask" {
		t.Fatalf("expected PrepareForTask delivered to node-a, got %+v", sent)
	}
}

func TestSendFailureIsJournaled(t *testing.T) {
	r, fj, _, ft := newTestRegistry(t)
	r.Connect(context.Background(), "conn-1", "node-a", "v1.0.0", "10.0.0.1:1234")
	ft.FailNodes["node-a"] = true

	r.SendSlaveTask(context.Background(), "node-a", transport.SlaveTask{TaskID: "t1"})

	if len(fj.lines) < 2 {
		t.Fatalf("expected connect + failure journal entries, got %d: %v", len(fj.lines), fj.lines)
	}
}

type fakeDispatchForwarder struct {
	mu          sync.Mutex
	readiness   []string
	progress    []string
	logs        []journal.LogRecord
	flushes     []string
}

func (f *fakeDispatchForwarder) HandleReadinessReport(ctx context.Context, report transport.ReadinessReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readiness = append(f.readiness, report.TaskID)
}
func (f *fakeDispatchForwarder) HandleTaskProgress(ctx context.Context, update transport.TaskProgressUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, update.TaskID)
}
func (f *fakeDispatchForwarder) IngestLog(nodeActionID string, entry journal.LogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
}
func (f *fakeDispatchForwarder) ConfirmLogFlush(nodeActionID, nodeName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, nodeActionID+"/"+nodeName)
}

func TestOnHeartbeatUpdatesHealthAndLastSeen(t *testing.T) {
	r, _, fh, _ := newTestRegistry(t)
	r.Connect(context.Background(), "conn-1", "node-a", "v1.0.0", "10.0.0.1:1234")

	ts := time.Now().Add(time.Minute).UnixMilli()
	r.OnHeartbeat(context.Background(), transport.Heartbeat{
		NodeName:        "node-a",
		Timestamp:       ts,
		CPUUsagePercent: 10,
		RAMUsagePercent: 20,
	})

	if len(fh.heartbeats) != 1 || fh.heartbeats[0] != "node-a" {
		t.Errorf("expected health forwarder to receive the heartbeat, got %v", fh.heartbeats)
	}
	r.mu.RLock()
	lastSeen := r.byNode["node-a"].lastHeartbeatTime
	r.mu.RUnlock()
	if want := time.UnixMilli(ts).UTC(); !lastSeen.Equal(want) {
		t.Errorf("expected last heartbeat time %v, got %v", want, lastSeen)
	}
}

func TestOnDiagnosticsReportForwardsToHealth(t *testing.T) {
	r, _, fh, _ := newTestRegistry(t)
	r.OnDiagnosticsReport(context.Background(), transport.DiagnosticsReport{NodeName: "node-a", Summary: "disk low"})

	if len(fh.diagnostics) != 1 || fh.diagnostics[0] != "node-a" {
		t.Errorf("expected health forwarder to receive the diagnostics report, got %v", fh.diagnostics)
	}
}

func TestOnReadinessReportWithoutDispatcherIsNoop(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	r.OnReadinessReport(context.Background(), transport.ReadinessReport{TaskID: "t1", IsReady: true})
}

func TestInboundRoutingReachesDispatcher(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	fd := &fakeDispatchForwarder{}
	r.SetDispatcher(fd)

	r.OnReadinessReport(context.Background(), transport.ReadinessReport{TaskID: "t1", IsReady: true})
	r.OnTaskProgress(context.Background(), transport.TaskProgressUpdate{TaskID: "t1", Status: "Succeeded"})
	r.OnLogEntry(transport.LogEntry{NodeActionID: "na-1", NodeName: "node-a", LogMessage: "hello"})
	r.OnLogFlushConfirmed(transport.LogFlushConfirmation{NodeActionID: "na-1", NodeName: "node-a"})

	if len(fd.readiness) != 1 || fd.readiness[0] != "t1" {
		t.Errorf("expected readiness report routed to dispatcher, got %v", fd.readiness)
	}
	if len(fd.progress) != 1 || fd.progress[0] != "t1" {
		t.Errorf("expected task progress routed to dispatcher, got %v", fd.progress)
	}
	if len(fd.logs) != 1 || fd.logs[0].Message != "hello" {
		t.Errorf("expected log entry routed to dispatcher, got %v", fd.logs)
	}
	if len(fd.flushes) != 1 || fd.flushes[0] != "na-1/node-a" {
		t.Errorf("expected flush confirmation routed to dispatcher, got %v", fd.flushes)
	}
}
