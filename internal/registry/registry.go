// Package registry implements the AgentRegistry (C3): tracks which
// nodes are currently attached, maps transport connection ids to node
// names, exposes typed send primitives, and journals connection
// lifecycle events.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/journal"
	"github.com/yungbote/masterctl/internal/platform/logger"
	"github.com/yungbote/masterctl/internal/transport"
)

type agentInfo struct {
	connectionID      string
	nodeName          string
	version           string
	remoteAddr        string
	lastHeartbeatTime time.Time
	status            masteraction.Connectivity
}

// Journal is the narrow slice of the Journal contract AgentRegistry uses.
type Journal interface {
	InitiateStateChange(ctx context.Context, info masteraction.StateChangeInfo) (string, string, error)
	FinalizeStateChange(ctx context.Context, outcome masteraction.StateChangeOutcome) error
}

// HealthForwarder receives connect/disconnect notifications and the
// inbound heartbeat/diagnostics stream; satisfied by *health.Monitor.
type HealthForwarder interface {
	OnAgentConnected(ctx context.Context, nodeName, agentVersion string)
	OnAgentDisconnected(ctx context.Context, nodeName string)
	UpdateFromHeartbeat(ctx context.Context, nodeName string, cpuPct, ramPct float64, at time.Time)
	UpdateDiagnostics(ctx context.Context, nodeName, summary string, diagnostics map[string]interface{})
}

// DispatchForwarder receives the inbound readiness/progress/log stream
// for whichever stage is currently executing; satisfied by
// *dispatch.Dispatcher.
type DispatchForwarder interface {
	HandleReadinessReport(ctx context.Context, report transport.ReadinessReport)
	HandleTaskProgress(ctx context.Context, update transport.TaskProgressUpdate)
	IngestLog(nodeActionID string, entry journal.LogRecord)
	ConfirmLogFlush(nodeActionID, nodeName string)
}

type Registry struct {
	log       *logger.Logger
	journal   Journal
	health    HealthForwarder
	transport transport.AgentTransport

	mu         sync.RWMutex
	byNode     map[string]*agentInfo
	connToNode map[string]string

	dispatchMu sync.RWMutex
	dispatch   DispatchForwarder
}

func New(log *logger.Logger, j Journal, h HealthForwarder, t transport.AgentTransport) *Registry {
	return &Registry{
		log:        log.With("component", "AgentRegistry"),
		journal:    j,
		health:     h,
		transport:  t,
		byNode:     make(map[string]*agentInfo),
		connToNode: make(map[string]string),
	}
}

// SetDispatcher wires the Dispatcher in after construction, since
// Dispatcher itself depends on the Registry as its AgentSender —
// main.go completes the cycle once both are built.
func (r *Registry) SetDispatcher(d DispatchForwarder) {
	r.dispatchMu.Lock()
	r.dispatch = d
	r.dispatchMu.Unlock()
}

func (r *Registry) dispatcher() DispatchForwarder {
	r.dispatchMu.RLock()
	defer r.dispatchMu.RUnlock()
	return r.dispatch
}

// Connect registers a new agent connection and forwards to HealthMonitor.
func (r *Registry) Connect(ctx context.Context, connectionID, nodeName, version, remoteAddr string) {
	r.mu.Lock()
	r.byNode[nodeName] = &agentInfo{
		connectionID:      connectionID,
		nodeName:          nodeName,
		version:           version,
		remoteAddr:        remoteAddr,
		lastHeartbeatTime: time.Now().UTC(),
		status:            masteraction.ConnOnline,
	}
	r.connToNode[connectionID] = nodeName
	r.mu.Unlock()

	r.journalOutcome(ctx, fmt.Sprintf("Agent '%s' connected", nodeName), nil)
	if r.health != nil {
		r.health.OnAgentConnected(ctx, nodeName, version)
	}
}

// Disconnect removes the connection mapping for connectionID and
// forwards to HealthMonitor. Unknown connection ids are a no-op.
func (r *Registry) Disconnect(ctx context.Context, connectionID string) {
	r.mu.Lock()
	nodeName, ok := r.connToNode[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connToNode, connectionID)
	delete(r.byNode, nodeName)
	r.mu.Unlock()

	r.journalOutcome(ctx, fmt.Sprintf("Agent '%s' disconnected", nodeName), nil)
	if r.health != nil {
		r.health.OnAgentDisconnected(ctx, nodeName)
	}
}

func (r *Registry) IsConnected(nodeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byNode[nodeName]
	return ok
}

func (r *Registry) NodeNameForConnection(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.connToNode[connectionID]
	return n, ok
}

func (r *Registry) RecordHeartbeatSeen(nodeName string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byNode[nodeName]; ok {
		a.lastHeartbeatTime = at
	}
}

// OnHeartbeat fans an inbound Heartbeat out to the local connection
// bookkeeping and HealthMonitor. This, and the five On* methods below,
// are the inbound half of "slaves reply via AgentRegistry": whatever
// terminates the wire connection calls these with the decoded message,
// and AgentRegistry routes each to the collaborator that owns it.
func (r *Registry) OnHeartbeat(ctx context.Context, hb transport.Heartbeat) {
	at := time.UnixMilli(hb.Timestamp).UTC()
	r.RecordHeartbeatSeen(hb.NodeName, at)
	if r.health != nil {
		r.health.UpdateFromHeartbeat(ctx, hb.NodeName, hb.CPUUsagePercent, hb.RAMUsagePercent, at)
	}
}

// OnDiagnosticsReport forwards a slave's diagnostics payload to HealthMonitor.
func (r *Registry) OnDiagnosticsReport(ctx context.Context, report transport.DiagnosticsReport) {
	if r.health != nil {
		r.health.UpdateDiagnostics(ctx, report.NodeName, report.Summary, report.Diagnostics)
	}
}

// OnReadinessReport forwards a slave's PrepareForTask response to
// whichever Dispatcher stage is awaiting it.
func (r *Registry) OnReadinessReport(ctx context.Context, report transport.ReadinessReport) {
	if d := r.dispatcher(); d != nil {
		d.HandleReadinessReport(ctx, report)
	}
}

// OnTaskProgress forwards a slave's task status/progress update to the
// Dispatcher, which aggregates it into the stage's overall status.
func (r *Registry) OnTaskProgress(ctx context.Context, update transport.TaskProgressUpdate) {
	if d := r.dispatcher(); d != nil {
		d.HandleTaskProgress(ctx, update)
	}
}

// OnLogEntry forwards a slave's log line to the Dispatcher's per-stage
// log channel.
func (r *Registry) OnLogEntry(entry transport.LogEntry) {
	if d := r.dispatcher(); d != nil {
		d.IngestLog(entry.NodeActionID, journal.LogRecord{
			NodeActionID: entry.NodeActionID,
			NodeName:     entry.NodeName,
			TaskID:       entry.TaskID,
			Level:        entry.LogLevel,
			Message:      entry.LogMessage,
			Timestamp:    time.UnixMilli(entry.TimestampUTC).UTC(),
		})
	}
}

// OnLogFlushConfirmed forwards a slave's flush acknowledgment to the
// Dispatcher's end-of-stage flush barrier.
func (r *Registry) OnLogFlushConfirmed(confirm transport.LogFlushConfirmation) {
	if d := r.dispatcher(); d != nil {
		d.ConfirmLogFlush(confirm.NodeActionID, confirm.NodeName)
	}
}

func (r *Registry) connected(nodeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byNode[nodeName]
	return ok
}

func (r *Registry) SendPrepareForTask(ctx context.Context, node string, msg transport.PrepareForTask) {
	r.send(ctx, node, "PrepareForTask", func() error { return r.transport.SendPrepareForTask(ctx, node, msg) })
}

func (r *Registry) SendSlaveTask(ctx context.Context, node string, msg transport.SlaveTask) {
	r.send(ctx, node, "SlaveTask", func() error { return r.transport.SendSlaveTask(ctx, node, msg) })
}

func (r *Registry) SendCancelTask(ctx context.Context, node string, msg transport.CancelTask) {
	r.send(ctx, node, "CancelTask", func() error { return r.transport.SendCancelTask(ctx, node, msg) })
}

func (r *Registry) SendLogFlushRequest(ctx context.Context, node string, msg transport.RequestLogFlushForTask) {
	r.send(ctx, node, "RequestLogFlushForTask", func() error { return r.transport.SendRequestLogFlush(ctx, node, msg) })
}

func (r *Registry) SendMasterStateUpdate(ctx context.Context, node string, msg transport.MasterStateUpdate) {
	r.send(ctx, node, "MasterStateUpdate", func() error { return r.transport.SendMasterStateUpdate(ctx, node, msg) })
}

func (r *Registry) SendTimeSync(ctx context.Context, node string, msg transport.AdjustSystemTime) {
	r.send(ctx, node, "AdjustSystemTime", func() error { return r.transport.SendAdjustSystemTime(ctx, node, msg) })
}

func (r *Registry) SendGeneralCommand(ctx context.Context, node, command string, payload []byte) {
	r.send(ctx, node, "GeneralCommand:"+command, func() error { return r.transport.SendGeneralCommand(ctx, node, command, payload) })
}

// send is the shared no-op/failure-journaling path for every typed Send*
// primitive: a send to an unknown node is a logged no-op, and a send
// that errors is recorded as a Change Journal Failure row.
func (r *Registry) send(ctx context.Context, node, kind string, do func() error) {
	if !r.connected(node) {
		r.log.Warn("send to unknown node dropped", "node_name", node, "message_kind", kind)
		return
	}
	if err := do(); err != nil {
		r.log.Error("transport send failed", "error", err, "node_name", node, "message_kind", kind)
		r.journalOutcome(ctx, fmt.Sprintf("send %s to '%s' failed", kind, node), err)
	}
}

func (r *Registry) journalOutcome(ctx context.Context, description string, sendErr error) {
	if r.journal == nil {
		return
	}
	changeID, _, err := r.journal.InitiateStateChange(ctx, masteraction.StateChangeInfo{
		EventType:            "AgentConnection",
		SourceMasterActionID: masteraction.SourceSystemEvent,
		Initiator:            "system",
		Description:          description,
	})
	if err != nil {
		r.log.Warn("failed to journal agent connection event", "error", err)
		return
	}
	outcome := masteraction.OutcomeSuccess
	detail := ""
	if sendErr != nil {
		outcome = masteraction.OutcomeFailure
		detail = sendErr.Error()
	}
	if err := r.journal.FinalizeStateChange(ctx, masteraction.StateChangeOutcome{
		ChangeID: changeID,
		Outcome:  outcome,
		Detail:   detail,
	}); err != nil {
		r.log.Warn("failed to finalize agent connection event", "error", err)
	}
}
