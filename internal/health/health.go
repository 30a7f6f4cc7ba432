// Package health implements the Node Health Monitor (C2): tracks
// per-node connectivity from heartbeats, connect/disconnect events, and a
// periodic overdue sweep, journaling and publishing transitions.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/notify"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

const sweepJournalConcurrency = 8

// Journal is the narrow slice of the Journal contract HealthMonitor uses.
type Journal interface {
	InitiateStateChange(ctx context.Context, info masteraction.StateChangeInfo) (string, string, error)
	FinalizeStateChange(ctx context.Context, outcome masteraction.StateChangeOutcome) error
}

type Config struct {
	HeartbeatInterval  time.Duration
	HeartbeatTolerance time.Duration // default max(10s, 1.5x interval)
	OfflineThreshold   time.Duration // default max(30s, 3x interval)
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.HeartbeatTolerance <= 0 {
		c.HeartbeatTolerance = maxDuration(10*time.Second, time.Duration(float64(c.HeartbeatInterval)*1.5))
	}
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = maxDuration(30*time.Second, 3*c.HeartbeatInterval)
	}
	return c
}

type Monitor struct {
	cfg      Config
	log      *logger.Logger
	journal  Journal
	notifier notify.UINotifier

	mu    sync.RWMutex
	nodes map[string]*masteraction.NodeState
}

func New(cfg Config, log *logger.Logger, j Journal, notifier notify.UINotifier) *Monitor {
	return &Monitor{
		cfg:      cfg.withDefaults(),
		log:      log.With("component", "HealthMonitor"),
		journal:  j,
		notifier: notifier,
		nodes:    make(map[string]*masteraction.NodeState),
	}
}

// OnAgentConnected sets the node Online, journals the transition, and
// notifies the UI.
func (m *Monitor) OnAgentConnected(ctx context.Context, nodeName, agentVersion string) {
	m.mu.Lock()
	state := m.ensureLocked(nodeName)
	now := time.Now().UTC()
	state.Connectivity = masteraction.ConnOnline
	state.AgentVersion = agentVersion
	state.LastStateUpdate = now
	m.mu.Unlock()

	m.journalTransition(ctx, fmt.Sprintf("Agent '%s' connected", nodeName), nodeName)
	m.notify(nodeName, masteraction.ConnOnline)
}

// OnAgentDisconnected sets the node Offline. Duplicate calls for an
// already-offline node are a no-op (idempotence invariant).
func (m *Monitor) OnAgentDisconnected(ctx context.Context, nodeName string) {
	m.mu.Lock()
	state, ok := m.nodes[nodeName]
	if !ok || state.Connectivity == masteraction.ConnOffline {
		m.mu.Unlock()
		return
	}
	state.Connectivity = masteraction.ConnOffline
	state.LastStateUpdate = time.Now().UTC()
	m.mu.Unlock()

	m.journalTransition(ctx, fmt.Sprintf("Agent '%s' disconnected", nodeName), nodeName)
	m.notify(nodeName, masteraction.ConnOffline)
}

// UpdateFromHeartbeat records the latest heartbeat sample. A transition
// out of a non-Online state is journaled; otherwise this is a pure UI
// refresh with no journal entry.
func (m *Monitor) UpdateFromHeartbeat(ctx context.Context, nodeName string, cpuPct, ramPct float64, at time.Time) {
	m.mu.Lock()
	state := m.ensureLocked(nodeName)
	wasOnline := state.Connectivity == masteraction.ConnOnline
	state.LastHeartbeat = &at
	state.CPUPercent = cpuPct
	state.RAMPercent = ramPct
	state.Connectivity = masteraction.ConnOnline
	state.LastStateUpdate = time.Now().UTC()
	m.mu.Unlock()

	if !wasOnline {
		m.journalTransition(ctx, fmt.Sprintf("Agent '%s' reported online via heartbeat", nodeName), nodeName)
	}
	m.notify(nodeName, masteraction.ConnOnline)
}

// UpdateDiagnostics updates the cached health summary, journaling only
// when the summary text actually changes.
func (m *Monitor) UpdateDiagnostics(ctx context.Context, nodeName, summary string, diagnostics map[string]interface{}) {
	m.mu.Lock()
	state := m.ensureLocked(nodeName)
	changed := state.HealthSummary != summary
	state.HealthSummary = summary
	state.Diagnostics = diagnostics
	state.LastStateUpdate = time.Now().UTC()
	m.mu.Unlock()

	if changed {
		m.journalTransition(ctx, fmt.Sprintf("Agent '%s' diagnostics updated: %s", nodeName, summary), nodeName)
		if m.notifier != nil {
			m.notifier.Publish(notify.Event{
				Type: notify.EventHealthCheckIssue,
				Payload: notify.HealthCheckIssuePayload{
					NodeName: nodeName,
					Summary:  summary,
				},
			})
		}
	}
}

// GetCachedState is the read-only accessor used by the Dispatcher's
// cancellation and health-fail logic.
func (m *Monitor) GetCachedState(nodeName string) (masteraction.NodeState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.nodes[nodeName]
	if !ok {
		return masteraction.NodeState{}, false
	}
	return *s, true
}

// RefreshConnectivity re-classifies a single node on demand using the
// same age-based rules as the overdue sweep.
func (m *Monitor) RefreshConnectivity(ctx context.Context, nodeName string) {
	m.mu.Lock()
	state, ok := m.nodes[nodeName]
	if !ok {
		m.mu.Unlock()
		return
	}
	prev := state.Connectivity
	next := m.classify(state)
	changed := next != prev
	state.Connectivity = next
	state.LastStateUpdate = time.Now().UTC()
	m.mu.Unlock()

	if changed {
		m.journalTransition(ctx, fmt.Sprintf("Agent '%s' reclassified %s -> %s", nodeName, prev, next), nodeName)
		m.notify(nodeName, next)
	}
}

// StartSweep runs the overdue sweep loop until ctx is cancelled.
func (m *Monitor) StartSweep(ctx context.Context) {
	interval := maxDuration(5*time.Second, m.cfg.HeartbeatInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *Monitor) sweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	type transition struct {
		node string
		from masteraction.Connectivity
		to   masteraction.Connectivity
	}
	var transitions []transition

	m.mu.Lock()
	for name, state := range m.nodes {
		if state.Connectivity != masteraction.ConnOnline && state.Connectivity != masteraction.ConnUnreachable {
			continue
		}
		prev := state.Connectivity
		next := m.classifyAt(state, now)
		if next != prev {
			state.Connectivity = next
			state.LastStateUpdate = now
			transitions = append(transitions, transition{name, prev, next})
		}
	}
	m.mu.Unlock()

	// Journaling a transition is an independent, possibly slow I/O call
	// per node; fan the batch out with a bounded group rather than
	// journaling transitions one at a time.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepJournalConcurrency)
	for _, t := range transitions {
		t := t
		g.Go(func() error {
			m.journalTransition(gctx, fmt.Sprintf("Agent '%s' reclassified %s -> %s (overdue sweep)", t.node, t.from, t.to), t.node)
			m.notify(t.node, t.to)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) classify(state *masteraction.NodeState) masteraction.Connectivity {
	return m.classifyAt(state, time.Now().UTC())
}

func (m *Monitor) classifyAt(state *masteraction.NodeState, now time.Time) masteraction.Connectivity {
	if state.LastHeartbeat == nil {
		if state.Connectivity == masteraction.ConnNeverConnected {
			return masteraction.ConnNeverConnected
		}
		return masteraction.ConnUnknown
	}
	age := now.Sub(*state.LastHeartbeat)
	switch {
	case age > m.cfg.OfflineThreshold:
		return masteraction.ConnOffline
	case age > m.cfg.HeartbeatTolerance:
		return masteraction.ConnUnreachable
	default:
		return masteraction.ConnOnline
	}
}

func (m *Monitor) ensureLocked(nodeName string) *masteraction.NodeState {
	s, ok := m.nodes[nodeName]
	if !ok {
		s = &masteraction.NodeState{NodeName: nodeName, Connectivity: masteraction.ConnNeverConnected}
		m.nodes[nodeName] = s
	}
	return s
}

func (m *Monitor) notify(nodeName string, conn masteraction.Connectivity) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(notify.Event{
		Type: notify.EventNodeStatusUpdate,
		Payload: notify.NodeStatusUpdatePayload{
			NodeName:     nodeName,
			Connectivity: string(conn),
		},
	})
}

func (m *Monitor) journalTransition(ctx context.Context, description, nodeName string) {
	if m.journal == nil {
		return
	}
	m.mu.RLock()
	var conn masteraction.Connectivity
	if s, ok := m.nodes[nodeName]; ok {
		conn = s.Connectivity
	}
	m.mu.RUnlock()

	changeID, _, err := m.journal.InitiateStateChange(ctx, masteraction.StateChangeInfo{
		EventType:            "NodeConnectivityChange",
		SourceMasterActionID: masteraction.SourceSystemHealthMonitor,
		Initiator:            "system",
		Description:          description,
		Metadata: map[string]interface{}{
			"nodeName":     nodeName,
			"connectivity": string(conn),
		},
	})
	if err != nil {
		m.log.Warn("failed to journal connectivity transition", "error", err, "node_name", nodeName)
		return
	}
	if err := m.journal.FinalizeStateChange(ctx, masteraction.StateChangeOutcome{
		ChangeID: changeID,
		Outcome:  masteraction.OutcomeSuccess,
	}); err != nil {
		m.log.Warn("failed to finalize connectivity transition", "error", err, "node_name", nodeName)
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
