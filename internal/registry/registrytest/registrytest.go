// Package registrytest provides a fake transport.AgentTransport for
// exercising the AgentRegistry without a real wire hub.
package registrytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yungbote/masterctl/internal/transport"
)

type Sent struct {
	Node string
	Kind string
	Msg  interface{}
}

type FakeTransport struct {
	mu   sync.Mutex
	sent []Sent

	FailNodes map[string]bool
}

func New() *FakeTransport {
	return &FakeTransport{FailNodes: map[string]bool{}}
}

func (f *FakeTransport) record(node, kind string, msg interface{}) error {
	f.mu.Lock()
	f.sent = append(f.sent, Sent{Node: node, Kind: kind, Msg: msg})
	fail := f.FailNodes[node]
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("simulated transport failure for node %s", node)
	}
	return nil
}

func (f *FakeTransport) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeTransport) SendPrepareForTask(_ context.Context, node string, msg transport.PrepareForTask) error {
	return f.record(node, "PrepareForTask", msg)
}
func (f *FakeTransport) SendSlaveTask(_ context.Context, node string, msg transport.SlaveTask) error {
	return f.record(node, "SlaveTask", msg)
}
func (f *FakeTransport) SendCancelTask(_ context.Context, node string, msg transport.CancelTask) error {
	return f.record(node, "CancelTask", msg)
}
func (f *FakeTransport) SendRequestLogFlush(_ context.Context, node string, msg transport.RequestLogFlushForTask) error {
	return f.record(node, "RequestLogFlushForTask", msg)
}
func (f *FakeTransport) SendMasterStateUpdate(_ context.Context, node string, msg transport.MasterStateUpdate) error {
	return f.record(node, "MasterStateUpdate", msg)
}
func (f *FakeTransport) SendAdjustSystemTime(_ context.Context, node string, msg transport.AdjustSystemTime) error {
	return f.record(node, "AdjustSystemTime", msg)
}
func (f *FakeTransport) SendGeneralCommand(_ context.Context, node string, command string, payload json.RawMessage) error {
	return f.record(node, "GeneralCommand:"+command, payload)
}
