package transport

import (
	"context"
	"encoding/json"
)

// AgentTransport is the seam the orchestration core uses to reach a
// connected slave agent. A production implementation frames these sends
// over the bidirectional hub connection keyed by node name; tests can
// supply a fake that records sends.
type AgentTransport interface {
	SendPrepareForTask(ctx context.Context, node string, msg PrepareForTask) error
	SendSlaveTask(ctx context.Context, node string, msg SlaveTask) error
	SendCancelTask(ctx context.Context, node string, msg CancelTask) error
	SendRequestLogFlush(ctx context.Context, node string, msg RequestLogFlushForTask) error
	SendMasterStateUpdate(ctx context.Context, node string, msg MasterStateUpdate) error
	SendAdjustSystemTime(ctx context.Context, node string, msg AdjustSystemTime) error
	SendGeneralCommand(ctx context.Context, node string, command string, payload json.RawMessage) error
}
