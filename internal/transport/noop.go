package transport

import (
	"context"
	"encoding/json"

	"github.com/yungbote/masterctl/internal/platform/logger"
)

// LoggingTransport is a placeholder AgentTransport that logs every send
// instead of moving bytes over a wire. The bidirectional agent hub
// itself is explicitly out of scope for this module (§1); a real
// deployment wires its own AgentTransport implementation (websocket,
// gRPC stream, message broker) and passes it to registry.New in place
// of this one.
type LoggingTransport struct {
	log *logger.Logger
}

func NewLoggingTransport(log *logger.Logger) *LoggingTransport {
	return &LoggingTransport{log: log.With("component", "LoggingTransport")}
}

func (t *LoggingTransport) SendPrepareForTask(ctx context.Context, node string, msg PrepareForTask) error {
	t.log.Debug("send PrepareForTask", "node", node, "task_id", msg.TaskID)
	return nil
}

func (t *LoggingTransport) SendSlaveTask(ctx context.Context, node string, msg SlaveTask) error {
	t.log.Debug("send SlaveTask", "node", node, "task_id", msg.TaskID, "task_type", msg.TaskType)
	return nil
}

func (t *LoggingTransport) SendCancelTask(ctx context.Context, node string, msg CancelTask) error {
	t.log.Debug("send CancelTask", "node", node, "task_id", msg.TaskID)
	return nil
}

func (t *LoggingTransport) SendRequestLogFlush(ctx context.Context, node string, msg RequestLogFlushForTask) error {
	t.log.Debug("send RequestLogFlushForTask", "node", node, "node_action_id", msg.NodeActionID)
	return nil
}

func (t *LoggingTransport) SendMasterStateUpdate(ctx context.Context, node string, msg MasterStateUpdate) error {
	t.log.Debug("send MasterStateUpdate", "node", node, "status", msg.Status)
	return nil
}

func (t *LoggingTransport) SendAdjustSystemTime(ctx context.Context, node string, msg AdjustSystemTime) error {
	t.log.Debug("send AdjustSystemTime", "node", node)
	return nil
}

func (t *LoggingTransport) SendGeneralCommand(ctx context.Context, node, command string, payload json.RawMessage) error {
	t.log.Debug("send general command", "node", node, "command", command)
	return nil
}
