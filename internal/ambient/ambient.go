// Package ambient carries request- and action-scoped tags through a
// context.Context so call sites can log consistently without threading
// extra parameters through every function signature.
package ambient

import "context"

type dataKey struct{}

// Data is immutable once attached to a context. Derive a new value with
// With* and re-attach it rather than mutating a shared instance.
type Data struct {
	RequestID     string
	TraceID       string
	MasterActionID string
	NodeActionID  string
	NodeID        string
	StageIndex    int
	StageName     string
}

func WithData(ctx context.Context, d *Data) context.Context {
	return context.WithValue(ctx, dataKey{}, d)
}

func FromContext(ctx context.Context) *Data {
	if d, ok := ctx.Value(dataKey{}).(*Data); ok {
		return d
	}
	return &Data{}
}

func clone(ctx context.Context) Data {
	return *FromContext(ctx)
}

func WithRequest(ctx context.Context, requestID, traceID string) context.Context {
	d := clone(ctx)
	d.RequestID = requestID
	d.TraceID = traceID
	return WithData(ctx, &d)
}

func WithMasterAction(ctx context.Context, masterActionID string) context.Context {
	d := clone(ctx)
	d.MasterActionID = masterActionID
	return WithData(ctx, &d)
}

func WithStage(ctx context.Context, index int, name string) context.Context {
	d := clone(ctx)
	d.StageIndex = index
	d.StageName = name
	return WithData(ctx, &d)
}

func WithNodeAction(ctx context.Context, nodeActionID, nodeID string) context.Context {
	d := clone(ctx)
	d.NodeActionID = nodeActionID
	d.NodeID = nodeID
	return WithData(ctx, &d)
}

// LogFields flattens the ambient tags present on ctx into zap-style
// key/value pairs, omitting anything left at its zero value.
func LogFields(ctx context.Context) []interface{} {
	d := FromContext(ctx)
	fields := make([]interface{}, 0, 14)
	if d.RequestID != "" {
		fields = append(fields, "request_id", d.RequestID)
	}
	if d.TraceID != "" {
		fields = append(fields, "trace_id", d.TraceID)
	}
	if d.MasterActionID != "" {
		fields = append(fields, "master_action_id", d.MasterActionID)
	}
	if d.NodeActionID != "" {
		fields = append(fields, "node_action_id", d.NodeActionID)
	}
	if d.NodeID != "" {
		fields = append(fields, "node_id", d.NodeID)
	}
	if d.StageName != "" {
		fields = append(fields, "stage_index", d.StageIndex, "stage_name", d.StageName)
	}
	return fields
}
