// Package transport defines the wire message shapes exchanged between the
// Master and slave agents, and the narrow interfaces the orchestration
// core consumes from the transport hub. The hub implementation itself
// (connection handling, framing, reconnect policy) is out of scope for
// this module; AgentTransport is the seam.
package transport

import "encoding/json"

// Master -> Slave

type PrepareForTask struct {
	NodeActionID              string          `json:"nodeActionId"`
	TaskID                    string          `json:"taskId"`
	ExpectedTaskType          string          `json:"expectedTaskType"`
	PreparationParametersJSON json.RawMessage `json:"preparationParametersJson,omitempty"`
	TargetResource            string          `json:"targetResource,omitempty"`
}

type SlaveTask struct {
	NodeActionID   string          `json:"nodeActionId"`
	TaskID         string          `json:"taskId"`
	TaskType       string          `json:"taskType"`
	ParametersJSON json.RawMessage `json:"parametersJson,omitempty"`
	TimeoutSeconds int             `json:"timeoutSeconds"`
}

type CancelTask struct {
	NodeActionID string `json:"nodeActionId"`
	TaskID       string `json:"taskId"`
	Reason       string `json:"reason"`
}

type RequestLogFlushForTask struct {
	NodeActionID string `json:"nodeActionId"`
}

type MasterStateUpdate struct {
	Status string `json:"status"`
}

type AdjustSystemTime struct {
	EpochMillis int64 `json:"epochMillis"`
}

// Slave -> Master

type Heartbeat struct {
	NodeName        string  `json:"nodeName"`
	Timestamp       int64   `json:"timestamp"`
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
	RAMUsagePercent float64 `json:"ramUsagePercent"`
}

type ReadinessReport struct {
	TaskID         string `json:"taskId"`
	IsReady        bool   `json:"isReady"`
	ReasonIfNotReady string `json:"reasonIfNotReady,omitempty"`
}

type TaskProgressUpdate struct {
	NodeActionID    string          `json:"nodeActionId"`
	TaskID          string          `json:"taskId"`
	Status          string          `json:"status"`
	ProgressPercent *int            `json:"progressPercent,omitempty"`
	Message         string          `json:"message,omitempty"`
	ResultJSON      json.RawMessage `json:"resultJson,omitempty"`
	TimestampUTC    int64           `json:"timestampUtc"`
}

type LogEntry struct {
	NodeActionID string `json:"nodeActionId"`
	TaskID       string `json:"taskId,omitempty"`
	NodeName     string `json:"nodeName"`
	TimestampUTC int64  `json:"timestampUtc"`
	LogLevel     string `json:"logLevel"`
	LogMessage   string `json:"logMessage"`
}

type DiagnosticsReport struct {
	NodeName    string                 `json:"nodeName"`
	Summary     string                 `json:"summary"`
	Diagnostics map[string]interface{} `json:"diagnostics,omitempty"`
}

type LogFlushConfirmation struct {
	NodeActionID string `json:"nodeActionId"`
	NodeName     string `json:"nodeName"`
}
