package masteraction

import "time"

// SystemChangeRecord is one row of the append-only Change Journal. A
// change is recorded as a pair: an Initiated row followed (eventually) by
// an outcome row sharing the same ChangeID.
type SystemChangeRecord struct {
	Timestamp           time.Time `json:"timestamp"`
	ChangeID             string    `json:"changeId"`
	EventType            string    `json:"eventType"`
	SourceMasterActionID string    `json:"sourceMasterActionId"`
	Initiator            string    `json:"initiator"`
	Description          string    `json:"description"`
	Outcome              string    `json:"outcome,omitempty"`
	ArtifactPath         string    `json:"artifactPath,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// StateChangeInfo is the input to Journal.InitiateStateChange. Metadata
// carries change-type-specific structured context (e.g. the set of
// config keys touched by a ConfigurationChange, or the node name and
// connectivity behind a NodeConnectivityChange) that doesn't fit the flat
// Description string.
type StateChangeInfo struct {
	EventType            string
	SourceMasterActionID string
	Initiator            string
	Description          string
	Metadata             map[string]interface{}
}

// StateChangeOutcome is the input to Journal.FinalizeStateChange.
type StateChangeOutcome struct {
	ChangeID string
	Outcome  string // "Success" | "Failure"
	Detail   string
}

const (
	OutcomeSuccess = "Success"
	OutcomeFailure = "Failure"

	SourceSystemEvent       = "system-event"
	SourceSystemHealthMonitor = "system-health-monitor"
)
