package masteraction

// MasterActionStatus is the single status domain for a MasterAction's
// lifetime. The source system carried two overlapping enums for this
// (OperationOverallStatus and MasterActionStatus); they are unified here.
type MasterActionStatus string

const (
	StatusPending             MasterActionStatus = "Pending"
	StatusInProgress          MasterActionStatus = "InProgress"
	StatusCancelling          MasterActionStatus = "Cancelling"
	StatusSucceeded           MasterActionStatus = "Succeeded"
	StatusSucceededWithErrors MasterActionStatus = "SucceededWithErrors"
	StatusFailed              MasterActionStatus = "Failed"
	StatusCancelled           MasterActionStatus = "Cancelled"
)

func (s MasterActionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusSucceededWithErrors, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// NodeTaskStatus is the per-task state machine described in spec §3/§4.4.
type NodeTaskStatus string

const (
	// Pre-execution
	TaskPending             NodeTaskStatus = "Pending"
	TaskAwaitingReadiness   NodeTaskStatus = "AwaitingReadiness"
	TaskReadinessCheckSent  NodeTaskStatus = "ReadinessCheckSent"
	TaskReadyToExecute      NodeTaskStatus = "ReadyToExecute"
	TaskDispatched          NodeTaskStatus = "TaskDispatched"

	// Running
	TaskStarting    NodeTaskStatus = "Starting"
	TaskInProgress  NodeTaskStatus = "InProgress"
	TaskRetrying    NodeTaskStatus = "Retrying"

	// Cancellation
	TaskCancelling NodeTaskStatus = "Cancelling"

	// Terminal
	TaskSucceeded              NodeTaskStatus = "Succeeded"
	TaskSucceededWithIssues    NodeTaskStatus = "SucceededWithIssues"
	TaskFailed                 NodeTaskStatus = "Failed"
	TaskCancelled              NodeTaskStatus = "Cancelled"
	TaskCancellationFailed     NodeTaskStatus = "CancellationFailed"
	TaskNotReadyForTask        NodeTaskStatus = "NotReadyForTask"
	TaskReadinessCheckTimedOut NodeTaskStatus = "ReadinessCheckTimedOut"
	TaskDispatchFailedPrepare  NodeTaskStatus = "DispatchFailed_Prepare"
	TaskDispatchFailedExecute  NodeTaskStatus = "TaskDispatchFailed_Execute"
	TaskTimedOut               NodeTaskStatus = "TimedOut"
	TaskNodeOfflineDuringTask  NodeTaskStatus = "NodeOfflineDuringTask"
	TaskUnknown                NodeTaskStatus = "Unknown"
)

var terminalTaskStatuses = map[NodeTaskStatus]bool{
	TaskSucceeded:              true,
	TaskSucceededWithIssues:    true,
	TaskFailed:                 true,
	TaskCancelled:              true,
	TaskCancellationFailed:     true,
	TaskNotReadyForTask:        true,
	TaskReadinessCheckTimedOut: true,
	TaskDispatchFailedPrepare:  true,
	TaskDispatchFailedExecute:  true,
	TaskTimedOut:               true,
	TaskNodeOfflineDuringTask:  true,
	TaskUnknown:                true,
}

func (s NodeTaskStatus) Terminal() bool { return terminalTaskStatuses[s] }

// Connectivity is HealthMonitor's classification of a node.
type Connectivity string

const (
	ConnOnline        Connectivity = "Online"
	ConnUnreachable   Connectivity = "Unreachable"
	ConnOffline       Connectivity = "Offline"
	ConnNeverConnected Connectivity = "NeverConnected"
	ConnUnknown       Connectivity = "Unknown"
)
