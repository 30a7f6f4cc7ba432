package masteraction

import (
	"encoding/json"
	"sync"
	"time"
)

// OperationType names the kind of workflow a MasterAction runs. Handlers
// are resolved by this string; see internal/masteraction.Registry.
type OperationType string

// NodeTask is one unit of work assigned to one node inside a NodeAction.
type NodeTask struct {
	TaskID         string         `json:"taskId"`
	NodeName       string         `json:"nodeName"`
	TaskType       string         `json:"taskType"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	TargetResource string         `json:"targetResource,omitempty"`
	TimeoutSeconds int            `json:"timeoutSeconds"`

	Status         NodeTaskStatus         `json:"status"`
	StatusMessage  string                 `json:"statusMessage,omitempty"`
	ProgressPercent int                   `json:"progressPercent"`
	StartTime      *time.Time             `json:"startTime,omitempty"`
	EndTime        *time.Time             `json:"endTime,omitempty"`
	LastUpdateTime time.Time              `json:"lastUpdateTime"`
	Result         map[string]interface{} `json:"result,omitempty"`
}

func (t *NodeTask) ClampProgress() {
	if t.ProgressPercent < 0 {
		t.ProgressPercent = 0
	}
	if t.ProgressPercent > 100 {
		t.ProgressPercent = 100
	}
}

// NodeAction is the Dispatcher's view of a Stage: a bag of NodeTasks
// sharing one id used to correlate slave<->master messages independent
// of the stage's durable name.
type NodeAction struct {
	ID    string
	Tasks []*NodeTask
}

func (na *NodeAction) Task(taskID string) *NodeTask {
	for _, t := range na.Tasks {
		if t.TaskID == taskID {
			return t
		}
	}
	return nil
}

// Stage is one step of a MasterAction.
type Stage struct {
	Index      int                    `json:"index"`
	Name       string                 `json:"name"`
	StartTime  *time.Time             `json:"startTime,omitempty"`
	EndTime    *time.Time             `json:"endTime,omitempty"`
	Input      json.RawMessage        `json:"input,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Success    bool                   `json:"success"`
	NodeTasks  []*NodeTask            `json:"nodeTasks"`
	NodeAction *NodeAction            `json:"-"`
}

func (s *Stage) Terminal() bool {
	if len(s.NodeTasks) == 0 {
		return s.EndTime != nil
	}
	for _, t := range s.NodeTasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

const recentLogCapacity = 200

// MasterAction is a user-initiated workflow run. Mutation is confined to
// the action's owning goroutine plus typed progress messages delivered by
// the Dispatcher/HealthMonitor; concurrent readers must call Snapshot.
type MasterAction struct {
	mu sync.Mutex

	ID          string                 `json:"id"`
	Operation   OperationType          `json:"operationType"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Initiator   string                 `json:"initiator"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	Status          MasterActionStatus `json:"status"`
	ProgressPercent int                `json:"progressPercent"`

	recentLogs []string
	Result     map[string]interface{} `json:"result,omitempty"`

	Stages      []*Stage `json:"stages"`
	ActiveStage *Stage   `json:"-"`
}

func New(id string, op OperationType, name, description, initiator string, params map[string]interface{}) *MasterAction {
	p := make(map[string]interface{}, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &MasterAction{
		ID:          id,
		Operation:   op,
		Name:        name,
		Description: description,
		Initiator:   initiator,
		Parameters:  p,
		StartTime:   time.Now().UTC(),
		Status:      StatusPending,
	}
}

// AppendLog appends to the bounded ring buffer of recent log lines.
func (a *MasterAction) AppendLog(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentLogs = append(a.recentLogs, line)
	if over := len(a.recentLogs) - recentLogCapacity; over > 0 {
		a.recentLogs = a.recentLogs[over:]
	}
}

func (a *MasterAction) RecentLogs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.recentLogs))
	copy(out, a.recentLogs)
	return out
}

// SetStatus transitions the action's overall status, stamping endTime iff
// the new status is terminal. Once terminal, further calls are ignored.
func (a *MasterAction) SetStatus(status MasterActionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Status.Terminal() {
		return
	}
	a.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		a.EndTime = &now
	}
}

func (a *MasterAction) SetProgress(pct int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	a.ProgressPercent = pct
}

func (a *MasterAction) SetResult(result map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Result = result
}

func (a *MasterAction) PushStage(st *Stage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ActiveStage = st
	a.Stages = append(a.Stages, st)
}

func (a *MasterAction) FinishActiveStage() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ActiveStage = nil
}

// Snapshot returns a shallow copy safe for UI projection by readers that
// are not the owning goroutine.
func (a *MasterAction) Snapshot() MasterAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *a
	cp.mu = sync.Mutex{}
	cp.recentLogs = append([]string(nil), a.recentLogs...)
	cp.Stages = append([]*Stage(nil), a.Stages...)
	return cp
}

func (a *MasterAction) GetStatus() MasterActionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Status
}
