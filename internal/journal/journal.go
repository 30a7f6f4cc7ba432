// Package journal implements the two-journal persistence layer (C1): a
// durable, filesystem-backed Action Journal tree per MasterAction, and an
// append-only Change Journal audit index. A sqlite mirror
// (internal/journal/changeindex) serves paginated change queries; the
// Change Journal log file remains the source of truth and the mirror is
// rebuildable from it.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/masterctl/internal/domain/masteraction"
	"github.com/yungbote/masterctl/internal/journal/changeindex"
	"github.com/yungbote/masterctl/internal/observability"
	"github.com/yungbote/masterctl/internal/platform/dbctx"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

var tracer = observability.Tracer("journal")

// LogRecord is the journal-internal shape for one log line, independent
// of whether it originated from a slave (tagged by nodeActionId) or from
// the Master itself (tagged by explicit stage coordinates).
type LogRecord struct {
	NodeActionID string
	NodeName     string
	TaskID       string
	Level        string
	Message      string
	Timestamp    time.Time
}

type stageRoute struct {
	actionID  string
	stageDir  string
	stageName string
	nodeNames map[string]struct{}
	mu        sync.Mutex
}

type Journal struct {
	root        string
	environment string
	log         *logger.Logger
	changeIdx   changeindex.Repo

	fsLocks *pathLocks

	mapMu sync.RWMutex

	actionDirs map[string]string // actionID -> action directory
	routes     map[string]*stageRoute // nodeActionId -> route
	actionNodeActions map[string]map[string]struct{} // actionID -> {nodeActionId}

	finalizedMu      sync.Mutex
	finalizedChanges map[string]struct{} // changeID -> already finalized
}

func New(root, environment string, log *logger.Logger, changeIdx changeindex.Repo) (*Journal, error) {
	if root == "" {
		return nil, fmt.Errorf("journal: root path required")
	}
	if environment == "" {
		environment = "default"
	}
	j := &Journal{
		root:              root,
		environment:       environment,
		log:               log.With("component", "Journal"),
		changeIdx:         changeIdx,
		fsLocks:           newPathLocks(),
		actionDirs:        make(map[string]string),
		routes:            make(map[string]*stageRoute),
		actionNodeActions: make(map[string]map[string]struct{}),
		finalizedChanges:  make(map[string]struct{}),
	}
	for _, dir := range []string{j.actionJournalRoot(), j.changeJournalRoot(), j.backupRepositoryRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create %s: %w", dir, err)
		}
	}
	return j, nil
}

// RecordActionInitiated creates the on-disk tree for a newly admitted
// MasterAction and appends its index-log line. Invariant 7: the
// directory is created exactly once, and exactly one index line is
// appended per admitted action.
func (j *Journal) RecordActionInitiated(ctx context.Context, action *masteraction.MasterAction) error {
	_, span := tracer.Start(ctx, "Journal.RecordActionInitiated")
	defer span.End()

	if action == nil {
		return fmt.Errorf("journal: nil action")
	}
	if _, exists := j.actionDir(action.ID); exists {
		return nil
	}
	dir := filepath.Join(j.actionJournalRoot(), actionDirName(action.ID, action.StartTime))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		j.log.Error("failed to create action directory", "error", err, "master_action_id", action.ID)
		return err
	}

	j.mapMu.Lock()
	j.actionDirs[action.ID] = dir
	j.mapMu.Unlock()

	snap := action.Snapshot()
	if err := j.writeJSON(infoPathFor(dir), snap); err != nil {
		j.log.Error("failed to write master_action_info.json", "error", err, "master_action_id", action.ID)
	}

	line := struct {
		ActionID  string    `json:"actionId"`
		Operation string    `json:"operationType"`
		Initiator string    `json:"initiator"`
		StartTime time.Time `json:"startTime"`
	}{action.ID, string(action.Operation), action.Initiator, action.StartTime}
	if err := j.appendIndexLine(j.actionIndexPath(), line); err != nil {
		j.log.Error("failed to append action_journal_index.log", "error", err, "master_action_id", action.ID)
	}
	return nil
}

// RecordActionCompleted finalizes the on-disk master_action_info.json
// with the terminal snapshot. It does not clear the in-memory routes;
// that is left to the caller via ClearMappings (so late-arriving logs for
// this run's stages are still routed until the coordinator explicitly clears).
func (j *Journal) RecordActionCompleted(ctx context.Context, action *masteraction.MasterAction) error {
	_, span := tracer.Start(ctx, "Journal.RecordActionCompleted")
	defer span.End()

	if action == nil {
		return fmt.Errorf("journal: nil action")
	}
	dir, ok := j.actionDir(action.ID)
	if !ok {
		j.log.Warn("RecordActionCompleted for unknown action", "master_action_id", action.ID)
		return nil
	}
	snap := action.Snapshot()
	if err := j.writeJSON(infoPathFor(dir), snap); err != nil {
		j.log.Error("failed to write terminal master_action_info.json", "error", err, "master_action_id", action.ID)
		return err
	}
	return nil
}

func (j *Journal) RecordStageInitiated(ctx context.Context, actionID string, index int, name string, input json.RawMessage) error {
	_, span := tracer.Start(ctx, "Journal.RecordStageInitiated")
	defer span.End()

	dir, ok := j.actionDir(actionID)
	if !ok {
		j.log.Warn("RecordStageInitiated for unknown action", "master_action_id", actionID)
		return nil
	}
	stageDir := j.stageDir(dir, index, name)
	for _, sub := range []string{"logs", "results"} {
		if err := os.MkdirAll(filepath.Join(stageDir, sub), 0o755); err != nil {
			j.log.Error("failed to create stage subdirectory", "error", err, "master_action_id", actionID, "stage_name", name)
			return err
		}
	}
	info := struct {
		Index     int             `json:"index"`
		Name      string          `json:"name"`
		StartTime time.Time       `json:"startTime"`
		Input     json.RawMessage `json:"input,omitempty"`
	}{index, name, time.Now().UTC(), input}
	if err := j.writeJSON(stageInfoPath(stageDir), info); err != nil {
		j.log.Error("failed to write stage_info.json", "error", err, "master_action_id", actionID, "stage_name", name)
	}
	return nil
}

func (j *Journal) RecordStageCompleted(ctx context.Context, actionID string, index int, name string, result map[string]interface{}) error {
	_, span := tracer.Start(ctx, "Journal.RecordStageCompleted")
	defer span.End()

	dir, ok := j.actionDir(actionID)
	if !ok {
		j.log.Warn("RecordStageCompleted for unknown action", "master_action_id", actionID)
		return nil
	}
	stageDir := j.stageDir(dir, index, name)
	if err := j.writeJSON(stageResultPath(stageDir), result); err != nil {
		j.log.Error("failed to write stage_result.json", "error", err, "master_action_id", actionID, "stage_name", name)
		return err
	}
	info := struct {
		Index   int       `json:"index"`
		Name    string    `json:"name"`
		EndTime time.Time `json:"endTime"`
	}{index, name, time.Now().UTC()}
	_ = j.writeJSON(stageInfoPath(stageDir)+".completed", info)
	return nil
}

// MapNodeActionToStage installs the stateless route used to send
// log/result arrivals that carry nodeActionId to the right stage
// directory, even after the stage's on-wire completion. Idempotent.
func (j *Journal) MapNodeActionToStage(ctx context.Context, actionID string, stageIndex int, stageName, nodeActionID string) error {
	_, span := tracer.Start(ctx, "Journal.MapNodeActionToStage")
	defer span.End()

	dir, ok := j.actionDir(actionID)
	if !ok {
		return fmt.Errorf("journal: MapNodeActionToStage: unknown action %s", actionID)
	}
	stageDir := j.stageDir(dir, stageIndex, stageName)

	j.mapMu.Lock()
	defer j.mapMu.Unlock()
	j.routes[nodeActionID] = &stageRoute{
		actionID:  actionID,
		stageDir:  stageDir,
		stageName: stageName,
		nodeNames: make(map[string]struct{}),
	}
	set := j.actionNodeActions[actionID]
	if set == nil {
		set = make(map[string]struct{})
		j.actionNodeActions[actionID] = set
	}
	set[nodeActionID] = struct{}{}
	return nil
}

// ClearMappings drops every route associated with actionID. A no-op on
// an unknown id (idempotence invariant).
func (j *Journal) ClearMappings(actionID string) {
	j.mapMu.Lock()
	defer j.mapMu.Unlock()
	set, ok := j.actionNodeActions[actionID]
	if !ok {
		return
	}
	for nodeActionID := range set {
		delete(j.routes, nodeActionID)
	}
	delete(j.actionNodeActions, actionID)
}

// AppendSlaveLogToStage routes entry (carrying entry.NodeActionID) to the
// stage directory it was mapped to. Unmapped logs are warned and
// dropped (invariant 4: every persisted entry's nodeActionId was at some
// earlier point registered).
func (j *Journal) AppendSlaveLogToStage(ctx context.Context, actionID string, entry LogRecord) error {
	_, span := tracer.Start(ctx, "Journal.AppendSlaveLogToStage")
	defer span.End()

	j.mapMu.RLock()
	route, ok := j.routes[entry.NodeActionID]
	j.mapMu.RUnlock()
	if !ok {
		j.log.Warn("dropping log for unmapped nodeActionId", "node_action_id", entry.NodeActionID, "master_action_id", actionID)
		return nil
	}
	path := nodeLogPath(route.stageDir, entry.NodeName)
	return j.appendLogLine(path, entry)
}

// AppendMasterLogToStage routes a Master-originated log line to the
// explicit stage coordinates carried by the ambient context (no
// nodeActionId involved).
func (j *Journal) AppendMasterLogToStage(ctx context.Context, actionID string, stageIndex int, stageName string, entry LogRecord) error {
	_, span := tracer.Start(ctx, "Journal.AppendMasterLogToStage")
	defer span.End()

	dir, ok := j.actionDir(actionID)
	if !ok {
		j.log.Warn("AppendMasterLogToStage for unknown action", "master_action_id", actionID)
		return nil
	}
	stageDir := j.stageDir(dir, stageIndex, stageName)
	return j.appendLogLine(masterLogPath(stageDir), entry)
}

func (j *Journal) RecordNodeTaskResult(ctx context.Context, actionID string, stageIndex int, stageName string, task *masteraction.NodeTask) error {
	_, span := tracer.Start(ctx, "Journal.RecordNodeTaskResult")
	defer span.End()

	dir, ok := j.actionDir(actionID)
	if !ok {
		j.log.Warn("RecordNodeTaskResult for unknown action", "master_action_id", actionID)
		return nil
	}
	stageDir := j.stageDir(dir, stageIndex, stageName)
	path := nodeTaskResultPath(stageDir, task.NodeName, task.TaskID)
	return j.writeJSON(path, task)
}

func (j *Journal) RecordMasterActionResult(ctx context.Context, actionID string, payload map[string]interface{}) error {
	_, span := tracer.Start(ctx, "Journal.RecordMasterActionResult")
	defer span.End()

	dir, ok := j.actionDir(actionID)
	if !ok {
		j.log.Warn("RecordMasterActionResult for unknown action", "master_action_id", actionID)
		return nil
	}
	return j.writeJSON(filepath.Join(dir, "result.json"), payload)
}

// InitiateStateChange writes the "Initiated" half of a Change Journal
// pair and returns its change id plus, for change types that stage a
// backup artifact, the backup destination directory.
func (j *Journal) InitiateStateChange(ctx context.Context, info masteraction.StateChangeInfo) (string, string, error) {
	_, span := tracer.Start(ctx, "Journal.InitiateStateChange")
	defer span.End()

	changeID := "chg-" + uuid.NewString()
	now := time.Now().UTC()
	rec := masteraction.SystemChangeRecord{
		Timestamp:             now,
		ChangeID:              changeID,
		EventType:             info.EventType + "Initiated",
		SourceMasterActionID:  info.SourceMasterActionID,
		Initiator:             info.Initiator,
		Description:           info.Description,
		Metadata:              info.Metadata,
	}
	if err := j.appendIndexLine(j.changeIndexPath(), rec); err != nil {
		j.log.Error("failed to append system_changes_index.log", "error", err, "change_id", changeID)
		return "", "", err
	}

	backupPath := ""
	if isBackupEligible(info.EventType) {
		backupPath = j.backupDestination(changeID, now)
		if err := os.MkdirAll(backupPath, 0o755); err != nil {
			j.log.Warn("failed to pre-create backup destination", "error", err, "change_id", changeID)
			backupPath = ""
		}
	}

	if j.changeIdx != nil {
		row := changeindex.ChangeRow{
			ChangeID:             changeID,
			Timestamp:            now,
			EventType:            rec.EventType,
			SourceMasterActionID: info.SourceMasterActionID,
			Initiator:            info.Initiator,
			Description:          info.Description,
			ArtifactPath:         backupPath,
		}
		if len(info.Metadata) > 0 {
			if raw, err := json.Marshal(info.Metadata); err != nil {
				j.log.Warn("failed to marshal change metadata, storing row without it", "error", err, "change_id", changeID)
			} else {
				row.Metadata = datatypes.JSON(raw)
			}
		}
		if err := j.changeIdx.RecordInitiated(dbctx.Context{Ctx: ctx}, row); err != nil {
			j.log.Warn("failed to mirror change-index row (log file remains authoritative)", "error", err, "change_id", changeID)
		}
	}

	return changeID, backupPath, nil
}

// FinalizeStateChange writes the outcome half of a Change Journal pair.
// A duplicate finalization for an already-finalized change id is
// ignored with a warning (idempotence invariant).
func (j *Journal) FinalizeStateChange(ctx context.Context, outcome masteraction.StateChangeOutcome) error {
	_, span := tracer.Start(ctx, "Journal.FinalizeStateChange")
	defer span.End()

	j.finalizedMu.Lock()
	if _, already := j.finalizedChanges[outcome.ChangeID]; already {
		j.finalizedMu.Unlock()
		j.log.Warn("ignoring duplicate FinalizeStateChange", "change_id", outcome.ChangeID)
		return nil
	}
	j.finalizedChanges[outcome.ChangeID] = struct{}{}
	j.finalizedMu.Unlock()

	rec := masteraction.SystemChangeRecord{
		Timestamp: time.Now().UTC(),
		ChangeID:  outcome.ChangeID,
		EventType: outcome.Outcome,
		Outcome:   outcome.Outcome,
		Description: outcome.Detail,
	}
	if err := j.appendIndexLine(j.changeIndexPath(), rec); err != nil {
		j.log.Error("failed to append finalize line", "error", err, "change_id", outcome.ChangeID)
		return err
	}
	if j.changeIdx != nil {
		if err := j.changeIdx.RecordFinalized(dbctx.Context{Ctx: ctx}, outcome.ChangeID, outcome.Outcome, time.Now().UTC()); err != nil {
			j.log.Warn("failed to mirror change-index finalize (log file remains authoritative)", "error", err, "change_id", outcome.ChangeID)
		}
	}
	return nil
}

func (j *Journal) ListChanges(ctx context.Context, f changeindex.Filter) ([]masteraction.SystemChangeRecord, int, error) {
	if j.changeIdx == nil {
		return nil, 0, fmt.Errorf("journal: change index not configured")
	}
	rows, total, err := j.changeIdx.List(dbctx.Context{Ctx: ctx}, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]masteraction.SystemChangeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, masteraction.SystemChangeRecord{
			Timestamp:             r.Timestamp,
			ChangeID:              r.ChangeID,
			EventType:             r.EventType,
			SourceMasterActionID:  r.SourceMasterActionID,
			Initiator:             r.Initiator,
			Description:           r.Description,
			Outcome:               r.Outcome,
			ArtifactPath:          r.ArtifactPath,
		})
	}
	return out, int(total), nil
}

func (j *Journal) GetLastSuccessfulChangeOfType(ctx context.Context, eventType string) (*masteraction.SystemChangeRecord, error) {
	if j.changeIdx == nil {
		return nil, fmt.Errorf("journal: change index not configured")
	}
	row, err := j.changeIdx.GetLastSuccessfulOfType(dbctx.Context{Ctx: ctx}, eventType+"Initiated")
	if err != nil || row == nil {
		return nil, err
	}
	return &masteraction.SystemChangeRecord{
		Timestamp:            row.Timestamp,
		ChangeID:             row.ChangeID,
		EventType:            row.EventType,
		SourceMasterActionID: row.SourceMasterActionID,
		Initiator:            row.Initiator,
		Description:          row.Description,
		Outcome:              row.Outcome,
		ArtifactPath:         row.ArtifactPath,
	}, nil
}

// GetArchivedAction reloads a completed MasterAction's snapshot from its
// master_action_info.json. Returns (nil, nil) if not found, matching
// JournalFailure's "not found to the caller" read semantics.
func (j *Journal) GetArchivedAction(ctx context.Context, id string) (*masteraction.MasterAction, error) {
	_, span := tracer.Start(ctx, "Journal.GetArchivedAction")
	defer span.End()

	entries, err := os.ReadDir(j.actionJournalRoot())
	if err != nil {
		return nil, nil
	}
	suffix := "-" + id
	for _, e := range entries {
		if !e.IsDir() || !hasSuffix(e.Name(), suffix) {
			continue
		}
		path := infoPathFor(filepath.Join(j.actionJournalRoot(), e.Name()))
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, nil
		}
		var action masteraction.MasterAction
		if err := json.Unmarshal(raw, &action); err != nil {
			j.log.Warn("failed to unmarshal archived action", "error", err, "master_action_id", id)
			return nil, nil
		}
		return &action, nil
	}
	return nil, nil
}

func isBackupEligible(eventType string) bool {
	switch eventType {
	case "PackageUpdate", "ConfigurationChange", "SystemRestore":
		return true
	default:
		return false
	}
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

func infoPathFor(actionDir string) string {
	return filepath.Join(actionDir, masterActionInfo)
}
