// Package changeindex is a queryable sqlite mirror of the Change
// Journal's append-only log file. The log file at
// ChangeJournal/system_changes_index.log is the source of truth; this
// index exists only to serve ListChanges pagination/filtering without
// re-scanning the log on every request, and can be rebuilt from it.
package changeindex

import (
	"time"

	"gorm.io/datatypes"
)

type ChangeRow struct {
	ChangeID              string    `gorm:"column:change_id;primaryKey" json:"changeId"`
	Timestamp             time.Time `gorm:"column:timestamp;index" json:"timestamp"`
	EventType             string    `gorm:"column:event_type;index" json:"eventType"`
	SourceMasterActionID  string    `gorm:"column:source_master_action_id;index" json:"sourceMasterActionId"`
	Initiator             string    `gorm:"column:initiator" json:"initiator"`
	Description           string    `gorm:"column:description" json:"description"`
	Outcome               string    `gorm:"column:outcome;index" json:"outcome"`
	ArtifactPath          string    `gorm:"column:artifact_path" json:"artifactPath,omitempty"`
	Metadata              datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	FinalizedAt           *time.Time `gorm:"column:finalized_at" json:"finalizedAt,omitempty"`
}

func (ChangeRow) TableName() string { return "change_journal_index" }
