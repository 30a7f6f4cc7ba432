// Package logforward implements the LogForwarder (C6): an ordered,
// asynchronous queue that receives Master-side log events tagged with
// ambient MasterActionId/Stage info and dispatches each to both the
// UINotifier and the Journal, with a flush barrier for strict ordering
// guarantees.
package logforward

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/masterctl/internal/ambient"
	"github.com/yungbote/masterctl/internal/journal"
	"github.com/yungbote/masterctl/internal/notify"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

// Journal is the narrow slice of the Journal contract LogForwarder uses.
type Journal interface {
	AppendMasterLogToStage(ctx context.Context, actionID string, stageIndex int, stageName string, entry journal.LogRecord) error
}

type logItem struct {
	actionID   string
	stageIndex int
	stageName  string
	level      string
	message    string
	ts         time.Time
}

type flushMarker struct {
	done chan struct{}
}

type Forwarder struct {
	log      *logger.Logger
	journal  Journal
	notifier notify.UINotifier

	queue chan interface{}

	closeOnce sync.Once
	closed    chan struct{}
}

func New(queueSize int, log *logger.Logger, j Journal, notifier notify.UINotifier) *Forwarder {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &Forwarder{
		log:      log.With("component", "LogForwarder"),
		journal:  j,
		notifier: notifier,
		queue:    make(chan interface{}, queueSize),
		closed:   make(chan struct{}),
	}
}

// Log enqueues a Master-side log line. The ambient MasterActionId (and
// stage, when present) is read from ctx; if absent, the event is
// ignored, matching spec §4.6.
func (f *Forwarder) Log(ctx context.Context, level, message string) {
	d := ambient.FromContext(ctx)
	if d.MasterActionID == "" {
		return
	}
	item := logItem{
		actionID:   d.MasterActionID,
		stageIndex: d.StageIndex,
		stageName:  d.StageName,
		level:      level,
		message:    message,
		ts:         time.Now().UTC(),
	}
	select {
	case <-f.closed:
	case f.queue <- item:
	}
}

// Flush blocks until every event enqueued before this call has been
// processed by the consumer loop, or ctx is cancelled. After Close it
// returns nil at once without waiting.
func (f *Forwarder) Flush(ctx context.Context) error {
	marker := flushMarker{done: make(chan struct{})}
	select {
	case <-f.closed:
		return nil
	case f.queue <- marker:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the single consumer loop; it must run in its own goroutine for
// the lifetime of the process.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-f.queue:
			switch item := raw.(type) {
			case logItem:
				f.dispatch(ctx, item)
			case flushMarker:
				close(item.done)
			}
		}
	}
}

func (f *Forwarder) dispatch(ctx context.Context, item logItem) {
	if f.journal != nil {
		if err := f.journal.AppendMasterLogToStage(ctx, item.actionID, item.stageIndex, item.stageName, journal.LogRecord{
			NodeName:  "_master",
			Level:     item.level,
			Message:   item.message,
			Timestamp: item.ts,
		}); err != nil {
			f.log.Warn("failed to journal master log line", "error", err, "master_action_id", item.actionID)
		}
	}
	if f.notifier != nil {
		f.notifier.Publish(notify.Event{
			Type:      notify.EventOperationLogEntry,
			Timestamp: item.ts,
			Payload: notify.OperationLogEntryPayload{
				MasterActionID: item.actionID,
				NodeName:       "_master",
				StageName:      item.stageName,
				Level:          item.level,
				Message:        item.message,
			},
		})
	}
}

// Close stops accepting new events. Already-queued events continue to
// drain via Run until ctx passed to Run is cancelled; Close does not
// wait for the drain.
func (f *Forwarder) Close() {
	f.closeOnce.Do(func() { close(f.closed) })
}
