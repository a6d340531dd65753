package main

import (
	"github.com/snarg/meeting-copilot/internal/api"
	"github.com/snarg/meeting-copilot/internal/feedback"
	"github.com/snarg/meeting-copilot/internal/ingest"
	"github.com/snarg/meeting-copilot/internal/orchestrator"
	"github.com/snarg/meeting-copilot/internal/speech"
)

// liveState exposes running pipeline state to the API and the metrics
// collector. player may be nil when speech is disabled.
type liveState struct {
	orch    *orchestrator.Orchestrator
	watcher *ingest.ChangeWatcher
	guard   *feedback.Guard
	player  *speech.Player
	bus     *ingest.EventBus
}

func (l *liveState) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	return l.bus.Subscribe(filter)
}

func (l *liveState) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	return l.bus.ReplaySince(lastEventID, filter)
}

func (l *liveState) WatcherStatus() *api.WatcherStatusData { return l.watcher.Status() }

func (l *liveState) SpeechStatus() *api.SpeechStatusData {
	if l.player == nil {
		return nil
	}
	s := l.player.Stats()
	return &api.SpeechStatusData{
		Playing:   s.Playing,
		Pending:   s.Pending,
		Completed: s.Completed,
		Failed:    s.Failed,
	}
}

func (l *liveState) InFlight() int { return l.orch.InFlight() }

func (l *liveState) WatcherOffset() int64 { return l.watcher.Offset() }

func (l *liveState) RecentResponses() int { return l.guard.RecentCount() }

func (l *liveState) SpeechQueueDepth() int {
	if l.player == nil {
		return 0
	}
	return l.player.QueueDepth()
}

func (l *liveState) SSESubscriberCount() int { return l.bus.SubscriberCount() }
