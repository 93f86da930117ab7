package recording

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/mediagraph"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
	"github.com/wirow-io/wirow-server-sub001/pkg/queue"
)

// roomSession tracks the export set and timing for one room's recording run.
type roomSession struct {
	mu        sync.Mutex
	startedAt time.Time
	baseDir   string
	exports   map[uint64]*Export // keyed by producer id
	numStarts int
}

// Service is the room-level recording controller: it decides when a
// producer gets an export, tears every export down on stop, and enqueues
// the post-processing job once a room with recording sessions closes.
type Service struct {
	graph   *mediagraph.Graph
	queue   *queue.Queue
	baseDir string
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[uint64]*roomSession // keyed by room id
}

// NewService wires a recording controller on top of an already-running
// media graph, subscribing to its event bus for room-closed driven
// automation. Producers are auto-started through OnProducerReady, which the
// signaling layer calls, not through bus events.
func NewService(g *mediagraph.Graph, q *queue.Queue, baseDir string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		graph:    g,
		queue:    q,
		baseDir:  baseDir,
		log:      log,
		sessions: make(map[uint64]*roomSession),
	}
	g.Bus().Subscribe(s.handleEvent)
	return s
}

func (s *Service) handleEvent(n rpc.Notification) {
	switch n.Kind {
	case rpc.EventRoomClosed:
		s.onRoomClosed(n.TargetID)
	}
}

// Start begins recording room: every member's currently-resolvable producer
// gets an export, has_started_recording flips on, and num_recording_sessions
// is incremented.
func (s *Service) Start(ctx context.Context, room *mediagraph.Room) error {
	dir := filepath.Join(s.baseDir, room.CID)

	s.mu.Lock()
	session, ok := s.sessions[room.Base.ID]
	if !ok {
		session = &roomSession{startedAt: time.Now(), baseDir: dir, exports: make(map[uint64]*Export)}
		s.sessions[room.Base.ID] = session
	}
	s.mu.Unlock()

	session.mu.Lock()
	session.numStarts++
	session.mu.Unlock()

	room.SetRecording(true)

	for _, member := range room.Members() {
		for _, pid := range member.ProducerIDs() {
			producer, ok := s.graph.ResolveProducer(pid)
			if !ok {
				continue
			}
			if err := s.exportProducer(ctx, session, producer, member.UserID); err != nil {
				s.log.Error("start producer export", zap.Error(err), zap.Uint64("producer_id", pid))
			}
		}
	}
	return nil
}

// Stop closes every export belonging to room and flips has_started_recording
// off; num_recording_sessions is left untouched (it is a lifetime counter
// consulted by post-processing, per room.SetRecording's contract).
func (s *Service) Stop(room *mediagraph.Room) {
	s.mu.Lock()
	session, ok := s.sessions[room.Base.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	session.mu.Lock()
	ids := make([]uint64, 0, len(session.exports))
	for _, e := range session.exports {
		ids = append(ids, e.Base())
	}
	session.mu.Unlock()

	for _, id := range ids {
		s.graph.Close(id)
	}

	room.SetRecording(false)
}

// OnProducerReady is called by the signaling layer right after a producer is
// created or resumed; it auto-starts an export for it when the owning room
// has already started recording and no export exists for it yet.
func (s *Service) OnProducerReady(ctx context.Context, room *mediagraph.Room, producer *mediagraph.Producer, userID string) {
	if !room.HasStartedRecording() {
		return
	}
	s.mu.Lock()
	session, ok := s.sessions[room.Base.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	session.mu.Lock()
	_, exists := session.exports[producer.Base.ID]
	session.mu.Unlock()
	if exists {
		return
	}

	if err := s.exportProducer(ctx, session, producer, userID); err != nil {
		s.log.Error("auto-start producer export", zap.Error(err), zap.Uint64("producer_id", producer.Base.ID))
	}
}

func (s *Service) exportProducer(ctx context.Context, session *roomSession, producer *mediagraph.Producer, userID string) error {
	session.mu.Lock()
	relativeMs := time.Since(session.startedAt).Milliseconds()
	baseDir := session.baseDir
	session.mu.Unlock()

	export, err := newProducerExport(ctx, s.graph, producer, filepath.Base(baseDir), userID, baseDir, relativeMs, true, s.log)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}

	session.mu.Lock()
	session.exports[producer.Base.ID] = export
	session.mu.Unlock()
	return nil
}

// onRoomClosed drops the room's bookkeeping and, if it ever started
// recording, enqueues the post-processing job over the exported files.
func (s *Service) onRoomClosed(roomID uint64) {
	s.mu.Lock()
	session, ok := s.sessions[roomID]
	if ok {
		delete(s.sessions, roomID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.log.Info("room recording session ended", zap.Uint64("room_id", roomID), zap.String("base_dir", session.baseDir))

	session.mu.Lock()
	started := session.numStarts > 0
	session.mu.Unlock()
	if !started || s.queue == nil {
		return
	}
	payload := queue.PostProcessPayload{RoomCID: filepath.Base(session.baseDir), BaseDir: session.baseDir}
	if err := s.queue.EnqueuePostProcess(context.Background(), payload); err != nil {
		s.log.Error("enqueue post-process job", zap.Error(err), zap.Uint64("room_id", roomID))
	}
}
