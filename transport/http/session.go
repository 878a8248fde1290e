package http

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slighter12/isocity-host-go/hoststate"
)

// StreamManager tracks the open state streams. Each stream keeps only the
// newest undelivered snapshot, so a slow client skips states instead of
// holding up the update loop.
type StreamManager struct {
	mu      sync.RWMutex
	streams map[string]*StreamSession
}

// StreamSession is one connected state stream.
type StreamSession struct {
	ID        string
	Created   time.Time
	RemoteIP  string
	Transport *EventStream
	latest    chan hoststate.State
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		streams: make(map[string]*StreamSession),
	}
}

// Open registers a stream for transport.
func (sm *StreamManager) Open(remoteIP string, transport *EventStream) *StreamSession {
	session := &StreamSession{
		ID:        uuid.NewString(),
		Created:   time.Now().UTC(),
		RemoteIP:  remoteIP,
		Transport: transport,
		latest:    make(chan hoststate.State, 1),
	}
	sm.mu.Lock()
	sm.streams[session.ID] = session
	sm.mu.Unlock()
	return session
}

// Remove closes and forgets the stream.
func (sm *StreamManager) Remove(id string) {
	sm.mu.Lock()
	session, exists := sm.streams[id]
	delete(sm.streams, id)
	sm.mu.Unlock()

	if exists {
		session.Transport.Close()
	}
}

// Broadcast offers state to every stream without blocking.
func (sm *StreamManager) Broadcast(state hoststate.State) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, session := range sm.streams {
		session.offer(state)
	}
}

func (sm *StreamManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.streams)
}

// CloseAll ends every stream.
func (sm *StreamManager) CloseAll() {
	sm.mu.Lock()
	streams := sm.streams
	sm.streams = make(map[string]*StreamSession)
	sm.mu.Unlock()

	for _, session := range streams {
		session.Transport.Close()
	}
}

func (s *StreamSession) offer(state hoststate.State) {
	for {
		select {
		case s.latest <- state:
			return
		default:
		}
		select {
		case <-s.latest:
		default:
		}
	}
}

// Updates delivers the newest snapshot not yet sent.
func (s *StreamSession) Updates() <-chan hoststate.State {
	return s.latest
}
