// internal/services/event_service.go
package services

import (
	"sync"
	"time"
)

// Event types streamed to session subscribers.
const (
	EventScene   = "scene"
	EventCombat  = "combat"
	EventNPC     = "npc"
	EventTrigger = "trigger"
	EventSave    = "save"
	EventWarning = "warning"
	EventError   = "error"
)

// GameEvent is one message of a session feed.
type GameEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// eventFeed fans events of one session out to its subscribers.
type eventFeed struct {
	subscribers map[chan GameEvent]bool
}

// EventService keeps one feed per session. Sends never block: a subscriber
// whose buffer is full misses the event.
type EventService struct {
	feeds map[string]*eventFeed
	mutex sync.RWMutex
}

func NewEventService() *EventService {
	return &EventService{feeds: make(map[string]*eventFeed)}
}

// Publish delivers ev to every subscriber of its session.
func (s *EventService) Publish(ev GameEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	feed, ok := s.feeds[ev.SessionID]
	if !ok {
		return
	}
	for subscriber := range feed.subscribers {
		select {
		case subscriber <- ev:
		default:
		}
	}
}

// Subscribe opens a buffered channel for a session's events.
func (s *EventService) Subscribe(sessionID string) chan GameEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	feed, ok := s.feeds[sessionID]
	if !ok {
		feed = &eventFeed{subscribers: make(map[chan GameEvent]bool)}
		s.feeds[sessionID] = feed
	}
	subscriber := make(chan GameEvent, 16)
	feed.subscribers[subscriber] = true
	return subscriber
}

// Unsubscribe closes the channel and drops the feed when it is empty.
func (s *EventService) Unsubscribe(sessionID string, subscriber chan GameEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	feed, ok := s.feeds[sessionID]
	if !ok {
		return
	}
	if _, ok := feed.subscribers[subscriber]; !ok {
		return
	}
	delete(feed.subscribers, subscriber)
	close(subscriber)
	if len(feed.subscribers) == 0 {
		delete(s.feeds, sessionID)
	}
}

// CloseSession closes every subscriber of a session.
func (s *EventService) CloseSession(sessionID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	feed, ok := s.feeds[sessionID]
	if !ok {
		return
	}
	for subscriber := range feed.subscribers {
		close(subscriber)
	}
	delete(s.feeds, sessionID)
}

// SubscriberCount reports how many channels listen to a session.
func (s *EventService) SubscriberCount(sessionID string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if feed, ok := s.feeds[sessionID]; ok {
		return len(feed.subscribers)
	}
	return 0
}
