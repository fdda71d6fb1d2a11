package slack

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ThreadStatus tracks where a chat thread sits in its conversation
// lifecycle.
type ThreadStatus string

const (
	// ThreadActive is a freshly mapped thread with no work queued yet.
	ThreadActive ThreadStatus = "active"
	// ThreadProcessing means the agent is working a prompt from this
	// thread. Processing threads survive idle eviction.
	ThreadProcessing ThreadStatus = "processing"
	// ThreadWaiting means the agent replied and expects more input.
	ThreadWaiting ThreadStatus = "waiting"
	// ThreadCompleted marks a conversation closed from chat.
	ThreadCompleted ThreadStatus = "completed"
	// ThreadError marks a thread abandoned mid-processing.
	ThreadError ThreadStatus = "error"
)

// ThreadInfo is the mapping payload for one chat thread.
type ThreadInfo struct {
	ChannelID string       `json:"channelID"`
	ThreadTS  string       `json:"threadTS"`
	UserID    string       `json:"userID"` // user whose mention opened the thread
	Status    ThreadStatus `json:"status"`
}

// ThreadKey builds the mapping key for one thread.
func ThreadKey(channelID, threadTS string) string {
	return channelID + ":" + threadTS
}

// ChannelScope extracts the channel from a thread key, grouping all of
// a channel's threads under one scope.
func ChannelScope(key string) string {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i]
	}
	return key
}

// ThreadMessage is one recorded user message inside a mapped thread.
type ThreadMessage struct {
	TS         string    `json:"ts"`
	Key        string    `json:"key"`
	UserID     string    `json:"userID"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// MessageStore is an in-memory table of thread messages keyed by their
// timestamp. Rows live exactly as long as their thread mapping; the
// adapter mass-deletes them when the mapping goes.
type MessageStore struct {
	mu   sync.Mutex
	byTS map[string]ThreadMessage
}

// NewMessageStore builds an empty message table.
func NewMessageStore() *MessageStore {
	return &MessageStore{byTS: make(map[string]ThreadMessage)}
}

// Put records a message, replacing any previous one with the same ts.
func (s *MessageStore) Put(m ThreadMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTS[m.TS] = m
}

// ForKey returns the messages recorded for a thread, oldest first.
// Chat timestamps are fixed-width seconds.micros strings, so string
// order is chronological order.
func (s *MessageStore) ForKey(key string) []ThreadMessage {
	s.mu.Lock()
	var out []ThreadMessage
	for _, m := range s.byTS {
		if m.Key == key {
			out = append(out, m)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out
}

// DeleteForKey drops every message recorded for a thread, returning the
// number removed.
func (s *MessageStore) DeleteForKey(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ts, m := range s.byTS {
		if m.Key == key {
			delete(s.byTS, ts)
			n++
		}
	}
	return n
}

// Count returns the number of recorded messages.
func (s *MessageStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTS)
}
