package communication

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ThreadMessage is a single contribution to an exchange thread.
type ThreadMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Thread records the bounded round-two exchange of one negotiation.
type Thread struct {
	ThreadID  string          `json:"thread_id"` // the negotiation id
	Title     string          `json:"title"`
	Creator   string          `json:"creator"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  []ThreadMessage `json:"messages"`
}

// Board stores exchange threads.
type Board struct {
	mu      sync.Mutex
	threads map[string]*Thread
}

func NewBoard() *Board {
	return &Board{threads: make(map[string]*Thread)}
}

// CreateThread creates a new thread, replacing any thread with the same id.
func (b *Board) CreateThread(threadID, title, creator string) Thread {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := &Thread{
		ThreadID:  threadID,
		Title:     title,
		Creator:   creator,
		CreatedAt: time.Now(),
		Messages:  []ThreadMessage{},
	}
	b.threads[threadID] = t
	return *t
}

// AddReply appends a message to an existing thread.
func (b *Board) AddReply(threadID, sender, content string) (ThreadMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.threads[threadID]
	if !ok {
		return ThreadMessage{}, fmt.Errorf("thread with id %s does not exist", threadID)
	}
	msg := ThreadMessage{
		ID:        uuid.New().String(),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now(),
	}
	t.Messages = append(t.Messages, msg)
	return msg, nil
}

// GetThread returns a copy of a thread.
func (b *Board) GetThread(threadID string) (Thread, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.threads[threadID]
	if !ok {
		return Thread{}, fmt.Errorf("thread with id %s not found", threadID)
	}
	out := *t
	out.Messages = append([]ThreadMessage(nil), t.Messages...)
	return out, nil
}

// Remove deletes a thread.
func (b *Board) Remove(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.threads, threadID)
}

// Threads returns every thread id, sorted.
func (b *Board) Threads() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.threads))
	for id := range b.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
