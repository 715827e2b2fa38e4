package notify

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
)

// ErrRejected is returned by MockSender for a target marked as failing.
var ErrRejected = errors.New("mock: delivery rejected")

// Message is one delivery recorded by MockSender.
type Message struct {
	Target string // Member ID or channel ID
	Text   string
	Direct bool
}

// MockSender records deliveries instead of sending them. It backs the
// check command and tests.
type MockSender struct {
	logger *slog.Logger
	fail   map[string]bool
	sent   []Message
	mu     sync.Mutex
}

// NewMockSender creates a new mock sender.
func NewMockSender(logger *slog.Logger) *MockSender {
	return &MockSender{
		logger: logger,
		fail:   make(map[string]bool),
	}
}

// FailMember makes direct messages to the member fail.
func (m *MockSender) FailMember(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[strconv.FormatInt(id, 10)] = true
}

// FailChannel makes posts to the channel fail.
func (m *MockSender) FailChannel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[id] = true
}

// SendDirect logs the message instead of sending it.
func (m *MockSender) SendDirect(_ context.Context, memberID int64, text string) error {
	return m.record(Message{Target: strconv.FormatInt(memberID, 10), Text: text, Direct: true})
}

// SendChannel logs the message instead of sending it.
func (m *MockSender) SendChannel(_ context.Context, channelID, text string) error {
	return m.record(Message{Target: channelID, Text: text})
}

func (m *MockSender) record(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[msg.Target] {
		return ErrRejected
	}
	m.sent = append(m.sent, msg)
	m.logger.Info("MOCK MESSAGE", "target", msg.Target, "direct", msg.Direct, "length", len(msg.Text))
	return nil
}

// Sent returns the recorded deliveries in order.
func (m *MockSender) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
