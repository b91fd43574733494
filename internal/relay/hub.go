package relay

import (
	"context"
	"errors"
	"sync"
)

// ErrTabClosed is returned when posting to a detached tab.
var ErrTabClosed = errors.New("tab closed")

const tabBuffer = 16

// Hub is an in-process Clients implementation: every attached Tab receives
// broadcast messages on its own buffered channel.
type Hub struct {
	mu   sync.Mutex
	tabs []*Tab
}

func NewHub() *Hub { return &Hub{} }

// Attach registers a page at url.
func (h *Hub) Attach(url string) *Tab {
	t := &Tab{hub: h, url: url, messages: make(chan Message, tabBuffer)}
	h.mu.Lock()
	h.tabs = append(h.tabs, t)
	h.mu.Unlock()
	return t
}

func (h *Hub) MatchAll(_ context.Context) ([]Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Client, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, t)
	}
	return out, nil
}

func (h *Hub) OpenWindow(ctx context.Context, url string) (Client, error) {
	t := h.Attach(url)
	return t, t.Focus(ctx)
}

// Tabs returns the attached tabs in attach order.
func (h *Hub) Tabs() []*Tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Tab(nil), h.tabs...)
}

func (h *Hub) detach(t *Tab) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.tabs {
		if cur == t {
			h.tabs = append(h.tabs[:i], h.tabs[i+1:]...)
			return
		}
	}
}

// Tab is one page attached to a Hub.
type Tab struct {
	hub      *Hub
	url      string
	messages chan Message

	mu      sync.Mutex
	focused bool
	closed  bool
}

func (t *Tab) URL() string { return t.url }

func (t *Tab) Focus(_ context.Context) error {
	t.mu.Lock()
	t.focused = true
	t.mu.Unlock()
	return nil
}

func (t *Tab) Focused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.focused
}

// PostMessage never blocks; a full buffer drops the message.
func (t *Tab) PostMessage(msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTabClosed
	}
	select {
	case t.messages <- msg:
		return nil
	default:
		return errors.New("tab message buffer full")
	}
}

// Messages is closed when the tab is closed.
func (t *Tab) Messages() <-chan Message { return t.messages }

func (t *Tab) Close() {
	t.hub.detach(t)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.messages)
	}
}
