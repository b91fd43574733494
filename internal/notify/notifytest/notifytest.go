// Package notifytest provides a recording Notifier for tests.
package notifytest

import (
	"context"
	"sync"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/notify"
)

// Sent is one recorded Notify call.
type Sent struct {
	Contact domain.Contact
	Message notify.Message
}

// Recorder records every message and returns Err when set.
type Recorder struct {
	Kind domain.ChannelKind

	mu   sync.Mutex
	err  error
	sent []Sent
}

func NewRecorder(kind domain.ChannelKind) *Recorder {
	return &Recorder{Kind: kind}
}

func (r *Recorder) Channel() domain.ChannelKind { return r.Kind }

func (r *Recorder) Notify(_ context.Context, c domain.Contact, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Contact: c, Message: msg})
	return r.err
}

// FailWith makes every following Notify call return err. nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Last returns the most recent message, or false when nothing was sent.
func (r *Recorder) Last() (notify.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return notify.Message{}, false
	}
	return r.sent[len(r.sent)-1].Message, true
}
