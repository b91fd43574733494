package client

import (
	"context"
	"sync"
	"time"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"

	"github.com/sirupsen/logrus"
)

const (
	DefaultWatchInterval    = 5 * time.Second
	DefaultWatchMaxAttempts = 24
)

// PlanFetcher re-reads a plan on every watcher tick.
type PlanFetcher interface {
	GetPlan(ctx context.Context, planID string) (*domain.Plan, error)
}

// WatchResult is reported once a watched class leaves the pending state.
type WatchResult struct {
	PendingID string
	PlanID    string
	Ordinal   int
	Plan      *domain.Plan
	Class     domain.ClassSession
}

// Signed reports whether the guardian signed the class.
func (r WatchResult) Signed() bool {
	return r.Class.SignatureState == domain.SignatureSigned
}

type classKey struct {
	planID  string
	ordinal int
}

// Watcher is the handle of one running poll loop.
type Watcher struct {
	PendingID string
	key       classKey
	cancel    context.CancelFunc
	poke      chan struct{}
	done      chan struct{}
}

// Cancel stops the watcher. It is safe to call more than once.
func (w *Watcher) Cancel() { w.cancel() }

// Done is closed when the poll loop has exited.
func (w *Watcher) Done() <-chan struct{} { return w.done }

type WatcherOption func(*WatcherSet)

func WithInterval(d time.Duration) WatcherOption {
	return func(s *WatcherSet) { s.interval = d }
}

func WithMaxAttempts(n int) WatcherOption {
	return func(s *WatcherSet) { s.maxAttempts = n }
}

// WatcherSet runs bounded polling loops, one per class, keyed by the
// signature request id.
type WatcherSet struct {
	plans       PlanFetcher
	onResult    func(WatchResult)
	interval    time.Duration
	maxAttempts int

	mu        sync.Mutex
	byPending map[string]*Watcher
	byClass   map[classKey]*Watcher
}

func NewWatcherSet(plans PlanFetcher, onResult func(WatchResult), opts ...WatcherOption) *WatcherSet {
	s := &WatcherSet{
		plans:       plans,
		onResult:    onResult,
		interval:    DefaultWatchInterval,
		maxAttempts: DefaultWatchMaxAttempts,
		byPending:   make(map[string]*Watcher),
		byClass:     make(map[classKey]*Watcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch starts polling planID's class until it no longer points at
// pendingID as a pending signature. A previous watcher on the same class
// is cancelled.
func (s *WatcherSet) Watch(planID string, ordinal int, pendingID string) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		PendingID: pendingID,
		key:       classKey{planID: planID, ordinal: ordinal},
		cancel:    cancel,
		poke:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if prev, ok := s.byClass[w.key]; ok {
		prev.Cancel()
		delete(s.byPending, prev.PendingID)
	}
	if prev, ok := s.byPending[pendingID]; ok {
		prev.Cancel()
		delete(s.byClass, prev.key)
	}
	s.byPending[pendingID] = w
	s.byClass[w.key] = w
	s.mu.Unlock()

	go s.run(ctx, w)
	return w
}

// Poke forces an immediate tick of the watcher for pendingID.
func (s *WatcherSet) Poke(pendingID string) bool {
	s.mu.Lock()
	w, ok := s.byPending[pendingID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case w.poke <- struct{}{}:
	default:
	}
	return true
}

// PokeClass forces a tick of the watcher on a class, whatever its request id.
func (s *WatcherSet) PokeClass(planID string, ordinal int) bool {
	s.mu.Lock()
	w, ok := s.byClass[classKey{planID: planID, ordinal: ordinal}]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.Poke(w.PendingID)
}

func (s *WatcherSet) Cancel(pendingID string) {
	s.mu.Lock()
	w, ok := s.byPending[pendingID]
	if ok {
		s.forgetLocked(w)
	}
	s.mu.Unlock()
	if ok {
		w.Cancel()
	}
}

// StopAll cancels every watcher and waits for their loops to exit.
func (s *WatcherSet) StopAll() {
	s.mu.Lock()
	all := make([]*Watcher, 0, len(s.byPending))
	for _, w := range s.byPending {
		all = append(all, w)
	}
	s.byPending = make(map[string]*Watcher)
	s.byClass = make(map[classKey]*Watcher)
	s.mu.Unlock()

	for _, w := range all {
		w.Cancel()
		<-w.done
	}
}

// Active returns the number of running watchers.
func (s *WatcherSet) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPending)
}

func (s *WatcherSet) run(ctx context.Context, w *Watcher) {
	defer close(w.done)
	defer s.release(w)

	log := logger.Log.WithFields(logrus.Fields{
		"planId":    w.key.planID,
		"class":     w.key.ordinal,
		"pendingId": w.PendingID,
	})
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.poke:
		}

		res, done := s.check(ctx, w)
		if ctx.Err() != nil {
			return
		}
		if done {
			if res != nil && s.onResult != nil {
				s.onResult(*res)
			}
			return
		}
	}
	log.Debug("Signature watcher gave up")
}

// check returns done=true with a nil result when the plan or class is gone.
func (s *WatcherSet) check(ctx context.Context, w *Watcher) (*WatchResult, bool) {
	plan, err := s.plans.GetPlan(ctx, w.key.planID)
	if err != nil {
		if IsNotFound(err) {
			return nil, true
		}
		logger.Log.WithError(err).WithField("planId", w.key.planID).Debug("Watcher tick failed")
		return nil, false
	}
	class, ok := plan.Class(w.key.ordinal)
	if !ok {
		return nil, true
	}
	if class.SignatureState == domain.SignaturePending && class.SignaturePendingID == w.PendingID {
		return nil, false
	}
	return &WatchResult{
		PendingID: w.PendingID,
		PlanID:    w.key.planID,
		Ordinal:   w.key.ordinal,
		Plan:      plan,
		Class:     *class,
	}, true
}

func (s *WatcherSet) release(w *Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byPending[w.PendingID] == w {
		s.forgetLocked(w)
	}
}

func (s *WatcherSet) forgetLocked(w *Watcher) {
	if s.byPending[w.PendingID] == w {
		delete(s.byPending, w.PendingID)
	}
	if s.byClass[w.key] == w {
		delete(s.byClass, w.key)
	}
}
