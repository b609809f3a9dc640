package jobsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mealplan/internal/api"
)

const (
	ForegroundInterval = 1 * time.Second
	BackgroundInterval = 5 * time.Second
)

// Fetcher reads the current job status. *api.Client satisfies it.
type Fetcher interface {
	Status(ctx context.Context) (api.JobStatus, error)
}

// Presenter executes effects. Calls arrive one at a time, in the order the
// transitions that produced them were applied, and never while the
// synchronizer holds its lock, so a presenter may call back into it.
type Presenter interface {
	ShowProgress(text string)
	SetBusy(busy bool)
	RenderResults(ctx context.Context)
	NotifySuccess(text string)
	NotifyError(text string)
}

// Ticker is the subset of *time.Ticker the synchronizer needs.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) Chan() <-chan time.Time { return t.C }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

type Option func(*Synchronizer)

// WithIntervals overrides the foreground and background poll intervals.
func WithIntervals(foreground, background time.Duration) Option {
	return func(s *Synchronizer) {
		if foreground > 0 {
			s.fgEvery = foreground
		}
		if background > 0 {
			s.bgEvery = background
		}
	}
}

// WithTicker replaces the ticker constructor (tests drive ticks by hand).
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(s *Synchronizer) {
		if fn != nil {
			s.newTicker = fn
		}
	}
}

// Synchronizer owns the polling session and both timers.
type Synchronizer struct {
	fetcher   Fetcher
	presenter Presenter
	fgEvery   time.Duration
	bgEvery   time.Duration
	newTicker func(time.Duration) Ticker

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	session Session
	stopFG  func()
	stopBG  func()
	watchID uint64
	pending []Effect
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a synchronizer and starts its effect dispatcher. Fetches and
// result rendering use a context derived from ctx; Close cancels it.
func New(ctx context.Context, fetcher Fetcher, presenter Presenter, opts ...Option) *Synchronizer {
	ctx, cancel := context.WithCancel(ctx)
	s := &Synchronizer{
		fetcher:   fetcher,
		presenter: presenter,
		fgEvery:   ForegroundInterval,
		bgEvery:   BackgroundInterval,
		newTicker: newTimeTicker,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.dispatch()
	return s
}

// StartForeground begins fast polling. It is a no-op while a foreground
// session is already active and reports whether a new session started.
func (s *Synchronizer) StartForeground() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startForegroundLocked()
}

func (s *Synchronizer) startForegroundLocked() bool {
	if s.closed {
		return false
	}
	if s.session.Active {
		slog.Debug("jobsync: foreground polling already active", "session", s.session.ID)
		return false
	}
	id := s.session.ID + 1
	s.session = Session{Active: true, ID: id}
	s.stopFG = s.runTicker(s.fgEvery, func() { s.foregroundTick(id) })
	slog.Debug("jobsync: foreground polling started", "session", id, "every", s.fgEvery)
	return true
}

// StopPolling cancels the foreground timer. Safe to call at any time.
func (s *Synchronizer) StopPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopForegroundLocked()
}

func (s *Synchronizer) stopForegroundLocked() {
	if s.stopFG != nil {
		s.stopFG()
		s.stopFG = nil
	}
	s.session.Active = false
}

// StartBackgroundWatch begins slow polling that promotes to foreground
// polling when it sees a job in flight. Starting it twice is a no-op.
func (s *Synchronizer) StartBackgroundWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stopBG != nil {
		return
	}
	s.watchID++
	id := s.watchID
	s.stopBG = s.runTicker(s.bgEvery, func() { s.backgroundTick(id) })
	slog.Debug("jobsync: background watch started", "every", s.bgEvery)
}

func (s *Synchronizer) StopBackgroundWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopBG != nil {
		s.stopBG()
		s.stopBG = nil
	}
}

// Active reports whether a foreground session is running.
func (s *Synchronizer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Active
}

// Snapshot returns a copy of the current session.
func (s *Synchronizer) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// CheckExisting fetches status once and renders the previous job's results
// if the backend has any.
func (s *Synchronizer) CheckExisting() {
	st, err := s.fetcher.Status(s.ctx)
	if err != nil {
		slog.Warn("jobsync: check for existing results failed", "err", err)
		return
	}
	if !st.HasResults {
		return
	}
	s.mu.Lock()
	s.enqueueLocked([]Effect{{Kind: EffectRenderResults}})
	s.mu.Unlock()
}

// Close stops both timers, cancels in-flight work and the dispatcher.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopForegroundLocked()
		if s.stopBG != nil {
			s.stopBG()
			s.stopBG = nil
		}
		s.closed = true
		s.pending = nil
		s.mu.Unlock()
		s.cancel()
		close(s.done)
	})
}

// runTicker starts a ticker goroutine calling onTick per tick and returns
// its stop function. The caller must hold s.mu when invoking stop.
func (s *Synchronizer) runTicker(every time.Duration, onTick func()) func() {
	t := s.newTicker(every)
	stop := make(chan struct{})
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.Chan():
				// select picks randomly when stop and a tick are both ready.
				select {
				case <-stop:
					return
				default:
				}
				onTick()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

func (s *Synchronizer) foregroundTick(id uint64) {
	s.mu.Lock()
	// A tick can race with stop; never fetch for a dead session.
	if !s.session.Active || s.session.ID != id {
		s.mu.Unlock()
		return
	}
	s.session.Issued++
	seq := s.session.Issued
	s.mu.Unlock()

	go s.pollOnce(id, seq)
}

func (s *Synchronizer) pollOnce(id, seq uint64) {
	st, err := s.fetcher.Status(s.ctx)
	if err != nil {
		slog.Warn("jobsync: status poll failed", "session", id, "seq", seq, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ID != id {
		slog.Debug("jobsync: dropping result for superseded session", "session", id, "seq", seq)
		return
	}
	prev := s.session
	next, effects := Apply(prev, seq, st)
	s.session = next
	if effects == nil {
		if prev.Active && seq <= prev.Applied {
			slog.Debug("jobsync: dropping stale status", "session", id, "seq", seq, "applied", prev.Applied)
		}
		return
	}
	for _, e := range effects {
		if e.Kind == EffectStopTimer {
			s.stopForegroundLocked()
		}
	}
	s.enqueueLocked(effects)
}

func (s *Synchronizer) watching(id uint64) bool {
	return !s.closed && s.stopBG != nil && s.watchID == id
}

func (s *Synchronizer) backgroundTick(id uint64) {
	s.mu.Lock()
	if !s.watching(id) {
		s.mu.Unlock()
		return
	}
	issued := s.session
	s.mu.Unlock()

	go func() {
		st, err := s.fetcher.Status(s.ctx)
		if err != nil {
			slog.Warn("jobsync: background watch poll failed", "err", err)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.watching(id) {
			slog.Debug("jobsync: dropping result for stopped background watch")
			return
		}
		effects := Detect(s.session, issued, st)
		if effects == nil {
			return
		}
		if !s.startForegroundLocked() {
			return
		}
		slog.Info("jobsync: detected in-flight job, resuming foreground polling")
		s.enqueueLocked(effects)
	}()
}

func (s *Synchronizer) enqueueLocked(effects []Effect) {
	if s.closed {
		return
	}
	s.pending = append(s.pending, effects...)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				s.perform(e)
			}
		}
	}
}

func (s *Synchronizer) perform(e Effect) {
	switch e.Kind {
	case EffectShowProgress:
		s.presenter.ShowProgress(e.Text)
	case EffectSetBusy:
		s.presenter.SetBusy(e.Busy)
	case EffectRenderResults:
		s.presenter.RenderResults(s.ctx)
	case EffectNotifySuccess:
		s.presenter.NotifySuccess(e.Text)
	case EffectNotifyError:
		s.presenter.NotifyError(e.Text)
	case EffectStopTimer:
		// Applied under the lock when the transition was folded in.
	}
}
