// Package padsvc is the platform-independent gamepad input core: it drives
// one or more backends, deduplicates their raw samples into semantic events
// and exposes the poll/wait query surface.
package padsvc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/padmux/padmux/pkg/bus"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

type (
	RawBus       = bus.Bus[string, RawItem]
	RawPublisher = bus.Publisher[RawItem]
)

// Backend is the contract every platform implementation satisfies. Start
// blocks until ctx is cancelled, publishing hotplug notifications and raw
// samples; backends without a native hotplug signal synthesize notifications
// by periodic re-enumeration. Native handles stay inside the backend and must
// be released on every return path of Start.
type Backend interface {
	Start(ctx context.Context, pub RawPublisher) error
	Ready() <-chan struct{}
	Enumerate() ([]DeviceDescriptor, error)
}

// ErrNoBackend is returned by Start when the service has no backend to drive.
var ErrNoBackend = errors.New("no usable backend")

var defaultOptions = serviceOptions{
	backends:       make(map[string]Backend),
	queueCapacity:  defaultQueueCapacity,
	gracePeriod:    30 * time.Second,
	reapInterval:   time.Second,
	deadzone:       0.05,
	backoffTimeout: 5 * time.Second,
}

type serviceOptions struct {
	backends       map[string]Backend
	queueCapacity  int
	gracePeriod    time.Duration
	reapInterval   time.Duration
	deadzone       float64
	backoffTimeout time.Duration
	hotplugHook    func(Gamepad)
}

type Option func(*serviceOptions)

func WithBackend(name string, backend Backend) Option {
	return func(o *serviceOptions) {
		o.backends[name] = backend
	}
}

// WithQueueCapacity bounds the event queue; under sustained overflow the
// oldest events are traded for a Dropped marker.
func WithQueueCapacity(n int) Option {
	return func(o *serviceOptions) {
		o.queueCapacity = n
	}
}

// WithGracePeriod sets how long a disconnected record stays queryable.
func WithGracePeriod(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.gracePeriod = d
	}
}

// WithReapInterval sets how often expired records are destroyed.
func WithReapInterval(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.reapInterval = d
	}
}

// WithDeadzone sets the default minimum axis delta that produces an event.
func WithDeadzone(v float64) Option {
	return func(o *serviceOptions) {
		o.deadzone = v
	}
}

func WithBackoffTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.backoffTimeout = d
	}
}

// WithHotplugHook registers a callback invoked from the mediator goroutine
// after every connect or disconnect, with the fresh snapshot.
func WithHotplugHook(fn func(Gamepad)) Option {
	return func(o *serviceOptions) {
		o.hotplugHook = fn
	}
}

// Service is the core mediator. It owns the registry, the tracker and the
// event queue; all three are mutated only from the goroutine running Start.
type Service struct {
	log     *zap.Logger
	options serviceOptions
	now     func() time.Time
	ready   chan struct{}

	rawBus   *RawBus
	registry *deviceRegistry
	tracker  *tracker
	queue    *eventQueue
	tuningCh chan Tuning
}

// Tuning is the subset of settings that may change while running.
type Tuning struct {
	Deadzone float64 `json:"deadzone" yaml:"deadzone"`
}

func New(log *zap.Logger, now func() time.Time, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:      log,
		options:  options,
		now:      now,
		ready:    make(chan struct{}),
		rawBus:   bus.NewBus[string, RawItem](log.Named("bus")),
		registry: newDeviceRegistry(log.Named("registry"), options.gracePeriod, options.deadzone, now),
		tracker:  newTracker(options.deadzone),
		queue:    newEventQueue(options.queueCapacity, now),
		tuningCh: make(chan Tuning, 1),
	}
}

// Start runs the mediator loop until ctx is cancelled. It fails immediately
// when no backend is configured, and when every configured backend errors out
// of its first Start attempt before becoming ready. Individual device failures
// inside backends never abort the loop.
func (s *Service) Start(ctx context.Context) error {
	if len(s.options.backends) == 0 {
		return ErrNoBackend
	}
	if err := s.rawBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start raw bus: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.rawBus.Ready():
	}

	items := s.rawBus.Subscribe(ctx)

	firstAttempt := make(chan error, len(s.options.backends))
	for backendID := range s.options.backends {
		go s.runBackend(ctx, backendID, firstAttempt)
	}
	usable := 0
	for range s.options.backends {
		select {
		case <-ctx.Done():
			return nil
		case err := <-firstAttempt:
			if err == nil {
				usable++
			}
		}
	}
	if usable == 0 {
		return fmt.Errorf("%w: every configured backend failed to initialize", ErrNoBackend)
	}
	close(s.ready)
	s.log.Info("gamepad service started")

	reap := time.NewTicker(s.options.reapInterval)
	defer reap.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-items:
			s.handleRawItem(msg.Key, msg.Message)
		case tuning := <-s.tuningCh:
			s.applyTuning(tuning)
		case <-reap.C:
			for _, id := range s.registry.reap() {
				s.tracker.detach(id)
			}
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// runBackend restarts backend after failures. The outcome of the first
// attempt is reported exactly once on firstAttempt: nil when the backend
// became ready, the Start error when it failed before that.
func (s *Service) runBackend(ctx context.Context, backendID string, firstAttempt chan<- error) {
	backend := s.options.backends[backendID]
	var reportOnce sync.Once
	go func() {
		select {
		case <-ctx.Done():
		case <-backend.Ready():
			reportOnce.Do(func() { firstAttempt <- nil })
		}
	}()
	for {
		err := backend.Start(ctx, s.rawBus.CreatePublisher(backendID))
		if err != nil {
			s.log.Error("backend failed", zap.String("backend", backendID), zap.Error(err))
			reportOnce.Do(func() { firstAttempt <- err })
		}
		t := time.NewTimer(s.options.backoffTimeout)
		// retry after backoff
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		case <-t.C:
		}
	}
}

func (s *Service) handleRawItem(backendID string, item RawItem) {
	switch {
	case item.Hotplug != nil:
		s.handleHotplug(backendID, *item.Hotplug)
	case item.Sample != nil:
		s.handleSample(backendID, *item.Sample)
	}
}

func (s *Service) handleHotplug(backendID string, hp RawHotplug) {
	if hp.Connected {
		// Backends deliver hotplug at least once; duplicate connects from a
		// monitor racing a re-enumeration pass are absorbed here.
		if id, ok := s.registry.lookup(hp.Descriptor); ok {
			if pad, ok := s.registry.get(id); ok && pad.Status == StatusConnected {
				return
			}
		}
		id, known := s.registry.register(hp.Descriptor)
		if !known {
			s.tracker.attach(id, hp.Descriptor)
		}
		s.log.Debug("gamepad connected",
			zap.String("backend", backendID),
			zap.Stringer("id", id),
			zap.String("name", hp.Descriptor.Name))
		s.queue.push(Event{Kind: EventConnected, Gamepad: id})
		s.notifyHotplug(id)
		return
	}
	id, ok := s.registry.lookup(hp.Descriptor)
	if !ok {
		s.log.Debug("disconnect for unknown device", zap.String("backend", backendID), zap.Stringer("descriptor", hp.Descriptor))
		return
	}
	if !s.registry.unregister(id) {
		return
	}
	s.log.Debug("gamepad disconnected", zap.String("backend", backendID), zap.Stringer("id", id))
	s.queue.push(Event{Kind: EventDisconnected, Gamepad: id})
	s.notifyHotplug(id)
}

func (s *Service) notifyHotplug(id GamepadID) {
	if s.options.hotplugHook == nil {
		return
	}
	if pad, ok := s.registry.get(id); ok {
		s.options.hotplugHook(pad)
	}
}

func (s *Service) handleSample(backendID string, sample RawSample) {
	id, ok := s.registry.lookup(sample.Descriptor)
	if !ok {
		// Sample raced ahead of its connect notification; drop it rather
		// than guessing an identity.
		s.log.Debug("sample for unknown device", zap.String("backend", backendID), zap.Stringer("descriptor", sample.Descriptor))
		return
	}
	ev, ok := s.tracker.sample(id, sample)
	if !ok {
		return
	}
	s.registry.apply(ev)
	s.queue.push(ev)
}

func (s *Service) applyTuning(t Tuning) {
	if t.Deadzone <= 0 || t.Deadzone >= 1 {
		s.log.Warn("ignoring invalid deadzone", zap.Float64("deadzone", t.Deadzone))
		return
	}
	s.tracker.setDeadzone(t.Deadzone)
	s.log.Info("tuning applied", zap.Float64("deadzone", t.Deadzone))
}

// UpdateTuning hands new tuning to the mediator goroutine. Safe to call from
// any goroutine; the latest pending update wins.
func (s *Service) UpdateTuning(t Tuning) {
	for {
		select {
		case s.tuningCh <- t:
			return
		default:
			select {
			case <-s.tuningCh:
			default:
			}
		}
	}
}

// Poll drains everything queued right now. It never blocks.
func (s *Service) Poll() []Event {
	return s.queue.drain()
}

// Wait blocks until at least one event is queued, the timeout elapses or ctx
// is cancelled, returning nil on the latter two.
func (s *Service) Wait(ctx context.Context, timeout time.Duration) []Event {
	if evs := s.queue.drain(); len(evs) > 0 {
		return evs
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			return nil
		case <-s.queue.wake():
			if evs := s.queue.drain(); len(evs) > 0 {
				return evs
			}
		}
	}
}

// Gamepads returns snapshots of every known record, connected or in grace
// period, ordered by id.
func (s *Service) Gamepads() []Gamepad {
	pads := s.registry.snapshotAll()
	sort.Slice(pads, func(i, j int) bool { return pads[i].ID < pads[j].ID })
	return pads
}

// Gamepad returns the snapshot for one id. A reaped or never-seen id yields
// ok=false, never an error.
func (s *Service) Gamepad(id GamepadID) (Gamepad, bool) {
	return s.registry.snapshot(id)
}

// Drops reports the total number of events lost to queue overflow.
func (s *Service) Drops() uint64 {
	return s.queue.drops.Load()
}

// QueueLen and QueueCap are diagnostics for the event queue.
func (s *Service) QueueLen() int { return s.queue.len() }
func (s *Service) QueueCap() int { return s.queue.capacity() }
