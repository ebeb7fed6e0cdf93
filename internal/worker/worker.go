// Package worker runs the two data flows of the daemon: correction bytes
// from the caster to the receiver, and position sentences from the receiver
// to the sink. The flows share a latest-fix cache and nothing else; either
// one keeps going while the other is degraded.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/a869320750/rtk-gnss-worker/internal/nmea"
	"github.com/a869320750/rtk-gnss-worker/internal/ntrip"
	"github.com/a869320750/rtk-gnss-worker/internal/publish"
	"github.com/a869320750/rtk-gnss-worker/internal/receiver"
	"github.com/a869320750/rtk-gnss-worker/internal/rtcm"
)

// State is the coordinator lifecycle.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrStartup wraps failures during Start; the worker is left in StateError
// and may be started again.
var ErrStartup = errors.New("worker: startup failed")

// Session is the correction side of the coordinator, satisfied by
// *ntrip.Client. Connect failures are retried forever with the session's own
// backoff; the coordinator never gives up on corrections.
type Session interface {
	Connect(ctx context.Context) error
	SendHeartbeat(fix *nmea.Fix) error
	Receive(timeout time.Duration) ([]byte, error)
	Disconnect()
	Connected() bool
	RetryDelay() time.Duration
}

// Observer is notified of every decoded fix, after the sink. Notification is
// best effort: a slow observer is skipped, never waited on.
type Observer interface {
	FixUpdated(fix nmea.Fix)
}

type Config struct {
	// ReadTimeout bounds every blocking read in both loops; it is the
	// worker's shutdown granularity.
	ReadTimeout time.Duration

	// StopGrace bounds how long Stop waits for the loops before returning
	// anyway.
	StopGrace time.Duration

	// ObserverBudget bounds how long the decode flow waits on the observer
	// per fix. A slow observer is left behind, not waited for.
	ObserverBudget time.Duration
}

// Metrics is a point-in-time view of flow counters.
type Metrics struct {
	FramesForwarded  uint64 `json:"frames_forwarded"`
	SentencesDecoded uint64 `json:"sentences_decoded"`
	DecodeErrors     uint64 `json:"decode_errors"`
	PublishOK        uint64 `json:"publish_ok"`
	PublishErrors    uint64 `json:"publish_errors"`
	SessionErrors    uint64 `json:"session_errors"`
	ReceiverErrors   uint64 `json:"receiver_errors"`
}

// Worker wires session, channel, splitter and sink together and owns the
// goroutines that drive them.
type Worker struct {
	cfg      Config
	session  Session
	channel  receiver.Channel
	splitter *rtcm.Splitter
	sink     publish.Sink
	observer Observer

	state   atomic.Int32
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	fixMu     sync.RWMutex
	lastFix   *nmea.Fix
	lastFixAt time.Time

	metricsMu sync.Mutex
	metrics   Metrics
}

func New(cfg Config, session Session, channel receiver.Channel, sink publish.Sink) *Worker {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	if cfg.ObserverBudget <= 0 {
		cfg.ObserverBudget = 100 * time.Millisecond
	}
	return &Worker{
		cfg:      cfg,
		session:  session,
		channel:  channel,
		splitter: &rtcm.Splitter{},
		sink:     sink,
	}
}

// SetObserver registers the fix observer. Call before Start.
func (w *Worker) SetObserver(o Observer) {
	w.observer = o
}

// Start opens the receiver channel, establishes the correction session and
// launches both flows. Both the channel and the session must come up for
// Start to succeed; after that no error is fatal, the loops retry forever.
func (w *Worker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) &&
		!w.state.CompareAndSwap(int32(StateError), int32(StateStarting)) {
		return fmt.Errorf("worker: start from state %s", State(w.state.Load()))
	}

	if err := w.channel.Open(); err != nil {
		w.state.Store(int32(StateError))
		return fmt.Errorf("%w: open receiver: %v", ErrStartup, err)
	}

	if err := w.session.Connect(ctx); err != nil {
		_ = w.channel.Close()
		w.state.Store(int32(StateError))
		return fmt.Errorf("%w: connect caster: %v", ErrStartup, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running.Store(true)
	w.state.Store(int32(StateRunning))

	w.wg.Add(2)
	go w.correctionLoop(runCtx)
	go w.decodeLoop(runCtx)

	log.Info("worker: started")
	return nil
}

// Stop shuts both flows down cooperatively and closes the transports. It
// returns once the loops have exited or StopGrace has elapsed.
func (w *Worker) Stop() {
	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	w.running.Store(false)
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.StopGrace):
		log.Warn("worker: loops did not exit within grace period")
	}

	w.session.Disconnect()
	if err := w.channel.Close(); err != nil {
		log.WithError(err).Warn("worker: close receiver")
	}
	w.state.Store(int32(StateStopped))
	log.Info("worker: stopped")
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// LastFix returns the most recently decoded fix and its arrival time, or nil
// if none has been decoded yet.
func (w *Worker) LastFix() (*nmea.Fix, time.Time) {
	w.fixMu.RLock()
	defer w.fixMu.RUnlock()
	if w.lastFix == nil {
		return nil, time.Time{}
	}
	fix := *w.lastFix
	return &fix, w.lastFixAt
}

// Metrics returns a copy of the flow counters.
func (w *Worker) Metrics() Metrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}

// Status is a point-in-time view of the coordinator for status queries. It
// never blocks on the data flows.
type Status struct {
	State           string    `json:"state"`
	CasterConnected bool      `json:"caster_connected"`
	HasFix          bool      `json:"has_fix"`
	LastFixAt       time.Time `json:"last_fix_at,omitempty"`
	Metrics         Metrics   `json:"metrics"`
}

func (w *Worker) Status() Status {
	fix, at := w.LastFix()
	return Status{
		State:           w.State().String(),
		CasterConnected: w.session.Connected(),
		HasFix:          fix != nil,
		LastFixAt:       at,
		Metrics:         w.Metrics(),
	}
}

// correctionLoop pulls correction bytes from the session and forwards
// validated frames to the receiver, reconnecting with the session's backoff
// whenever the stream drops. It exits only on shutdown.
func (w *Worker) correctionLoop(ctx context.Context) {
	defer w.wg.Done()

	for w.running.Load() {
		if ctx.Err() != nil {
			return
		}

		if !w.session.Connected() {
			if !w.sleep(ctx, w.session.RetryDelay()) {
				return
			}
			if err := w.session.Connect(ctx); err != nil {
				w.countSessionError()
				log.WithError(err).Warn("worker: caster reconnect failed")
				continue
			}
		}

		fix, _ := w.LastFix()
		if err := w.session.SendHeartbeat(fix); err != nil {
			w.countSessionError()
			log.WithError(err).Warn("worker: heartbeat failed")
			continue
		}

		chunk, err := w.session.Receive(w.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, ntrip.ErrNoData) {
				continue
			}
			w.countSessionError()
			log.WithError(err).Warn("worker: correction stream error")
			continue
		}

		for _, frame := range w.splitter.Feed(chunk) {
			if err := w.channel.WriteFrame(frame); err != nil {
				w.countReceiverError()
				log.WithError(err).Warn("worker: forward frame failed")
				break
			}
			w.metricsMu.Lock()
			w.metrics.FramesForwarded++
			w.metricsMu.Unlock()
		}
	}
}

// decodeLoop reads sentences from the receiver, decodes position fixes,
// updates the shared cache and publishes. It exits only on shutdown.
func (w *Worker) decodeLoop(ctx context.Context) {
	defer w.wg.Done()

	for w.running.Load() {
		if ctx.Err() != nil {
			return
		}

		line, err := w.channel.ReadLine(w.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, receiver.ErrNoData) {
				continue
			}
			w.countReceiverError()
			log.WithError(err).Warn("worker: receiver read error, reopening")
			if !w.sleep(ctx, w.cfg.ReadTimeout) {
				return
			}
			if err := w.channel.Open(); err != nil {
				log.WithError(err).Warn("worker: receiver reopen failed")
			}
			continue
		}
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		fix, kind, err := nmea.Parse(line, time.Now())
		if err != nil {
			w.metricsMu.Lock()
			w.metrics.DecodeErrors++
			w.metricsMu.Unlock()
			log.WithError(err).Debug("worker: sentence discarded")
			continue
		}
		if fix == nil || kind == nmea.KindIgnored {
			continue
		}

		w.metricsMu.Lock()
		w.metrics.SentencesDecoded++
		w.metricsMu.Unlock()

		w.fixMu.Lock()
		w.lastFix = fix
		w.lastFixAt = time.Now()
		w.fixMu.Unlock()

		if err := w.sink.Publish(*fix); err != nil {
			w.metricsMu.Lock()
			w.metrics.PublishErrors++
			w.metricsMu.Unlock()
		} else {
			w.metricsMu.Lock()
			w.metrics.PublishOK++
			w.metricsMu.Unlock()
		}

		w.notifyObserver(*fix)
	}
}

// notifyObserver hands the fix to the observer and waits at most the
// configured budget. A stalled observer keeps running on its own goroutine
// but no longer holds up the decode flow.
func (w *Worker) notifyObserver(fix nmea.Fix) {
	if w.observer == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		w.observer.FixUpdated(fix)
		close(done)
	}()
	t := time.NewTimer(w.cfg.ObserverBudget)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		log.Warn("worker: observer exceeded its budget, continuing without it")
	}
}

// sleep waits for d or until ctx is cancelled; it reports whether the loop
// should keep running.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return w.running.Load() && ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return w.running.Load()
	}
}

func (w *Worker) countSessionError() {
	w.metricsMu.Lock()
	w.metrics.SessionErrors++
	w.metricsMu.Unlock()
}

func (w *Worker) countReceiverError() {
	w.metricsMu.Lock()
	w.metrics.ReceiverErrors++
	w.metricsMu.Unlock()
}
