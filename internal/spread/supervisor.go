package spread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"spreadbot/internal/exchange"
	"spreadbot/internal/model"
)

// State is the supervisor lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateBackoff
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason records why the supervisor stopped.
type StopReason int

const (
	// ReasonNormal is a clean, externally requested shutdown.
	ReasonNormal StopReason = iota

	// ReasonAuthError means the exchange rejected our credentials.
	ReasonAuthError

	// ReasonConsecutiveFailures means the protocol-failure threshold
	// was exceeded.
	ReasonConsecutiveFailures

	// ReasonPersistenceFailure means a flush record could not be
	// persisted and loss is not tolerated.
	ReasonPersistenceFailure
)

func (r StopReason) String() string {
	switch r {
	case ReasonNormal:
		return "normal shutdown"
	case ReasonAuthError:
		return "fatal: authentication failure"
	case ReasonConsecutiveFailures:
		return "fatal: consecutive protocol failures"
	case ReasonPersistenceFailure:
		return "fatal: persistence failure"
	default:
		return "unknown"
	}
}

// ExitCode maps the stop reason to a process exit code; only a clean
// shutdown maps to zero.
func (r StopReason) ExitCode() int {
	switch r {
	case ReasonNormal:
		return 0
	case ReasonAuthError:
		return 2
	case ReasonConsecutiveFailures:
		return 3
	case ReasonPersistenceFailure:
		return 4
	default:
		return 1
	}
}

// Sink is the persistence capability the supervisor flushes to.
// Implemented by storage.Sink.
type Sink interface {
	Append(rec model.FlushRecord) error
}

// Config tunes the supervisor's scheduling and failure policy.
type Config struct {
	// PollInterval is the sampling cadence.
	PollInterval time.Duration

	// FlushInterval is the flush cadence, measured from the previous
	// scheduled instant rather than from completion of the previous
	// flush, so the schedule never drifts.
	FlushInterval time.Duration

	// InitialBackoff is the first delay after a retryable fetch failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff delay.
	MaxBackoff time.Duration

	// MaxProtocolFailures is the consecutive protocol-failure count
	// that becomes fatal.
	MaxProtocolFailures int

	// MaxAppendRetries bounds the retries of a failed append. The
	// record is held in memory across retries, never discarded early.
	MaxAppendRetries int

	// AppendRetryDelay is the pause between append retries.
	AppendRetryDelay time.Duration

	// TolerateFlushLoss keeps the collector running after a record is
	// lost to exhausted append retries. The loss is always logged.
	TolerateFlushLoss bool

	// sampleTicks and flushTicks, when non-nil, replace the interval
	// tickers so the cadence can be driven explicitly.
	sampleTicks <-chan time.Time
	flushTicks  <-chan time.Time
}

func (c *Config) applyDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.MaxProtocolFailures <= 0 {
		c.MaxProtocolFailures = 5
	}
	if c.MaxAppendRetries <= 0 {
		c.MaxAppendRetries = 3
	}
	if c.AppendRetryDelay <= 0 {
		c.AppendRetryDelay = time.Second
	}
}

// Supervisor composes the sampler, aggregator and sink into the
// long-running collection process.
//
// Two loops run concurrently against the shared aggregator: the sample
// loop polls the exchange on a fixed cadence, the flush loop drains the
// window and persists the record on its own cadence. A slow or
// backed-off sample loop never delays a scheduled flush, and vice
// versa. Both loops observe cancellation within one tick.
type Supervisor struct {
	cfg     Config
	sampler *Sampler
	agg     *Aggregator
	sink    Sink

	state atomic.Int32

	// backoffEntries counts transitions into the Backoff sub-state.
	backoffEntries atomic.Int64
}

// NewSupervisor wires the collector components together. The supervisor
// starts in StateStarting and moves to StateRunning inside Run.
func NewSupervisor(cfg Config, sampler *Sampler, agg *Aggregator, sink Sink) (*Supervisor, error) {
	if sampler == nil || agg == nil || sink == nil {
		return nil, errors.New("supervisor requires a sampler, an aggregator and a sink")
	}
	if cfg.PollInterval <= 0 || cfg.FlushInterval <= 0 {
		return nil, errors.New("poll and flush intervals must be positive")
	}
	cfg.applyDefaults()

	s := &Supervisor{
		cfg:     cfg,
		sampler: sampler,
		agg:     agg,
		sink:    sink,
	}
	s.state.Store(int32(StateStarting))
	return s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) { s.state.Store(int32(st)) }

// Run executes the collection process until ctx is cancelled or a
// fatal failure occurs and returns the stop reason. A cancelled ctx is
// a clean shutdown and ends with one best-effort drain of the partial
// window; a fatal failure stops without one.
func (s *Supervisor) Run(ctx context.Context) StopReason {
	s.setState(StateRunning)
	log.Info().
		Dur("pollInterval", s.cfg.PollInterval).
		Dur("flushInterval", s.cfg.FlushInterval).
		Msg("supervisor running")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so a losing loop can report without blocking on shutdown.
	fatal := make(chan StopReason, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.sampleLoop(runCtx, fatal)
	}()
	go func() {
		defer wg.Done()
		s.flushLoop(runCtx, fatal)
	}()

	reason := ReasonNormal
	select {
	case <-ctx.Done():
	case reason = <-fatal:
	}

	cancel()
	wg.Wait()

	// Draining happens only for an external stop request; a fatal
	// failure goes straight to Stopped without a parting flush.
	if reason == ReasonNormal {
		s.setState(StateDraining)
		s.finalDrain()
	}

	s.setState(StateStopped)
	log.Info().Str("reason", reason.String()).Msg("supervisor stopped")
	return reason
}

// sampleLoop polls the exchange once per tick. Retryable failures are
// recovered locally via capped exponential backoff and never surfaced;
// protocol failures become fatal past a threshold; an auth failure is
// fatal immediately.
func (s *Supervisor) sampleLoop(ctx context.Context, fatal chan<- StopReason) {
	ticks := s.cfg.sampleTicks
	if ticks == nil {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	protocolFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}

		if !s.pollWithBackoff(ctx, &protocolFailures, fatal) {
			return
		}
	}
}

// pollWithBackoff attempts one scheduled poll, retrying in place after
// a backoff delay for transport and rate-limit failures. It reports
// false when the sample loop must exit.
func (s *Supervisor) pollWithBackoff(ctx context.Context, protocolFailures *int, fatal chan<- StopReason) bool {
	backoff := s.cfg.InitialBackoff

	for {
		err := s.sampler.PollOnce(ctx)
		if err == nil {
			*protocolFailures = 0
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		switch exchange.KindOf(err) {
		case exchange.KindAuth:
			log.Error().Err(err).Msg("authentication rejected, stopping")
			fatal <- ReasonAuthError
			return false

		case exchange.KindProtocol:
			*protocolFailures++
			log.Warn().Err(err).
				Int("consecutive", *protocolFailures).
				Int("threshold", s.cfg.MaxProtocolFailures).
				Msg("protocol failure")
			if *protocolFailures >= s.cfg.MaxProtocolFailures {
				log.Error().Err(err).Msg("protocol failure threshold exceeded, stopping")
				fatal <- ReasonConsecutiveFailures
				return false
			}
			// Wait for the next scheduled poll.
			return true

		default:
			// Transport or rate limited: back off, then retry in place.
			s.backoffEntries.Add(1)
			s.setState(StateBackoff)
			log.Warn().Err(err).Dur("delay", backoff).Msg("retryable fetch failure, backing off")

			select {
			case <-ctx.Done():
				return false
			case <-time.After(backoff):
			}
			s.setState(StateRunning)

			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}
	}
}

// flushLoop drains the aggregation window on every tick and persists
// the record. Empty windows are persisted too, so gaps in sampling stay
// visible in the output.
func (s *Supervisor) flushLoop(ctx context.Context, fatal chan<- StopReason) {
	ticks := s.cfg.flushTicks
	if ticks == nil {
		ticker := time.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}

		rec := s.agg.Drain(time.Now().UTC())
		if err := s.appendWithRetry(rec); err != nil {
			if !s.cfg.TolerateFlushLoss {
				fatal <- ReasonPersistenceFailure
				return
			}
		}
	}
}

// appendWithRetry persists a flush record, retrying a bounded number of
// times with the record held in memory. On exhaustion the record is
// logged as lost, never silently dropped.
func (s *Supervisor) appendWithRetry(rec model.FlushRecord) error {
	var err error
	for attempt := 1; attempt <= s.cfg.MaxAppendRetries; attempt++ {
		err = s.sink.Append(rec)
		if err == nil {
			log.Info().
				Time("windowStart", rec.WindowStart).
				Time("windowEnd", rec.WindowEnd).
				Int("samples", rec.SampleCount).
				Msg("window flushed")
			return nil
		}

		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", s.cfg.MaxAppendRetries).
			Msg("flush append failed")
		if attempt < s.cfg.MaxAppendRetries {
			time.Sleep(s.cfg.AppendRetryDelay)
		}
	}

	log.Error().Err(err).
		Time("windowStart", rec.WindowStart).
		Time("windowEnd", rec.WindowEnd).
		Str("minSpread", rec.MinSpread.String()).
		Str("maxSpread", rec.MaxSpread.String()).
		Int("samples", rec.SampleCount).
		Msg("flush record lost after exhausted retries")
	return err
}

// finalDrain flushes whatever partial window remains at shutdown,
// best-effort with bounded retries.
func (s *Supervisor) finalDrain() {
	rec := s.agg.Drain(time.Now().UTC())
	if err := s.appendWithRetry(rec); err != nil {
		log.Error().Err(err).Msg("final drain failed")
	}
}
