package manager

import (
	"Go2NetVision/internal/config"
	"Go2NetVision/internal/engine/clock"
	"Go2NetVision/internal/engine/dispatcher"
	"Go2NetVision/internal/engine/shard"
	"Go2NetVision/internal/engine/writer"
	"Go2NetVision/internal/metrics"
	"Go2NetVision/internal/model"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Phase is the coarse lifecycle state of a run.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseDraining Phase = "draining"
	PhaseStopped  Phase = "stopped"
)

// Summary describes a finished run.
type Summary struct {
	RunID     string         `json:"run_id"`
	Format    string         `json:"format"`
	OutputDir string         `json:"output_dir"`
	Shards    int            `json:"shards"`
	Writers   int            `json:"writers"`
	Started   time.Time      `json:"started"`
	Finished  time.Time      `json:"finished"`
	Duration  string         `json:"duration"`
	Totals    metrics.Totals `json:"totals"`
	LiveFlows int            `json:"live_flows"`
	Queued    int            `json:"queued_sessions"`
}

// Drained reports whether every session left the engine.
func (s Summary) Drained() bool {
	return s.LiveFlows == 0 && s.Queued == 0
}

// Option customizes a Manager.
type Option func(*Manager)

// WithObservers registers observers told about every written artifact.
// The manager closes them after the writer pool has exited.
func WithObservers(observers ...model.SessionObserver) Option {
	return func(m *Manager) { m.observers = append(m.observers, observers...) }
}

// WithClock replaces the wall clock used in wall mode.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.wallClock = c }
}

// WithMetrics shares an existing metrics set with the manager.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithPhaseListener is called on every phase change.
func WithPhaseListener(fn func(Phase)) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// Manager wires the dispatcher, shards and writer pool of one run and owns
// their startup and drain-safe shutdown.
type Manager struct {
	runID     string
	outputDir string
	encoder   model.Encoder
	writers   int

	shards     []*shard.Shard
	completed  chan model.CompletedSession
	pool       *writer.Pool
	dispatcher *dispatcher.Dispatcher

	wallClock clock.Clock
	observers []model.SessionObserver
	listeners []func(Phase)
	metrics   *metrics.Metrics

	phase    atomic.Value
	started  time.Time
	finished time.Time
	stopOnce sync.Once
}

// NewManager builds the pipeline for one capture.
func NewManager(cfg *config.Config, enc model.Encoder, linkType layers.LinkType, opts ...Option) (*Manager, error) {
	idle, err := cfg.IdleTimeout()
	if err != nil {
		return nil, err
	}
	reap, err := cfg.ReapInterval()
	if err != nil {
		return nil, err
	}
	mode, err := clock.ParseMode(cfg.Engine.IdleClock)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		runID:     uuid.NewString(),
		outputDir: cfg.Writer.OutputDir,
		encoder:   enc,
		writers:   cfg.Writer.NumWorkers,
		completed: make(chan model.CompletedSession, cfg.Writer.QueueSize),
		wallClock: clock.Wall{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	m.phase.Store(PhaseIdle)

	var (
		shardClock clock.Clock = m.wallClock
		capture    *clock.Capture
	)
	shardCfg := shard.Config{
		IdleTimeout:  idle,
		ReapInterval: reap,
		QueueSize:    cfg.Engine.ShardQueueSize,
	}
	if mode == clock.ModeCapture {
		capture = clock.NewCapture()
		shardClock = capture
		shardCfg.StampCaptureTime = true
	}

	inputs := make([]chan<- model.KeyedPacket, cfg.Engine.NumShards)
	for i := 0; i < cfg.Engine.NumShards; i++ {
		s := shard.New(i, shardCfg, shardClock, m.completed, m.metrics)
		m.shards = append(m.shards, s)
		inputs[i] = s.Input()
	}

	m.dispatcher, err = dispatcher.New(inputs, linkType, capture, m.metrics)
	if err != nil {
		return nil, err
	}

	permits := semaphore.NewWeighted(int64(cfg.Writer.MaxOpenFiles))
	sink, err := writer.NewFileSink(cfg.Writer.OutputDir, permits, m.metrics)
	if err != nil {
		return nil, err
	}
	m.pool, err = writer.NewPool(cfg.Writer.NumWorkers, m.runID, m.completed, enc, sink, m.metrics, m.observers...)
	if err != nil {
		return nil, err
	}

	log.Printf("Manager %s configured: %d shards, %d writers, idle timeout %s (%s clock), %d open-file permits.",
		m.runID, len(m.shards), cfg.Writer.NumWorkers, idle, mode, cfg.Writer.MaxOpenFiles)
	return m, nil
}

// RunID identifies this run in logs, artifacts' index rows and notifications.
func (m *Manager) RunID() string { return m.runID }

// Metrics returns the run's metrics.
func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase { return m.phase.Load().(Phase) }

func (m *Manager) setPhase(p Phase) {
	m.phase.Store(p)
	for _, fn := range m.listeners {
		fn(p)
	}
}

// ActiveFlows sums the live sessions across shards.
func (m *Manager) ActiveFlows() int {
	n := 0
	for _, s := range m.shards {
		n += s.ActiveFlows()
	}
	return n
}

// QueuedSessions is the number of completed sessions waiting for a writer.
func (m *Manager) QueuedSessions() int { return len(m.completed) }

// Start launches every shard and writer before any packet is dispatched.
func (m *Manager) Start() {
	m.started = time.Now()
	m.pool.Start()
	for _, s := range m.shards {
		s.Start()
	}
	log.Printf("Manager started with %d shards.", len(m.shards))
	m.setPhase(PhaseRunning)
}

// Run starts the pipeline, dispatches src until it is exhausted or ctx is
// cancelled, then drains everything. The drain happens even when reading fails.
func (m *Manager) Run(ctx context.Context, src model.PacketSource) (Summary, error) {
	m.Start()
	runErr := m.dispatcher.Run(ctx, src)
	m.Stop()

	summary := m.Summary()
	if runErr != nil {
		return summary, fmt.Errorf("dispatch stopped early: %w", runErr)
	}
	return summary, nil
}

// Stop shuts the pipeline down so no session is lost: shards drain and
// flush first, then the completed queue is closed and writers drain it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.started.IsZero() {
			// Shards only signal completion from their own goroutine.
			m.Start()
		}
		log.Println("Manager stopping...")
		m.setPhase(PhaseDraining)

		// 1. No more packets: shards drain their queues and flush every session.
		for _, s := range m.shards {
			s.Close()
		}

		// 2. Wait for every shard so nothing else will be emitted.
		log.Println("Waiting for shards to flush...")
		for _, s := range m.shards {
			s.Wait()
		}

		// 3. Writers exit once the queue is drained.
		close(m.completed)
		log.Println("Waiting for writers to finish...")
		m.pool.Wait()

		for _, o := range m.observers {
			if err := o.Close(); err != nil {
				log.Printf("Error closing session observer: %v", err)
			}
		}

		m.finished = time.Now()
		m.setPhase(PhaseStopped)
		log.Println("Manager stopped.")
	})
}

// Summary reports the run's counters.
func (m *Manager) Summary() Summary {
	finished := m.finished
	if finished.IsZero() {
		finished = time.Now()
	}
	return Summary{
		RunID:     m.runID,
		Format:    m.encoder.Name(),
		OutputDir: m.outputDir,
		Shards:    len(m.shards),
		Writers:   m.writers,
		Started:   m.started,
		Finished:  finished,
		Duration:  finished.Sub(m.started).Round(time.Millisecond).String(),
		Totals:    m.metrics.Totals(),
		LiveFlows: m.ActiveFlows(),
		Queued:    m.QueuedSessions(),
	}
}
