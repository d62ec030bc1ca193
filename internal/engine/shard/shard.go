package shard

import (
	"Go2NetVision/internal/engine/clock"
	"Go2NetVision/internal/metrics"
	"Go2NetVision/internal/model"
	"log"
	"sync/atomic"
	"time"
)

// Config holds the per-shard tuning knobs.
type Config struct {
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	QueueSize    int
	// StampCaptureTime records each session's last-seen time from packet
	// timestamps instead of the clock. Use it together with a capture clock.
	StampCaptureTime bool
}

// Shard owns a disjoint subset of flow keys. A single goroutine reads the
// inbound queue, maintains the flow tables and reaps idle sessions, so the
// tables need no locking.
type Shard struct {
	id     int
	cfg    Config
	clock  clock.Clock
	input  chan model.KeyedPacket
	output chan<- model.CompletedSession

	flows    map[model.FlowKey]*model.Session
	lastSeen map[model.FlowKey]time.Time

	active  atomic.Int64
	metrics *metrics.Metrics
	done    chan struct{}
}

// New creates a shard that emits completed sessions to out.
func New(id int, cfg Config, clk clock.Clock, out chan<- model.CompletedSession, m *metrics.Metrics) *Shard {
	return &Shard{
		id:       id,
		cfg:      cfg,
		clock:    clk,
		input:    make(chan model.KeyedPacket, cfg.QueueSize),
		output:   out,
		flows:    make(map[model.FlowKey]*model.Session),
		lastSeen: make(map[model.FlowKey]time.Time),
		metrics:  m,
		done:     make(chan struct{}),
	}
}

// Input returns the shard's inbound queue. Only the dispatcher sends on it.
func (s *Shard) Input() chan<- model.KeyedPacket {
	return s.input
}

// Start launches the shard goroutine.
func (s *Shard) Start() {
	go s.run()
}

// Close signals that no more packets will arrive. The shard drains its
// queue, flushes every live session and exits.
func (s *Shard) Close() {
	close(s.input)
}

// Wait blocks until the shard goroutine has exited.
func (s *Shard) Wait() {
	<-s.done
}

// ActiveFlows is the number of live sessions. Safe to call from any goroutine.
func (s *Shard) ActiveFlows() int {
	return int(s.active.Load())
}

func (s *Shard) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case kp, ok := <-s.input:
			if !ok {
				n := s.flushAll()
				log.Printf("Shard %d stopped, flushed %d sessions.", s.id, n)
				return
			}
			s.append(kp)
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick reads the clock, appends every packet already queued at that moment,
// then reaps. Packets stamped at or before now are in their sessions before
// the reaper looks at them. The drain is bounded so a busy queue cannot
// starve the reaper.
func (s *Shard) tick() int {
	now := s.clock.Now()
	for pending := len(s.input); pending > 0; pending-- {
		kp, ok := <-s.input
		if !ok {
			break
		}
		s.append(kp)
	}
	return s.reap(now)
}

func (s *Shard) stamp(p *model.RawPacket) time.Time {
	if s.cfg.StampCaptureTime {
		return p.Timestamp
	}
	return s.clock.Now()
}

// append adds a packet to its session, starting a new one if needed. A
// session that is already idle when its next packet shows up is emitted
// first, so the split does not depend on when the reaper last ran.
func (s *Shard) append(kp model.KeyedPacket) {
	now := s.stamp(kp.Packet)

	if last, ok := s.lastSeen[kp.Key]; ok && now.Sub(last) >= s.cfg.IdleTimeout {
		s.emit(kp.Key, model.ReasonGap)
	}

	session, ok := s.flows[kp.Key]
	if !ok {
		s.flows[kp.Key] = model.NewSession(kp.Key, kp.Packet)
		s.lastSeen[kp.Key] = now
		s.active.Add(1)
		s.metrics.FlowsChanged(1)
		return
	}

	session.Append(kp.Packet)
	if now.After(s.lastSeen[kp.Key]) {
		s.lastSeen[kp.Key] = now
	}
}

// reap emits every session whose last activity is at least IdleTimeout
// before now. Calling it twice with the same now emits nothing the second time.
func (s *Shard) reap(now time.Time) int {
	n := 0
	for key, last := range s.lastSeen {
		if now.Sub(last) >= s.cfg.IdleTimeout {
			s.emit(key, model.ReasonIdle)
			n++
		}
	}
	return n
}

// flushAll drains whatever is still queued and emits every live session.
func (s *Shard) flushAll() int {
	for kp := range s.input {
		s.append(kp)
	}
	n := 0
	for key := range s.flows {
		s.emit(key, model.ReasonFlush)
		n++
	}
	return n
}

func (s *Shard) emit(key model.FlowKey, reason model.ReapReason) {
	session := s.flows[key]
	delete(s.flows, key)
	delete(s.lastSeen, key)
	s.active.Add(-1)
	s.metrics.FlowsChanged(-1)
	s.metrics.SessionEmitted(string(reason))

	s.output <- model.CompletedSession{Key: key, Session: session, Reason: reason}
}
