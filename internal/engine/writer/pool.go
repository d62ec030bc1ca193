package writer

import (
	"Go2NetVision/internal/metrics"
	"Go2NetVision/internal/model"
	"fmt"
	"log"
	"sync"
	"time"
)

// Pool is a fixed set of workers consuming the completed-session queue.
// Each session is encoded, persisted through the sink and reported to the
// observers. Failures drop the session; nothing is retried.
type Pool struct {
	queue      <-chan model.CompletedSession
	encoder    model.Encoder
	sink       model.ArtifactSink
	observers  []model.SessionObserver
	runID      string
	numWorkers int
	metrics    *metrics.Metrics
	wg         sync.WaitGroup
}

// NewPool builds a pool of numWorkers writers. Observers are called from
// several workers at once and must be safe for concurrent use.
func NewPool(numWorkers int, runID string, queue <-chan model.CompletedSession, enc model.Encoder,
	sink model.ArtifactSink, m *metrics.Metrics, observers ...model.SessionObserver) (*Pool, error) {
	if numWorkers <= 0 {
		return nil, fmt.Errorf("writer pool needs at least one worker, got %d", numWorkers)
	}
	return &Pool{
		queue:      queue,
		encoder:    enc,
		sink:       sink,
		observers:  observers,
		runID:      runID,
		numWorkers: numWorkers,
		metrics:    m,
	}, nil
}

// Start launches the workers. They exit once the queue is closed and drained.
func (p *Pool) Start() {
	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.worker()
	}
	log.Printf("Writer pool started with %d workers, format %s.", p.numWorkers, p.encoder.Name())
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for cs := range p.queue {
		if err := p.process(cs); err != nil {
			log.Printf("Error writing session %s: %v", cs.Key, err)
		}
	}
}

func (p *Pool) process(cs model.CompletedSession) error {
	data, err := p.encoder.Encode(cs.Session.Packets)
	if err != nil {
		p.metrics.WriteFailed("encode")
		return fmt.Errorf("encode: %w", err)
	}

	path, err := p.sink.Write(cs.Key.ArtifactName(p.encoder.Extension()), data)
	if err != nil {
		p.metrics.WriteFailed("write")
		return err
	}
	p.metrics.ArtifactWritten()

	rec := model.SessionRecord{
		RunID:     p.runID,
		Key:       cs.Key,
		Format:    p.encoder.Name(),
		Path:      path,
		Packets:   len(cs.Session.Packets),
		Bytes:     cs.Session.Bytes(),
		FirstSeen: cs.Session.FirstSeen,
		LastSeen:  cs.Session.LastSeen,
		Reason:    cs.Reason,
		WrittenAt: time.Now(),
	}
	for _, o := range p.observers {
		if err := o.Observe(rec); err != nil {
			p.metrics.ObserverFailed()
			log.Printf("Session observer failed for %s: %v", cs.Key, err)
		}
	}
	return nil
}
