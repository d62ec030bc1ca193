package dispatcher

import (
	"Go2NetVision/internal/engine/clock"
	"Go2NetVision/internal/engine/protocol"
	"Go2NetVision/internal/logger"
	"Go2NetVision/internal/metrics"
	"Go2NetVision/internal/model"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"
)

// Dispatcher parses each packet's flow key and routes it to the shard that
// owns the key. It is driven by a single goroutine.
type Dispatcher struct {
	shards   []chan<- model.KeyedPacket
	linkType layers.LinkType
	capture  *clock.Capture
	metrics  *metrics.Metrics
}

// New creates a dispatcher over the given shard queues. capture may be nil
// when idleness is measured in wall-clock time.
func New(shards []chan<- model.KeyedPacket, linkType layers.LinkType, capture *clock.Capture, m *metrics.Metrics) (*Dispatcher, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("dispatcher needs at least one shard")
	}
	return &Dispatcher{
		shards:   shards,
		linkType: linkType,
		capture:  capture,
		metrics:  m,
	}, nil
}

// ShardIndex returns the shard that owns key.
func (d *Dispatcher) ShardIndex(key model.FlowKey) int {
	return int(key.Hash() % uint32(len(d.shards)))
}

// Dispatch routes one packet. Packets whose key cannot be extracted are
// counted and dropped, and the extraction error is returned. The send blocks
// while the target shard's queue is full.
func (d *Dispatcher) Dispatch(pkt *model.RawPacket) error {
	key, err := protocol.ExtractFlowKey(d.linkType, pkt.Data)
	if err != nil {
		d.metrics.PacketDropped(protocol.DropReason(err))
		return err
	}
	if d.capture != nil {
		d.capture.Observe(pkt.Timestamp)
	}
	d.shards[d.ShardIndex(key)] <- model.KeyedPacket{Key: key, Packet: pkt}
	d.metrics.PacketDispatched()
	return nil
}

// Run pulls packets from src until it is exhausted or ctx is cancelled.
// Per-packet extraction failures never stop the run.
func (d *Dispatcher) Run(ctx context.Context, src model.PacketSource) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}
		if err := d.Dispatch(pkt); err != nil && logger.Enabled(logger.Debug) {
			logger.Debugf("Dropping packet at %s: %v", pkt.Timestamp.Format("15:04:05.000000"), err)
		}
	}
}
