package notification

import (
	"Go2NetVision/internal/config"
	"Go2NetVision/internal/model"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Connect opens the NATS connection shared by the publisher and notifier.
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("ntv"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return nc, nil
}

type publisher interface {
	Publish(subject string, data []byte) error
	Flush() error
}

// SessionPublisher announces every written artifact on a NATS subject as a
// protobuf-encoded google.protobuf.Struct. It implements model.SessionObserver.
type SessionPublisher struct {
	nc      publisher
	subject string
}

// NewSessionPublisher publishes on subject over nc. The caller keeps
// ownership of the connection.
func NewSessionPublisher(nc *nats.Conn, subject string) *SessionPublisher {
	return &SessionPublisher{nc: nc, subject: subject}
}

// SessionMessage builds the published payload for rec.
func SessionMessage(rec model.SessionRecord) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"run_id":     rec.RunID,
		"addr1":      rec.Key.IP1().String(),
		"addr2":      rec.Key.IP2().String(),
		"port1":      float64(rec.Key.Port1),
		"port2":      float64(rec.Key.Port2),
		"protocol":   model.ProtocolName(rec.Key.Protocol),
		"format":     rec.Format,
		"path":       rec.Path,
		"packets":    float64(rec.Packets),
		"bytes":      float64(rec.Bytes),
		"first_seen": rec.FirstSeen.UTC().Format(time.RFC3339Nano),
		"last_seen":  rec.LastSeen.UTC().Format(time.RFC3339Nano),
		"reason":     string(rec.Reason),
	})
}

// Observe serializes rec and publishes it.
func (p *SessionPublisher) Observe(rec model.SessionRecord) error {
	msg, err := SessionMessage(rec)
	if err != nil {
		return err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close flushes pending publishes.
func (p *SessionPublisher) Close() error {
	return p.nc.Flush()
}

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSNotifier implements model.Notifier by publishing on "<subject>.summary".
type NATSNotifier struct {
	nc      msgPublisher
	subject string
}

func NewNATSNotifier(nc *nats.Conn, subject string) model.Notifier {
	return &NATSNotifier{nc: nc, subject: subject + ".summary"}
}

func (n *NATSNotifier) Send(subject, body string) error {
	msg := nats.NewMsg(n.subject)
	msg.Header.Set("Subject", subject)
	msg.Data = []byte(body)
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish summary: %w", err)
	}
	return nil
}
