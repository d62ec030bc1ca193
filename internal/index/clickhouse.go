// Package index records every written artifact in ClickHouse so sessions
// can be searched by flow, run or time.
package index

import (
	"Go2NetVision/internal/config"
	"Go2NetVision/internal/model"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS session_artifacts (
    RunID       String,
    Addr1       IPv4,
    Addr2       IPv4,
    Port1       UInt16,
    Port2       UInt16,
    Protocol    UInt8,
    Format      LowCardinality(String),
    Path        String,
    Packets     UInt32,
    Bytes       UInt64,
    FirstSeen   DateTime64(6),
    LastSeen    DateTime64(6),
    Reason      LowCardinality(String),
    WrittenAt   DateTime
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(WrittenAt)
ORDER BY (RunID, Addr1, Addr2, Port1, Port2, Protocol, FirstSeen);
`

// Row is one session_artifacts row.
type Row struct {
	RunID     string
	Addr1     net.IP
	Addr2     net.IP
	Port1     uint16
	Port2     uint16
	Protocol  uint8
	Format    string
	Path      string
	Packets   uint32
	Bytes     uint64
	FirstSeen time.Time
	LastSeen  time.Time
	Reason    string
	WrittenAt time.Time
}

// NewRow converts a session record into a table row.
func NewRow(rec model.SessionRecord) Row {
	return Row{
		RunID:     rec.RunID,
		Addr1:     rec.Key.IP1(),
		Addr2:     rec.Key.IP2(),
		Port1:     rec.Key.Port1,
		Port2:     rec.Key.Port2,
		Protocol:  rec.Key.Protocol,
		Format:    rec.Format,
		Path:      rec.Path,
		Packets:   uint32(rec.Packets),
		Bytes:     uint64(rec.Bytes),
		FirstSeen: rec.FirstSeen,
		LastSeen:  rec.LastSeen,
		Reason:    string(rec.Reason),
		WrittenAt: rec.WrittenAt,
	}
}

func (r Row) values() []interface{} {
	return []interface{}{
		r.RunID, r.Addr1, r.Addr2, r.Port1, r.Port2, r.Protocol,
		r.Format, r.Path, r.Packets, r.Bytes, r.FirstSeen, r.LastSeen, r.Reason, r.WrittenAt,
	}
}

// inserter sends a batch of rows. It is a seam for tests.
type inserter func(ctx context.Context, rows []Row) error

// Indexer buffers rows and inserts them in batches. It implements
// model.SessionObserver and is safe for concurrent use.
type Indexer struct {
	mu        sync.Mutex
	pending   []Row
	batchSize int
	insert    inserter
	closeConn func() error
}

// NewClickHouseIndexer connects to ClickHouse and ensures the table exists.
func NewClickHouseIndexer(cfg config.ClickHouseConfig) (*Indexer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured session_artifacts exists.")

	return newIndexer(cfg.BatchSize, batchInserter(conn), conn.Close), nil
}

func newIndexer(batchSize int, insert inserter, closeConn func() error) *Indexer {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Indexer{batchSize: batchSize, insert: insert, closeConn: closeConn}
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func batchInserter(conn driver.Conn) inserter {
	return func(ctx context.Context, rows []Row) error {
		batch, err := conn.PrepareBatch(ctx, "INSERT INTO session_artifacts")
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for _, r := range rows {
			if err := batch.Append(r.values()...); err != nil {
				return fmt.Errorf("failed to append session to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
		return nil
	}
}

// Observe queues the record and inserts a batch once it is full.
func (ix *Indexer) Observe(rec model.SessionRecord) error {
	ix.mu.Lock()
	ix.pending = append(ix.pending, NewRow(rec))
	if len(ix.pending) < ix.batchSize {
		ix.mu.Unlock()
		return nil
	}
	rows := ix.pending
	ix.pending = nil
	ix.mu.Unlock()

	return ix.send(rows)
}

// Flush inserts whatever is buffered.
func (ix *Indexer) Flush() error {
	ix.mu.Lock()
	rows := ix.pending
	ix.pending = nil
	ix.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	return ix.send(rows)
}

func (ix *Indexer) send(rows []Row) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ix.insert(ctx, rows); err != nil {
		return fmt.Errorf("failed to index %d sessions: %w", len(rows), err)
	}
	log.Printf("Indexed %d sessions in ClickHouse.", len(rows))
	return nil
}

// Close flushes the remaining rows and closes the connection.
func (ix *Indexer) Close() error {
	err := ix.Flush()
	if ix.closeConn != nil {
		if cerr := ix.closeConn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
