package index

import (
	"Go2NetVision/internal/model"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	mu      sync.Mutex
	batches [][]Row
	err     error
}

func (f *fakeTable) insert(_ context.Context, rows []Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, rows)
	return nil
}

func record(port uint16) model.SessionRecord {
	at := time.Unix(1700000000, 0)
	return model.SessionRecord{
		RunID:     "run-1",
		Key:       model.NewFlowKey(0xc0a80001, 0x08080808, port, 53, model.ProtocolUDP),
		Format:    "tile",
		Path:      "/out/x.png",
		Packets:   4,
		Bytes:     512,
		FirstSeen: at,
		LastSeen:  at.Add(time.Second),
		Reason:    model.ReasonIdle,
		WrittenAt: at.Add(time.Minute),
	}
}

func TestNewRow(t *testing.T) {
	row := NewRow(record(5353))
	assert.Equal(t, "8.8.8.8", row.Addr1.String())
	assert.Equal(t, "192.168.0.1", row.Addr2.String())
	assert.Equal(t, uint16(53), row.Port1)
	assert.Equal(t, uint16(5353), row.Port2)
	assert.Equal(t, uint8(17), row.Protocol)
	assert.Equal(t, "idle", row.Reason)
	assert.Equal(t, uint32(4), row.Packets)
	assert.Len(t, row.values(), 14)
}

func TestIndexer_BatchesAndFlushesOnClose(t *testing.T) {
	table := &fakeTable{}
	closed := false
	ix := newIndexer(3, table.insert, func() error { closed = true; return nil })

	for port := uint16(1); port <= 7; port++ {
		require.NoError(t, ix.Observe(record(port)))
	}
	require.Len(t, table.batches, 2)
	assert.Len(t, table.batches[0], 3)

	require.NoError(t, ix.Close())
	require.Len(t, table.batches, 3)
	assert.Len(t, table.batches[2], 1)
	assert.True(t, closed)
}

func TestIndexer_InsertError(t *testing.T) {
	table := &fakeTable{err: errors.New("table is read-only")}
	ix := newIndexer(1, table.insert, nil)

	err := ix.Observe(record(1))
	assert.ErrorContains(t, err, "table is read-only")
	assert.NoError(t, ix.Close())
}
