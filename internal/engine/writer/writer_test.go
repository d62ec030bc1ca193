package writer

import (
	"Go2NetVision/internal/metrics"
	"Go2NetVision/internal/model"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

type stubEncoder struct {
	failPort uint16
}

func (stubEncoder) Name() string      { return "stub" }
func (stubEncoder) Extension() string { return "bin" }

func (e stubEncoder) Encode(packets []*model.RawPacket) ([]byte, error) {
	var out []byte
	for _, p := range packets {
		if e.failPort != 0 && len(p.Data) == 1 && uint16(p.Data[0]) == e.failPort {
			return nil, errors.New("cannot encode")
		}
		out = append(out, p.Data...)
	}
	return out, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	records []model.SessionRecord
	err     error
}

func (o *recordingObserver) Observe(rec model.SessionRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
	return o.err
}

func (o *recordingObserver) Close() error { return nil }

func completed(port uint16, reason model.ReapReason) model.CompletedSession {
	key := model.NewFlowKey(0x0a000001, 0x0a000002, port, 80, model.ProtocolTCP)
	at := time.Unix(1700000000, 0)
	session := model.NewSession(key, &model.RawPacket{Timestamp: at, Data: []byte{byte(port)}, Length: 1})
	session.Append(&model.RawPacket{Timestamp: at.Add(time.Second), Data: []byte{0xaa, 0xbb}, Length: 2})
	return model.CompletedSession{Key: key, Session: session, Reason: reason}
}

func TestFileSink_WritesAndReleasesPermit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	permits := semaphore.NewWeighted(1)
	sink, err := NewFileSink(dir, permits, nil)
	require.NoError(t, err)

	path, err := sink.Write("a.bin", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.bin"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	require.True(t, permits.TryAcquire(1), "permit not returned after a successful write")
	permits.Release(1)
}

func TestFileSink_ReleasesPermitOnFailure(t *testing.T) {
	permits := semaphore.NewWeighted(1)
	sink, err := NewFileSink(t.TempDir(), permits, nil)
	require.NoError(t, err)

	_, err = sink.Write(filepath.Join("missing", "a.bin"), []byte("abc"))
	require.Error(t, err)

	require.True(t, permits.TryAcquire(1), "permit leaked on a failed create")
}

func TestPool_WritesDropsAndObserves(t *testing.T) {
	dir := t.TempDir()
	permits := semaphore.NewWeighted(2)
	m := metrics.New()
	sink, err := NewFileSink(dir, permits, m)
	require.NoError(t, err)

	queue := make(chan model.CompletedSession, 16)
	obs := &recordingObserver{err: errors.New("observer down")}
	pool, err := NewPool(4, "run-1", queue, stubEncoder{failPort: 7}, sink, m, obs)
	require.NoError(t, err)
	pool.Start()

	for port := uint16(1); port <= 10; port++ {
		queue <- completed(port, model.ReasonIdle)
	}
	close(queue)
	pool.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 9)

	totals := m.Totals()
	assert.Equal(t, uint64(9), totals.ArtifactsWritten)
	assert.Equal(t, uint64(1), totals.WriteFailures)

	require.Len(t, obs.records, 9)
	for _, rec := range obs.records {
		assert.Equal(t, "run-1", rec.RunID)
		assert.Equal(t, "stub", rec.Format)
		assert.Equal(t, 2, rec.Packets)
		assert.Equal(t, 3, rec.Bytes)
		assert.Equal(t, model.ReasonIdle, rec.Reason)
		assert.Equal(t, filepath.Join(dir, rec.Key.ArtifactName("bin")), rec.Path)
	}

	require.True(t, permits.TryAcquire(2), "permits leaked")
}

func TestNewPool_RejectsZeroWorkers(t *testing.T) {
	_, err := NewPool(0, "", make(chan model.CompletedSession), stubEncoder{}, nil, nil)
	assert.Error(t, err)
}

func TestFileSink_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, semaphore.NewWeighted(4), nil)
	require.NoError(t, err)

	first, err := sink.Write("1-2-3-4-6.png", []byte("first"))
	require.NoError(t, err)
	second, err := sink.Write("1-2-3-4-6.png", []byte("second"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "1-2-3-4-6.png"), first)
	assert.Equal(t, filepath.Join(dir, "1-2-3-4-6_1.png"), second)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}
