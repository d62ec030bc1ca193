package report

import (
	"Go2NetVision/internal/engine/manager"
	"Go2NetVision/internal/metrics"
	"Go2NetVision/internal/model"
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "summary.json")
	summary := manager.Summary{
		RunID:  "run-3",
		Format: "angular-field",
		Shards: 8,
		Totals: metrics.Totals{PacketsDispatched: 12, ArtifactsWritten: 3},
	}
	require.NoError(t, WriteSummary(summary, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded manager.Summary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-3", decoded.RunID)
	assert.Equal(t, 8, decoded.Shards)
	assert.Equal(t, uint64(3), decoded.Totals.ArtifactsWritten)
}

func TestManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	m, err := NewManifest(path)
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for port := uint16(1); port <= 3; port++ {
		key := model.NewFlowKey(0x0a000001, 0x0a000002, port, 80, model.ProtocolTCP)
		require.NoError(t, m.Observe(model.SessionRecord{
			Key:       key,
			Path:      filepath.Join("/out", key.ArtifactName("png")),
			Packets:   int(port),
			FirstSeen: at,
			LastSeen:  at,
			Reason:    model.ReasonIdle,
		}))
	}
	require.NoError(t, m.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var entries []ManifestEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e ManifestEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 3)
	assert.Equal(t, "167772161-167772162-1-80-6.png", entries[0].Artifact)
	assert.Equal(t, "10.0.0.1:1 <-> 10.0.0.2:80 TCP", entries[0].Flow)
	assert.Equal(t, 3, entries[2].Packets)
	assert.Equal(t, "2024-01-02T03:04:05Z", entries[0].FirstSeen)
}
