// Package report writes the run summary and the session manifest.
package report

import (
	"Go2NetVision/internal/engine/manager"
	"Go2NetVision/internal/model"
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WriteSummary stores the run summary as indented JSON at path.
func WriteSummary(summary manager.Summary, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}
	summaryFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return summaryFile.Close()
}

// ManifestEntry is one line of the session manifest.
type ManifestEntry struct {
	Artifact  string `json:"artifact"`
	Flow      string `json:"flow"`
	Addr1     string `json:"addr1"`
	Addr2     string `json:"addr2"`
	Port1     uint16 `json:"port1"`
	Port2     uint16 `json:"port2"`
	Protocol  uint8  `json:"protocol"`
	Packets   int    `json:"packets"`
	Bytes     int    `json:"bytes"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
	Reason    string `json:"reason"`
}

// Manifest appends one JSON line per written artifact. It implements
// model.SessionObserver and is safe for concurrent use.
type Manifest struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewManifest creates (or truncates) the manifest file at path.
func NewManifest(path string) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest file: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &Manifest{file: file, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (m *Manifest) Observe(rec model.SessionRecord) error {
	entry := ManifestEntry{
		Artifact:  filepath.Base(rec.Path),
		Flow:      rec.Key.String(),
		Addr1:     rec.Key.IP1().String(),
		Addr2:     rec.Key.IP2().String(),
		Port1:     rec.Key.Port1,
		Port2:     rec.Key.Port2,
		Protocol:  rec.Key.Protocol,
		Packets:   rec.Packets,
		Bytes:     rec.Bytes,
		FirstSeen: rec.FirstSeen.UTC().Format(time.RFC3339Nano),
		LastSeen:  rec.LastSeen.UTC().Format(time.RFC3339Nano),
		Reason:    string(rec.Reason),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write manifest entry: %w", err)
	}
	return nil
}

// Close flushes and closes the manifest file.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.buf.Flush(); err != nil {
		m.file.Close()
		return fmt.Errorf("failed to flush manifest: %w", err)
	}
	return m.file.Close()
}
