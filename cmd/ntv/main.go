// Command ntv splits a capture file into bidirectional sessions and writes
// one encoded artifact per session.
package main

import (
	"Go2NetVision/internal/config"
	"Go2NetVision/internal/encoder"
	"Go2NetVision/internal/engine/manager"
	"Go2NetVision/internal/index"
	"Go2NetVision/internal/logger"
	"Go2NetVision/internal/model"
	"Go2NetVision/internal/notification"
	"Go2NetVision/internal/report"
	"Go2NetVision/internal/status"
	"Go2NetVision/pkg/pcap"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

type cliArgs struct {
	configPath string
	filter     string
	shards     int
	writers    int
	idle       string
	clock      string
	reader     string
	logLevel   string

	format      string
	outputDir   string
	captureFile string

	set map[string]bool
}

func parseArgs(args []string, stderr io.Writer) (*cliArgs, error) {
	a := &cliArgs{set: make(map[string]bool)}
	fs := flag.NewFlagSet("ntv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&a.configPath, "config", "", "Path to a YAML configuration file (optional).")
	fs.StringVar(&a.filter, "filter", pcap.DefaultFilter, "BPF filter applied to the capture.")
	fs.IntVar(&a.shards, "shards", 0, "Number of shard workers.")
	fs.IntVar(&a.writers, "writers", 0, "Number of writer workers.")
	fs.StringVar(&a.idle, "idle", "", "Idle timeout, e.g. 10s.")
	fs.StringVar(&a.clock, "clock", "", "Idle clock: 'wall' or 'capture'.")
	fs.StringVar(&a.reader, "reader", "", "Capture reader: 'libpcap' or 'pcapgo'.")
	fs.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error.")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: ntv [flags] <output-format> <output-dir> <capture-file>\n")
		fmt.Fprintf(stderr, "Formats: %s\n", strings.Join(encoder.Names(), ", "))
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return nil, fmt.Errorf("expected 3 arguments, got %d", fs.NArg())
	}
	fs.Visit(func(f *flag.Flag) { a.set[f.Name] = true })

	a.format = fs.Arg(0)
	a.outputDir = fs.Arg(1)
	a.captureFile = fs.Arg(2)
	return a, nil
}

// buildConfig loads the optional config file and lays the command line over it.
func buildConfig(a *cliArgs) (*config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.LoadConfig(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if a.set["filter"] {
		cfg.Capture.Filter = a.filter
	}
	if a.set["shards"] {
		cfg.Engine.NumShards = a.shards
	}
	if a.set["writers"] {
		cfg.Writer.NumWorkers = a.writers
	}
	if a.set["idle"] {
		cfg.Engine.IdleTimeout = a.idle
	}
	if a.set["clock"] {
		cfg.Engine.IdleClock = a.clock
	}
	if a.set["reader"] {
		cfg.Capture.Reader = a.reader
	}
	if a.set["log-level"] {
		cfg.Logging.Level = a.logLevel
	}

	name, ok := encoder.Resolve(a.format)
	if !ok {
		return nil, fmt.Errorf("unknown output format '%s' (available: %s)", a.format, strings.Join(encoder.Names(), ", "))
	}
	cfg.Writer.Format = name
	cfg.Writer.OutputDir = a.outputDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	a, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "ntv: %v\n", err)
		return 1
	}
	cfg, err := buildConfig(a)
	if err != nil {
		fmt.Fprintf(stderr, "ntv: %v\n", err)
		return 1
	}

	logCloser, err := logger.Setup(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(stderr, "ntv: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	reader, err := pcap.Open(a.captureFile, pcap.Options{Filter: cfg.Capture.Filter, Backend: cfg.Capture.Reader})
	if err != nil {
		log.Printf("Failed to open capture: %v", err)
		return 1
	}
	defer reader.Close()
	log.Printf("Reading '%s' (link type %s) with filter '%s'.", a.captureFile, reader.LinkType(), cfg.Capture.Filter)

	opts := encoder.Options{
		TileWidth: cfg.Encoder.TileWidth,
		MTFGrid:   cfg.Encoder.MTFGrid,
		GAFLength: cfg.Encoder.GAFLength,
		LinkType:  reader.LinkType(),
	}
	enc, err := encoder.New(cfg.Writer.Format, opts)
	if err != nil {
		log.Printf("Failed to create encoder: %v", err)
		return 1
	}

	ext, err := newExtensions(cfg)
	if err != nil {
		log.Printf("Failed to start integrations: %v", err)
		return 1
	}
	defer ext.close()

	var srv *status.Server
	mgr, err := manager.NewManager(cfg, enc, reader.LinkType(),
		manager.WithObservers(ext.observers...),
		manager.WithPhaseListener(func(p manager.Phase) {
			if srv != nil {
				srv.OnPhase(p)
			}
		}),
	)
	if err != nil {
		ext.closeObservers()
		log.Printf("Failed to create manager: %v", err)
		return 1
	}

	if cfg.Status.HTTPListenAddr != "" || cfg.Status.GRPCListenAddr != "" {
		srv = status.New(cfg.Status, mgr)
		if err := srv.Start(); err != nil {
			ext.closeObservers()
			log.Printf("Failed to start status server: %v", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Status server shutdown error: %v", err)
			}
		}()
	}

	summary, runErr := mgr.Run(ctx, reader)
	if runErr != nil {
		log.Printf("Capture processing stopped: %v", runErr)
	}

	log.Printf("Run %s finished in %s: %d packets, %d dropped, %d sessions, %d artifacts, %d failures.",
		summary.RunID, summary.Duration, summary.Totals.PacketsDispatched, summary.Totals.PacketsDropped,
		summary.Totals.SessionsEmitted, summary.Totals.ArtifactsWritten, summary.Totals.WriteFailures)
	if !summary.Drained() {
		logger.Warnf("%d live flows and %d queued sessions remained after shutdown", summary.LiveFlows, summary.Queued)
	}

	if cfg.Report.SummaryFile != "" {
		if err := report.WriteSummary(summary, cfg.Report.SummaryFile); err != nil {
			log.Printf("Failed to write run summary: %v", err)
		}
	}
	notification.NotifyAll(ext.notifiers, summary)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	return 0
}

// extensions holds the optional observers and notifiers enabled by config.
type extensions struct {
	observers []model.SessionObserver
	notifiers []model.Notifier
	nc        *nats.Conn
}

func newExtensions(cfg *config.Config) (*extensions, error) {
	ext := &extensions{}

	if cfg.Report.ManifestFile != "" {
		manifest, err := report.NewManifest(cfg.Report.ManifestFile)
		if err != nil {
			return nil, err
		}
		ext.observers = append(ext.observers, manifest)
	}

	if cfg.Index.ClickHouse.Enabled {
		indexer, err := index.NewClickHouseIndexer(cfg.Index.ClickHouse)
		if err != nil {
			ext.closeObservers()
			return nil, err
		}
		ext.observers = append(ext.observers, indexer)
	}

	if cfg.Notify.NATS.Enabled {
		nc, err := notification.Connect(cfg.Notify.NATS)
		if err != nil {
			ext.closeObservers()
			return nil, err
		}
		ext.nc = nc
		if cfg.Notify.NATS.PublishSessions {
			ext.observers = append(ext.observers, notification.NewSessionPublisher(nc, cfg.Notify.NATS.Subject))
		}
		ext.notifiers = append(ext.notifiers, notification.NewNATSNotifier(nc, cfg.Notify.NATS.Subject))
	}

	if cfg.Notify.SMTP.Host != "" && cfg.Notify.SMTP.To != "" {
		ext.notifiers = append(ext.notifiers, notification.NewEmailNotifier(cfg.Notify.SMTP))
	}
	return ext, nil
}

// closeObservers is only for startup failures; after a run the manager has
// already closed them.
func (e *extensions) closeObservers() {
	for _, o := range e.observers {
		if err := o.Close(); err != nil {
			log.Printf("Error closing session observer: %v", err)
		}
	}
	e.observers = nil
}

func (e *extensions) close() {
	if e.nc != nil {
		e.nc.Close()
	}
}
