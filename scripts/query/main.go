package main

import (
	"Go2NetVision/internal/config"
	"Go2NetVision/internal/index"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"
)

func main() {
	mode := flag.String("mode", "status", "Query mode: 'status' to ask a running ntv, 'runs' or 'flow' to query the ClickHouse session index.")
	statusAddr := flag.String("status", "localhost:8080", "Status API address for 'status' mode.")
	configFile := flag.String("config", "", "Config file with the index.clickhouse section (optional).")
	runID := flag.String("run", "", "Restrict to one run ID.")
	limit := flag.Int("limit", 20, "Maximum runs to list.")
	addr1 := flag.String("addr1", "", "First flow endpoint address.")
	addr2 := flag.String("addr2", "", "Second flow endpoint address.")
	port1 := flag.Uint("port1", 0, "First flow endpoint port.")
	port2 := flag.Uint("port2", 0, "Second flow endpoint port.")
	proto := flag.Uint("proto", 0, "IP protocol number (6 TCP, 17 UDP).")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "status":
		queryStatus(*statusAddr)
	case "runs", "flow":
		cfg := config.Default()
		if *configFile != "" {
			loaded, err := config.LoadConfig(*configFile)
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}
			cfg = loaded
		}
		q, err := index.NewQuerier(cfg.Index.ClickHouse)
		if err != nil {
			log.Fatalf("Error connecting to ClickHouse: %v", err)
		}
		defer q.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if *mode == "runs" {
			listRuns(ctx, q, *runID, *limit)
			return
		}
		traceFlow(ctx, q, index.FlowFilter{
			RunID:    *runID,
			Addr1:    parseIP(*addr1),
			Addr2:    parseIP(*addr2),
			Port1:    uint16(*port1),
			Port2:    uint16(*port2),
			Protocol: uint8(*proto),
		})
	default:
		log.Fatalf("Invalid mode: %s. Use 'status', 'runs' or 'flow'.", *mode)
	}
}

func parseIP(s string) net.IP {
	if s == "" {
		return nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		log.Fatalf("Invalid address: %s", s)
	}
	return ip
}

func queryStatus(addr string) {
	apiURL := fmt.Sprintf("http://%s/api/v1/status", addr)
	resp, err := http.Get(apiURL)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	fmt.Println(prettyJSON.String())
}

func listRuns(ctx context.Context, q *index.Querier, runID string, limit int) {
	runs, err := q.Runs(ctx, runID, limit)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	if len(runs) == 0 {
		log.Println("No runs found for the specified criteria.")
		return
	}
	for _, r := range runs {
		fmt.Printf("Run: %s (%s)\n", r.RunID, r.Format)
		fmt.Printf("  Artifacts: %d\n", r.Artifacts)
		fmt.Printf("  Packets: %d\n", r.Packets)
		fmt.Printf("  Bytes: %d\n", r.Bytes)
		fmt.Printf("  Capture span: %s - %s\n", r.FirstSeen.Format(time.RFC3339), r.LastSeen.Format(time.RFC3339))
		fmt.Println("---------------------")
	}
}

func traceFlow(ctx context.Context, q *index.Querier, f index.FlowFilter) {
	sessions, err := q.TraceFlow(ctx, f)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	if len(sessions) == 0 {
		log.Println("No sessions found for the specified flow.")
		return
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s -> %s  %d packets, %d bytes, %s\n  %s\n",
			s.RunID, s.FirstSeen.Format(time.RFC3339Nano), s.LastSeen.Format(time.RFC3339Nano),
			s.Packets, s.Bytes, s.Reason, s.Path)
	}
}
