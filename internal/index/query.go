package index

import (
	"Go2NetVision/internal/config"
	"Go2NetVision/internal/model"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// RunTotals aggregates the artifacts one run indexed.
type RunTotals struct {
	RunID     string
	Format    string
	Artifacts uint64
	Packets   uint64
	Bytes     uint64
	FirstSeen time.Time
	LastSeen  time.Time
}

// FlowFilter selects sessions of one flow. Zero fields match anything;
// endpoints may be given in either order.
type FlowFilter struct {
	RunID    string
	Addr1    net.IP
	Addr2    net.IP
	Port1    uint16
	Port2    uint16
	Protocol uint8
}

// SessionEntry is one indexed artifact returned by TraceFlow.
type SessionEntry struct {
	RunID     string
	Path      string
	Packets   uint32
	Bytes     uint64
	FirstSeen time.Time
	LastSeen  time.Time
	Reason    string
}

// Querier reads back the session index.
type Querier struct {
	conn driver.Conn
}

// NewQuerier connects to the ClickHouse instance in cfg.
func NewQuerier(cfg config.ClickHouseConfig) (*Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &Querier{conn: conn}, nil
}

// Close releases the connection.
func (q *Querier) Close() error {
	return q.conn.Close()
}

// Runs lists per-run totals, newest first. An empty runID lists every run.
func (q *Querier) Runs(ctx context.Context, runID string, limit int) ([]RunTotals, error) {
	query, args := buildRunsQuery(runID, limit)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []RunTotals
	for rows.Next() {
		var t RunTotals
		if err := rows.Scan(&t.RunID, &t.Format, &t.Artifacts, &t.Packets, &t.Bytes, &t.FirstSeen, &t.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan run totals: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TraceFlow lists the sessions recorded for one flow in capture order.
func (q *Querier) TraceFlow(ctx context.Context, f FlowFilter) ([]SessionEntry, error) {
	query, args, err := buildTraceQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []SessionEntry
	for rows.Next() {
		var e SessionEntry
		if err := rows.Scan(&e.RunID, &e.Path, &e.Packets, &e.Bytes, &e.FirstSeen, &e.LastSeen, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan session entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildRunsQuery(runID string, limit int) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`
		SELECT
			RunID,
			any(Format) AS Format,
			count() AS Artifacts,
			sum(Packets) AS TotalPackets,
			sum(Bytes) AS TotalBytes,
			min(FirstSeen) AS FirstSeen,
			max(LastSeen) AS LastSeen
		FROM session_artifacts`)

	var args []interface{}
	if runID != "" {
		b.WriteString(" WHERE RunID = ?")
		args = append(args, runID)
	}
	b.WriteString(" GROUP BY RunID ORDER BY max(WrittenAt) DESC")
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), args
}

func buildTraceQuery(f FlowFilter) (string, []interface{}, error) {
	if f.Addr1 != nil && f.Addr1.To4() == nil {
		return "", nil, fmt.Errorf("address %s is not IPv4", f.Addr1)
	}
	if f.Addr2 != nil && f.Addr2.To4() == nil {
		return "", nil, fmt.Errorf("address %s is not IPv4", f.Addr2)
	}

	// Rows store the canonical (smaller endpoint first) order.
	if f.Addr1 != nil && f.Addr2 != nil {
		a1, a2 := model.IPToUint32(f.Addr1), model.IPToUint32(f.Addr2)
		if a1 > a2 || (a1 == a2 && f.Port1 > f.Port2) {
			f.Addr1, f.Addr2 = f.Addr2, f.Addr1
			f.Port1, f.Port2 = f.Port2, f.Port1
		}
	}

	var where []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.RunID != "" {
		add("RunID = ?", f.RunID)
	}
	if f.Addr1 != nil {
		add("Addr1 = toIPv4(?)", f.Addr1.To4().String())
	}
	if f.Addr2 != nil {
		add("Addr2 = toIPv4(?)", f.Addr2.To4().String())
	}
	if f.Port1 != 0 {
		add("Port1 = ?", f.Port1)
	}
	if f.Port2 != 0 {
		add("Port2 = ?", f.Port2)
	}
	if f.Protocol != 0 {
		add("Protocol = ?", f.Protocol)
	}
	if len(where) == 0 {
		return "", nil, fmt.Errorf("flow filter is empty")
	}

	query := `
		SELECT RunID, Path, Packets, Bytes, FirstSeen, LastSeen, Reason
		FROM session_artifacts
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY FirstSeen`
	return query, args, nil
}
