package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/openfield/eventlog-pipeline/pkg/config"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

const defaultInsertTimeout = 30 * time.Second

// EventRow is the sink wire contract. Column order and types are part of the
// contract consumed by downstream readers of the event_log table.
type EventRow struct {
	EventType       string
	EventDateTime   time.Time
	Environment     string
	EventContext    string
	MetadataVersion int64
}

// Columns lists the event_log columns in wire order.
var Columns = []string{
	"event_type",
	"event_date_time",
	"environment",
	"event_context",
	"metadata_version",
}

var (
	errAddrRequired         = errors.New("clickhouse address is required")
	errTableRequired        = errors.New("clickhouse event log table is required")
	errClientNotInitialized = errors.New("clickhouse client not initialized")
)

// conn is the slice of driver.Conn the client uses; kept narrow so tests can
// substitute a fake.
type conn interface {
	Ping(context.Context) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// Client ships event batches to the ClickHouse event log table.
type Client struct {
	conn          conn
	table         string
	insertTimeout time.Duration
}

// NewClient dials ClickHouse and verifies connectivity.
func NewClient(ctx context.Context, cfg config.ClickHouseConfig, logg *logger.Logger) (*Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errAddrRequired
	}
	table := strings.TrimSpace(cfg.EventLogTable)
	if table == "" {
		return nil, errTableRequired
	}

	chConn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	client := &Client{
		conn:          chConn,
		table:         table,
		insertTimeout: cfg.InsertTimeout,
	}

	if err := chConn.Ping(ctx); err != nil {
		_ = chConn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "clickhouse client initialized")
	}

	return client, nil
}

// Ping verifies the sink is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errClientNotInitialized
	}
	return c.conn.Ping(ctx)
}

// Insert ships the rows as a single batch. The call is bounded by the
// configured insert timeout; a timeout is indistinguishable from any other
// sink failure to the caller.
func (c *Client) Insert(ctx context.Context, rows []EventRow) error {
	if c == nil || c.conn == nil {
		return errClientNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}

	timeout := c.insertTimeout
	if timeout <= 0 {
		timeout = defaultInsertTimeout
	}
	insertCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	query := fmt.Sprintf("INSERT INTO %s (%s)", c.table, strings.Join(Columns, ", "))
	batch, err := c.conn.PrepareBatch(insertCtx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(
			row.EventType,
			row.EventDateTime,
			row.Environment,
			row.EventContext,
			row.MetadataVersion,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Close releases the ClickHouse connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
