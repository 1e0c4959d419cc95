package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voxrelay/pkg/logx"
)

// Store is the persistence API used by the relay and the commands.
type Store interface {
	AppendRelay(ctx context.Context, r Record) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	// PruneBefore deletes records older than t and reports how many went.
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
