// Package archive persists classified events to optional analytical stores.
package archive

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0xsamyy/killerwhale/internal/classifier"
)

//go:embed migrations/postgres/*.sql migrations/clickhouse/*.sql
var migrationsFS embed.FS

// Sink stores one event.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev *classifier.Event) error
	Close() error
}

// Observer counts failed writes per sink.
type Observer interface {
	ArchiveFailed(sink string)
}

// Multi fans an event out to every sink. A failing sink is logged and
// counted; it never blocks the others or the caller beyond the timeout.
type Multi struct {
	sinks   []Sink
	timeout time.Duration
	obs     Observer
	log     *zap.SugaredLogger
}

// NewMulti wraps sinks. A nil logger is replaced by a no-op.
func NewMulti(sinks []Sink, timeout time.Duration, obs Observer, log *zap.SugaredLogger) *Multi {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Multi{sinks: sinks, timeout: timeout, obs: obs, log: log}
}

// Len returns the number of configured sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Names lists the configured sinks.
func (m *Multi) Names() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Record writes ev to every sink.
func (m *Multi) Record(ctx context.Context, ev *classifier.Event) {
	for _, s := range m.sinks {
		wctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := s.Write(wctx, ev)
		cancel()
		if err != nil {
			m.log.Warnw("archive write failed", "sink", s.Name(), "signature", ev.Signature, "error", err)
			if m.obs != nil {
				m.obs.ArchiveFailed(s.Name())
			}
		}
	}
}

// Close closes every sink and returns the first error.
func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", s.Name(), err)
		}
	}
	return first
}

// migrations returns the embedded statements under dir in lexical order.
func migrations(dir string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations/"+dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var out []string
	for _, f := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+dir+"/"+f)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", f, err)
		}
		if stmt := strings.TrimSpace(string(data)); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out, nil
}
