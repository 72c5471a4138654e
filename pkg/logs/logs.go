// Package logs builds the process logger: text on a writer for
// interactive use, the systemd journal when running as a service or when
// asked to, or both.
package logs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Options selects the log sinks.
type Options struct {
	// Writer receives text logs. Nil means stderr.
	Writer io.Writer
	// Level is shared by every sink so it can be changed at runtime.
	Level *slog.LevelVar
	// Journal adds the systemd journal even for interactive runs.
	Journal bool
}

// New returns a logger for opts. Journal failures are reported through the
// text sink and otherwise ignored.
func New(opts Options) *slog.Logger {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	if opts.Level == nil {
		opts.Level = new(slog.LevelVar)
	}

	service := runningAsService()
	var handlers []slog.Handler
	var text slog.Handler
	if !service {
		text = slog.NewTextHandler(opts.Writer, &slog.HandlerOptions{Level: opts.Level})
		handlers = append(handlers, text)
	}
	if service || opts.Journal {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level:        opts.Level,
			ReplaceGroup: journalKey,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = journalKey(a.Key)
				return a
			},
		})
		switch {
		case err == nil:
			handlers = append(handlers, journal)
		case text != nil:
			slog.New(text).Warn("systemd journal unavailable", "err", err)
		}
	}
	if len(handlers) == 0 {
		// A service without a journal socket still needs somewhere to log.
		handlers = append(handlers, slog.NewTextHandler(opts.Writer, &slog.HandlerOptions{Level: opts.Level}))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("logs: unknown level %q", s)
	}
	return l, nil
}

// journalKey maps attribute keys onto journal field names, which allow
// only upper case letters, digits and underscores.
func journalKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return '_'
	}, key)
}

func runningAsService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.SplitN(strings.TrimSpace(string(content)), ":", 3)
	return len(parts) == 3 && strings.HasSuffix(path.Dir(parts[2]), ".service")
}
