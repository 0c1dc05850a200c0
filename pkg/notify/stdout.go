package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/praetorian-inc/certwatch/pkg/types"
	"golang.org/x/term"
)

// Output modes for StdoutSink.
const (
	OutputLines  = "lines"  // "pattern -> domain", one line per matched pattern
	OutputJoined = "joined" // "domain -> p1, p2", one line per domain
	OutputJSON   = "json"   // one JSON object per domain
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// styles holds the formatters for human-readable output.
type styles struct {
	pattern *color.Color
	arrow   *color.Color
	domain  *color.Color
}

func newStyles(enabled bool) *styles {
	s := &styles{
		pattern: color.New(color.FgYellow),
		arrow:   color.New(color.Faint),
		domain:  color.New(color.Bold, color.FgHiWhite),
	}
	for _, c := range []*color.Color{s.pattern, s.arrow, s.domain} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// StdoutSink writes results to a writer, normally os.Stdout.
type StdoutSink struct {
	mu     sync.Mutex
	w      io.Writer
	mode   string
	styles *styles
}

// NewStdout creates a sink writing to w in the given output mode. color is
// one of the Color* modes; auto enables color only when w is a terminal and
// NO_COLOR is unset.
func NewStdout(w io.Writer, mode, colorMode string) (*StdoutSink, error) {
	switch mode {
	case "":
		mode = OutputLines
	case OutputLines, OutputJoined, OutputJSON:
	default:
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}

	enabled, err := colorEnabled(w, colorMode)
	if err != nil {
		return nil, err
	}
	if mode == OutputJSON {
		enabled = false
	}

	return &StdoutSink{w: w, mode: mode, styles: newStyles(enabled)}, nil
}

func colorEnabled(w io.Writer, mode string) (bool, error) {
	switch mode {
	case ColorAlways:
		return true, nil
	case ColorNever:
		return false, nil
	case ColorAuto, "":
		f, ok := w.(*os.File)
		if !ok || os.Getenv("NO_COLOR") != "" {
			return false, nil
		}
		return term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("unknown color mode %q", mode)
	}
}

// Name implements Named.
func (s *StdoutSink) Name() string {
	return "stdout"
}

// Deliver writes every line for result in a single Write call. A failed
// write is returned wrapped in ErrStdout.
func (s *StdoutSink) Deliver(_ context.Context, result types.MatchResult) error {
	buf, err := s.format(result)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("%w: %w", ErrStdout, err)
	}
	return nil
}

func (s *StdoutSink) format(result types.MatchResult) ([]byte, error) {
	var buf bytes.Buffer
	switch s.mode {
	case OutputJSON:
		if err := json.NewEncoder(&buf).Encode(result); err != nil {
			return nil, fmt.Errorf("failed to encode result for %s: %w", result.Domain, err)
		}
	case OutputJoined:
		fmt.Fprintf(&buf, "%s %s %s\n",
			s.styles.domain.Sprint(result.Domain),
			s.styles.arrow.Sprint("->"),
			s.styles.pattern.Sprint(strings.Join(result.Patterns, ", ")))
	default:
		for _, p := range result.Patterns {
			fmt.Fprintf(&buf, "%s %s %s\n",
				s.styles.pattern.Sprint(p),
				s.styles.arrow.Sprint("->"),
				s.styles.domain.Sprint(result.Domain))
		}
	}
	return buf.Bytes(), nil
}
