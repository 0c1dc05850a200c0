package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/praetorian-inc/certwatch/pkg/matcher"
	"github.com/praetorian-inc/certwatch/pkg/types"
	"github.com/stretchr/testify/require"
)

func certMessage(t testing.TB, domains ...string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"message_type": "certificate_update",
		"data": map[string]any{
			"leaf_cert": map[string]any{"all_domains": domains},
		},
	})
	require.NoError(t, err)
	return data
}

var heartbeat = []byte(`{"message_type":"heartbeat","timestamp":1}`)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func compileLines(t testing.TB, lines ...string) *matcher.Set {
	t.Helper()
	set, err := matcher.CompileLines(lines)
	require.NoError(t, err)
	return set
}

// fakeTransport serves messages from a channel. Closing msgs ends the
// stream with io.EOF.
type fakeTransport struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport(buffer int) *fakeTransport {
	return &fakeTransport{msgs: make(chan []byte, buffer), closed: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case m, ok := <-f.msgs:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-f.closed:
		return nil, ErrTransportClosed
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// collector records delivered results.
type collector struct {
	mu      sync.Mutex
	results []types.MatchResult
	err     error
}

func (c *collector) Deliver(_ context.Context, r types.MatchResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return c.err
}

func (c *collector) snapshot() []types.MatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.MatchResult(nil), c.results...)
}

func (c *collector) domains() []string {
	var out []string
	for _, r := range c.snapshot() {
		out = append(out, r.Domain)
	}
	return out
}
