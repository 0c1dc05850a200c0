package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/praetorian-inc/certwatch/pkg/config"
	"github.com/praetorian-inc/certwatch/pkg/rule"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWatchCmd returns a command with fresh watch flags parsed from args.
func newWatchCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	registerWatchFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(newWatchCmd(t), noEnv)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeFile(t, "certwatch.yaml", `
url: wss://from-file.example/
concurrency: 4
webhook_url: https://hooks.example/file
output: joined
`)
	env := envMap(map[string]string{
		config.EnvURL:         "wss://from-env.example/",
		config.EnvConcurrency: "8",
	})

	cmd := newWatchCmd(t, "--config", path, "--concurrency", "16")
	cfg, err := loadConfig(cmd, env)
	require.NoError(t, err)

	assert.Equal(t, "wss://from-env.example/", cfg.URL, "env overrides file")
	assert.Equal(t, 16, cfg.Concurrency, "flag overrides env")
	assert.Equal(t, "https://hooks.example/file", cfg.WebhookURL, "file overrides default")
	assert.Equal(t, "joined", cfg.Output)
	assert.Equal(t, "regexes.txt", cfg.RegexFile)
}

func TestLoadConfig_UnsetFlagsKeepEnv(t *testing.T) {
	env := envMap(map[string]string{config.EnvWebhookURL: "https://hooks.example/env"})

	cfg, err := loadConfig(newWatchCmd(t, "-d"), env)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/env", cfg.WebhookURL)
	assert.True(t, cfg.Debug)
}

func TestLoadConfig_ShortFlags(t *testing.T) {
	cmd := newWatchCmd(t,
		"-r", "patterns.txt",
		"-u", "wss://feed.example/",
		"-s", "https://hooks.example/x",
		"-c", "2",
		"-o", "json",
	)
	cfg, err := loadConfig(cmd, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "patterns.txt", cfg.RegexFile)
	assert.Equal(t, "wss://feed.example/", cfg.URL)
	assert.Equal(t, "https://hooks.example/x", cfg.WebhookURL)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoadConfig_RuleFilters(t *testing.T) {
	cmd := newWatchCmd(t, "--include-rules", "phish.*, bank", "--exclude-rules", "phish.test")
	cfg, err := loadConfig(cmd, noEnv)
	require.NoError(t, err)
	assert.Equal(t, []string{"phish.*", "bank"}, cfg.IncludeRules)
	assert.Equal(t, []string{"phish.test"}, cfg.ExcludeRules)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"http feed url", []string{"-u", "http://feed.example/"}, "url"},
		{"bad output", []string{"-o", "xml"}, "output"},
		{"bad webhook", []string{"-s", "ftp://hooks.example/"}, "webhook_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(newWatchCmd(t, tt.args...), noEnv)
			require.Error(t, err)
			assert.ErrorContains(t, err, "invalid configuration")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadConfig_UnknownKeyInFile(t *testing.T) {
	path := writeFile(t, "certwatch.yaml", "no_such_key: 1\n")
	_, err := loadConfig(newWatchCmd(t, "--config", path), noEnv)
	assert.Error(t, err)
}

func TestLoadPatterns(t *testing.T) {
	path := writeFile(t, "regexes.txt", "paypal\n\n(?i)bank\r\nevil\\.com$\n")

	cfg := config.Default()
	cfg.RegexFile = path
	patterns, err := loadPatterns(cfg)
	require.NoError(t, err)
	require.Len(t, patterns, 3)
	assert.Equal(t, "paypal", patterns[0].Source)
	assert.Equal(t, "(?i)bank", patterns[1].Source)
	assert.Equal(t, "line.3", patterns[1].ID)
}

func TestLoadPatterns_Filtered(t *testing.T) {
	path := writeFile(t, "regexes.txt", "a\nb\nc\n")

	cfg := config.Default()
	cfg.RegexFile = path
	cfg.ExcludeRules = []string{`^line\.2$`}
	patterns, err := loadPatterns(cfg)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "c", patterns[1].Source)

	cfg.ExcludeRules = []string{"line"}
	_, err = loadPatterns(cfg)
	assert.ErrorContains(t, err, "every rule was filtered out")
}

func TestLoadPatterns_BlankFileRefused(t *testing.T) {
	cfg := config.Default()
	cfg.RegexFile = writeFile(t, "regexes.txt", "\n\r\n\n")
	_, err := loadPatterns(cfg)
	assert.ErrorIs(t, err, rule.ErrEmptyFile)
}

func TestLoadPatterns_Missing(t *testing.T) {
	cfg := config.Default()
	cfg.RegexFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err := loadPatterns(cfg)
	assert.ErrorContains(t, err, "missing.txt")
}

func TestWatch_InvalidPatternFails(t *testing.T) {
	cfg := config.Default()
	cfg.RegexFile = writeFile(t, "regexes.txt", "ok\n(unclosed\n")

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	err := watch(context.Background(), cmd, cfg, newLogger(&bytes.Buffer{}, false))
	assert.ErrorContains(t, err, "(unclosed")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch_EndToEnd(t *testing.T) {
	const msg = `{"message_type":"certificate_update","data":{"leaf_cert":{"all_domains":["login.paypal.evil.com","example.org"]}}}`

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"message_type":"heartbeat"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.RegexFile = writeFile(t, "regexes.txt", "paypal\nevil\\.com$\nnomatch\n")
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Color = "never"

	out := &syncBuffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watch(ctx, cmd, cfg, newLogger(&bytes.Buffer{}, false)) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "login.paypal.evil.com")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}

	assert.Equal(t,
		"paypal -> login.paypal.evil.com\n"+`evil\.com$ -> login.paypal.evil.com`+"\n",
		out.String())
}
