package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/praetorian-inc/certwatch"
	"github.com/praetorian-inc/certwatch/pkg/config"
	"github.com/praetorian-inc/certwatch/pkg/matcher"
	"github.com/praetorian-inc/certwatch/pkg/metrics"
	"github.com/praetorian-inc/certwatch/pkg/notify"
	"github.com/praetorian-inc/certwatch/pkg/rule"
	"github.com/praetorian-inc/certwatch/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath   string
	includeRules string
	excludeRules string
	flagValues   = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "certwatch",
	Short: "Watch a certificate transparency feed for suspicious domains",
	Long: `certwatch consumes a certstream WebSocket feed, tests every domain of every new
certificate against a list of regular expressions and reports matches to
stdout and, optionally, a Slack-compatible webhook.

The pattern file holds one regular expression per line; blank lines are
skipped. Files ending in .yml or .yaml are read as rule files instead.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	Version:       version,
	RunE:          runWatch,
}

func init() {
	registerWatchFlags(rootCmd)

	rootCmd.SetVersionTemplate("certwatch v{{.Version}}\n")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(rulesCmd)
}

// registerWatchFlags binds the watch flags to their package variables,
// resetting those variables to the defaults.
func registerWatchFlags(cmd *cobra.Command) {
	d := config.Default()
	flagValues = d
	f := cmd.Flags()

	f.StringVar(&configPath, "config", "", "YAML config file")
	f.StringVarP(&flagValues.RegexFile, "regex-file", "r", d.RegexFile, "Pattern file, one regex per line (.yml/.yaml for rule files)")
	f.StringVar(&includeRules, "include-rules", "", "Comma-separated regexes; only rule IDs matching one are loaded")
	f.StringVar(&excludeRules, "exclude-rules", "", "Comma-separated regexes; rule IDs matching one are skipped")
	f.StringVar(&flagValues.Engine, "engine", d.Engine, "Regex engine: regexp, hyperscan")

	f.StringVarP(&flagValues.URL, "url", "u", d.URL, "Certstream WebSocket URL, e.g. 'wss://certstream.calidog.io/'")
	f.IntVar(&flagValues.MaxAttempts, "max-attempts", d.MaxAttempts, "Consecutive failed connection attempts before exiting (0 = retry forever)")
	f.DurationVar(&flagValues.PingInterval, "ping-interval", d.PingInterval, "Keepalive ping period (0 disables)")
	f.DurationVar(&flagValues.ReadTimeout, "read-timeout", d.ReadTimeout, "Reconnect when nothing is received for this long (0 disables)")
	f.IntVarP(&flagValues.Concurrency, "concurrency", "c", d.Concurrency, "Messages processed at once (0 = number of CPUs, negative = unbounded)")

	f.StringVarP(&flagValues.Output, "output", "o", d.Output, "Stdout format: lines, joined, json")
	f.StringVar(&flagValues.Color, "color", d.Color, "Color output: auto, always, never")
	f.StringVarP(&flagValues.WebhookURL, "webhook-url", "s", d.WebhookURL, "Webhook URL to POST matches to (env "+config.EnvWebhookURL+")")
	f.StringVar(&flagValues.WebhookFormat, "webhook-format", d.WebhookFormat, "Webhook payload: slack, json")
	f.IntVar(&flagValues.WebhookRetries, "webhook-retries", d.WebhookRetries, "Extra webhook attempts after a failure")
	f.DurationVar(&flagValues.WebhookTimeout, "webhook-timeout", d.WebhookTimeout, "Webhook request timeout")

	f.BoolVarP(&flagValues.Debug, "debug", "d", d.Debug, "Debug logging")
	f.StringVar(&flagValues.MetricsAddr, "metrics-addr", d.MetricsAddr, "Serve Prometheus metrics on this address, e.g. ':9090'")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig layers defaults, the config file, the environment and the
// flags set on the command line, in that order.
func loadConfig(cmd *cobra.Command, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flag := cmd.Flags().Lookup(name); flag != nil && flag.Changed {
			apply()
		}
	}
	set("regex-file", func() { cfg.RegexFile = flagValues.RegexFile })
	set("include-rules", func() { cfg.IncludeRules = rule.ParseList(includeRules) })
	set("exclude-rules", func() { cfg.ExcludeRules = rule.ParseList(excludeRules) })
	set("engine", func() { cfg.Engine = flagValues.Engine })
	set("url", func() { cfg.URL = flagValues.URL })
	set("max-attempts", func() { cfg.MaxAttempts = flagValues.MaxAttempts })
	set("ping-interval", func() { cfg.PingInterval = flagValues.PingInterval })
	set("read-timeout", func() { cfg.ReadTimeout = flagValues.ReadTimeout })
	set("concurrency", func() { cfg.Concurrency = flagValues.Concurrency })
	set("output", func() { cfg.Output = flagValues.Output })
	set("color", func() { cfg.Color = flagValues.Color })
	set("webhook-url", func() { cfg.WebhookURL = flagValues.WebhookURL })
	set("webhook-format", func() { cfg.WebhookFormat = flagValues.WebhookFormat })
	set("webhook-retries", func() { cfg.WebhookRetries = flagValues.WebhookRetries })
	set("webhook-timeout", func() { cfg.WebhookTimeout = flagValues.WebhookTimeout })
	set("debug", func() { cfg.Debug = flagValues.Debug })
	set("metrics-addr", func() { cfg.MetricsAddr = flagValues.MetricsAddr })
}

// loadPatterns reads the pattern file and applies the rule filters.
func loadPatterns(cfg *config.Config) ([]types.Pattern, error) {
	patterns, err := rule.LoadFile(cfg.RegexFile)
	if err != nil {
		return nil, err
	}
	patterns, err = rule.Filter(patterns, rule.FilterConfig{Include: cfg.IncludeRules, Exclude: cfg.ExcludeRules})
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%s: every rule was filtered out", cfg.RegexFile)
	}
	return patterns, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, os.LookupEnv)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Debug)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watch(ctx, cmd, cfg, logger)
}

func watch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) error {
	patterns, err := loadPatterns(cfg)
	if err != nil {
		return err
	}

	stdout, err := notify.NewStdout(cmd.OutOrStdout(), cfg.Output, cfg.Color)
	if err != nil {
		return err
	}
	sinks := []notify.Notifier{stdout}
	if cfg.WebhookURL != "" {
		hook, err := notify.NewWebhook(cfg.WebhookURL, notify.WebhookOptions{
			Format:  cfg.WebhookFormat,
			Retries: cfg.WebhookRetries,
			Timeout: cfg.WebhookTimeout,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, hook)
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}

	mon, err := certwatch.New(patterns,
		certwatch.WithURL(cfg.URL),
		certwatch.WithNotifiers(sinks...),
		certwatch.WithConcurrency(cfg.Concurrency),
		certwatch.WithMaxAttempts(cfg.MaxAttempts),
		certwatch.WithKeepalive(cfg.PingInterval, cfg.ReadTimeout),
		certwatch.WithMatcherOptions(matcher.WithEngine(cfg.Engine)),
		certwatch.WithLogger(logger),
		certwatch.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer mon.Close()

	if err := rule.ValidateExamples(patterns, mon); err != nil {
		logger.Warn("rule examples disagree with their patterns", "error", err)
	}

	logger.Info("starting",
		"version", version,
		"patterns", mon.PatternCount(),
		"url", cfg.URL,
		"webhook", cfg.WebhookURL != "",
		"engine", cfg.Engine,
	)

	g, ctx := errgroup.WithContext(ctx)
	if m != nil {
		g.Go(func() error { return m.Serve(ctx, cfg.MetricsAddr, logger) })
	}
	g.Go(func() error {
		err := mon.Run(ctx)
		if err != nil {
			return err
		}
		// Stop the metrics server once the monitor has drained.
		return context.Canceled
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("stopped")
		return nil
	}
	return err
}
