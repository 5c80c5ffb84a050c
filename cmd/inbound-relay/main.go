// Package main is the entry point for the inbound parse relay.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/inbound-parse-relay/internal/config"
	"github.com/shineum/inbound-parse-relay/internal/provider"
	"github.com/shineum/inbound-parse-relay/internal/provider/graph"
	"github.com/shineum/inbound-parse-relay/internal/provider/ses"
	"github.com/shineum/inbound-parse-relay/internal/provider/stdout"
	"github.com/shineum/inbound-parse-relay/internal/relay"
	relaytls "github.com/shineum/inbound-parse-relay/internal/tls"
	"github.com/shineum/inbound-parse-relay/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	var tlsConfig *tls.Config
	tlsMode := relaytls.Mode("off")
	if cfg.HTTP.TLS {
		tlsConfig, tlsMode, err = relaytls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, tlsHosts(cfg.HTTP.Listen)...)
		if err != nil {
			slog.Error("failed to setup TLS", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to select provider", "error", err)
		os.Exit(1)
	}

	server := webhook.New(webhook.ServerConfig{
		ListenAddr:   cfg.HTTP.Listen,
		Path:         cfg.HTTP.Path,
		Provider:     prov,
		Builder:      relay.NewBuilder(cfg.Relay.ForwardTo),
		MaxBodySize:  cfg.HTTP.MaxBodySize,
		TLSConfig:    tlsConfig,
		AuthUsername: cfg.HTTP.Username,
		AuthPassword: cfg.HTTP.Password,
	})

	slog.Info("starting inbound-parse-relay",
		"listen", cfg.HTTP.Listen,
		"path", cfg.HTTP.Path,
		"provider", prov.Name(),
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", tlsMode,
		"forward_to", cfg.Relay.ForwardTo,
	)

	if mayLoop(cfg, prov) {
		slog.Warn("relay.forward_to is empty, messages go back to their inbound recipients and may loop through the parse webhook",
			"provider", prov.Name(),
		)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("inbound-parse-relay stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// tlsHosts returns the SANs for a self-signed certificate: the host part of
// the listen address when it names one, plus localhost.
func tlsHosts(listen string) []string {
	host, _, err := net.SplitHostPort(listen)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		return nil
	}
	if host == "localhost" {
		return []string{"localhost", "127.0.0.1"}
	}
	return []string{host, "localhost", "127.0.0.1"}
}

// mayLoop reports whether delivery would re-send messages to the inbound
// parse addresses they arrived on. stdout never delivers.
func mayLoop(cfg *config.Config, prov provider.Provider) bool {
	return len(cfg.Relay.ForwardTo) == 0 && prov.Name() != "stdout"
}

var errProviderNotConfigured = errors.New("provider selected but not configured")

// selectProvider chooses the delivery backend. An explicit provider wins;
// otherwise Graph, then SES, then stdout are tried in that order.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("ses: %w: SES_REGION and SES_SENDER are required", errProviderNotConfigured)
		}
		return newSES(ctx, cfg, false)

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("graph: %w: GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER are required", errProviderNotConfigured)
		}
		return newGraph(cfg, false), nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case "":
		if cfg.GraphConfigured() {
			return newGraph(cfg, true), nil
		}
		if cfg.SESConfigured() {
			return newSES(ctx, cfg, true)
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newSES(ctx context.Context, cfg *config.Config, detected bool) (provider.Provider, error) {
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
		"auto_detected", detected,
	)
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newGraph(cfg *config.Config, detected bool) provider.Provider {
	slog.Info("using Microsoft Graph provider",
		"sender", cfg.Graph.Sender,
		"auto_detected", detected,
	)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	})
}
