// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Secure-proxy holds credentials on behalf of sandboxed callers: peers
// establish an authenticated encrypted session and issue requests that
// the proxy matches against per-caller routes, substitutes secrets
// into, and executes upstream. Callers never see credential values.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/age"
	"github.com/spf13/pflag"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/audit"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/identity"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/clock"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/version"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/proxy"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/route"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/session"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("a command is required")
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "keygen":
		return runKeygen(args[1:])
	case "seal":
		return runSeal(args[1:])
	case "version":
		fmt.Printf("secure-proxy %s\n", version.Info())
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: secure-proxy <command> [flags]

commands:
  serve     run the proxy server
  keygen    generate a key bundle (and optionally a bundle identity)
  seal      encrypt a KEY=value credential file to bundle recipients
  version   print version information`)
}

func runServe(args []string) error {
	flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to the YAML config file (required)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("--config is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	config, err := proxy.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger.Info("starting secure-proxy",
		"version", version.Info(),
		"listen_address", config.ListenAddress,
	)

	keyBundle, err := identity.LoadKeyBundle(config.KeyFile)
	if err != nil {
		return fmt.Errorf("loading key bundle: %w", err)
	}
	defer keyBundle.Close()

	peers, err := config.AuthorizedPeers()
	if err != nil {
		return err
	}

	catalog := route.Catalog{}
	if config.CatalogDirectory != "" {
		catalog, err = route.LoadCatalog(config.CatalogDirectory)
		if err != nil {
			return err
		}
		logger.Info("loaded connector catalog",
			"directory", config.CatalogDirectory,
			"connectors", len(catalog),
		)
	}

	environ, err := proxy.BuildEnviron(config)
	if err != nil {
		return err
	}

	realClock := clock.Real()
	auditLog, err := audit.New(audit.Options{
		Logger:    logger,
		Clock:     realClock,
		Directory: config.AuditDirectory,
	})
	if err != nil {
		return err
	}

	registry := session.NewRegistry(realClock, logger, session.RegistryConfig{
		PendingTTL:    config.Session.PendingTTL.Std(),
		IdleTTL:       config.Session.IdleTTL.Std(),
		SweepInterval: config.Session.SweepInterval.Std(),
		OnEvict:       proxy.EvictionRecorder(auditLog),
	})
	registry.Start()
	defer registry.Stop()

	server := proxy.NewServer(proxy.ServerOptions{
		Identity:           keyBundle,
		Peers:              peers,
		Catalog:            catalog,
		Callers:            config.Callers,
		Environ:            environ,
		Registry:           registry,
		Audit:              auditLog,
		Clock:              realClock,
		Logger:             logger,
		RateLimitPerMinute: config.RateLimitPerMinute,
		UpstreamClient:     &http.Client{Timeout: config.UpstreamTimeout.Std()},
	})

	httpServer := &http.Server{
		Addr:              config.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrors := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrors <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErrors:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func runKeygen(args []string) error {
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	outputPath := flagSet.String("output", "", "path for the key bundle file (required)")
	bundleIdentityPath := flagSet.String("bundle-identity", "", "also write an age identity for sealed credential bundles")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *outputPath == "" {
		return fmt.Errorf("--output is required")
	}

	bundle, err := identity.Generate()
	if err != nil {
		return err
	}
	defer bundle.Close()

	if err := identity.SaveKeyBundle(*outputPath, bundle); err != nil {
		return err
	}

	fmt.Printf("key bundle written to %s\n\n", *outputPath)
	fmt.Println("public keys for peer allow-lists:")
	fmt.Printf("  signing_key:  %s\n", base64.StdEncoding.EncodeToString(bundle.Public.SigningKey))
	fmt.Printf("  exchange_key: %s\n", base64.StdEncoding.EncodeToString(bundle.Public.ExchangeKey))

	if *bundleIdentityPath != "" {
		ageIdentity, err := age.GenerateX25519Identity()
		if err != nil {
			return fmt.Errorf("generating bundle identity: %w", err)
		}
		if err := os.WriteFile(*bundleIdentityPath, []byte(ageIdentity.String()+"\n"), 0600); err != nil {
			return fmt.Errorf("writing bundle identity: %w", err)
		}
		fmt.Printf("\nbundle identity written to %s\n", *bundleIdentityPath)
		fmt.Printf("  recipient: %s\n", ageIdentity.Recipient())
	}
	return nil
}

func runSeal(args []string) error {
	flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
	inputPath := flagSet.String("input", "", "KEY=value credential file to seal (required)")
	outputPath := flagSet.String("output", "", "path for the sealed bundle (required)")
	recipients := flagSet.StringArray("recipient", nil, "age recipient key (repeatable, at least one)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *inputPath == "" || *outputPath == "" {
		return fmt.Errorf("--input and --output are required")
	}

	plaintext, err := os.ReadFile(*inputPath)
	if err != nil {
		return fmt.Errorf("reading credential file: %w", err)
	}
	if err := route.SealBundle(plaintext, *recipients, *outputPath); err != nil {
		return err
	}
	fmt.Printf("sealed bundle written to %s\n", *outputPath)
	return nil
}
