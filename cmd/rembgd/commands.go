package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"rembgd"
	"rembgd/internal/history/factory"
	"rembgd/internal/logger"
	"rembgd/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:7878/api"

func newAPIClient(f APIFlags) (*client.Client, error) {
	apiUrl := f.APIUrl
	if apiUrl == "" {
		apiUrl = defaultAPIUrl
	}
	c := client.New(client.Config{BaseURL: apiUrl, Timeout: f.APITimeout})
	if !c.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'rembgd serve'", apiUrl)
	}
	return c, nil
}

func runStatus(f APIFlags) error {
	c, err := newAPIClient(f)
	if err != nil {
		return err
	}
	st, err := c.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func runStart(f APIFlags) error {
	c, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if err := c.StartHelper(context.Background()); err != nil {
		return err
	}
	fmt.Println("Helper start accepted")
	return nil
}

func runStop(f APIFlags) error {
	c, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if err := c.StopHelper(context.Background()); err != nil {
		return err
	}
	fmt.Println("Helper stopped")
	return nil
}

func runPreload(f PreloadFlags) error {
	c, err := newAPIClient(f.APIFlags)
	if err != nil {
		return err
	}
	if err := c.PreloadModel(context.Background(), f.Model); err != nil {
		return err
	}
	fmt.Printf("Model '%s' preloaded\n", f.Model)
	return nil
}

func runRemove(f RemoveFlags) error {
	c, err := newAPIClient(f.APIFlags)
	if err != nil {
		return err
	}

	img, err := os.ReadFile(f.Input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	out, err := c.RemoveBackground(context.Background(), f.Model, f.Input, img)
	if err != nil {
		return err
	}

	if err := os.WriteFile(f.Output, out, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", f.Output, len(out))
	return nil
}

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}

	cfg, err := rembgd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	log := buildLogger(cfg)

	// Setup metrics from config
	if cfg.Metrics == nil || cfg.Metrics.Enabled {
		if err := rembgd.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
	}

	var sinks []rembgd.HistorySink
	if cfg.History != nil && cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("failed to open history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		sinks = append(sinks, sink)
	}

	daemon := rembgd.New(cfg.SupervisorConfig(), rembgd.Options{
		Logger:         log,
		GatewayTimeout: cfg.Gateway.Timeout,
		History:        sinks,
	})
	defer func() { _ = daemon.Close() }()

	if err := daemon.Start(); err != nil {
		return fmt.Errorf("failed to start helper: %w", err)
	}

	listen := "127.0.0.1:7878"
	basePath := "/api"
	if cfg.Server != nil {
		if cfg.Server.Listen != "" {
			listen = cfg.Server.Listen
		}
		if cfg.Server.BasePath != "" {
			basePath = cfg.Server.BasePath
		}
	}

	server, err := rembgd.NewHTTPServer(listen, basePath, daemon)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	fmt.Printf("Starting rembgd server on %s%s\n", listen, basePath)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	if err := server.Close(); err != nil {
		fmt.Printf("Warning: server close: %v\n", err)
	}
	return nil
}

func buildLogger(cfg *rembgd.FileConfig) *slog.Logger {
	path := ""
	level := slog.LevelInfo
	if cfg.Log != nil {
		path = cfg.Log.File
		switch strings.ToLower(cfg.Log.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return logger.New(path, level)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(data))
}
