package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/epalmerini/keyhole/internal/broker"
	"github.com/epalmerini/keyhole/internal/capture"
	"github.com/epalmerini/keyhole/internal/config"
	"github.com/epalmerini/keyhole/internal/jolokia"
	"github.com/epalmerini/keyhole/internal/logx"
	"github.com/epalmerini/keyhole/internal/proto"
	"github.com/epalmerini/keyhole/internal/session"
	"github.com/epalmerini/keyhole/internal/tools"
	"github.com/epalmerini/keyhole/internal/xdg"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Show version")
	profile := flag.String("profile", "", "Connection profile from config.toml")
	httpAddr := flag.String("http", "", "Serve MCP over streamable HTTP on this address instead of stdio")
	flag.Parse()

	if *showVersion {
		fmt.Printf("keyhole %s\n", version)
		return
	}

	configDir, err := xdg.Dir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving config directory: %v\n", err)
		os.Exit(1)
	}

	fileCfg, err := config.LoadFileConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *profile != "" {
		if _, ok := fileCfg.Profiles[*profile]; !ok {
			logx.Log.Warn().Str("profile", *profile).Strs("available", fileCfg.ProfileNames()).
				Msg("unknown profile, using env/defaults")
		}
	}
	cfg := fileCfg.Resolve(*profile, configDir)

	log := logx.Log
	client := jolokia.NewClient(cfg.BaseURL(), cfg.Origin,
		time.Duration(cfg.TimeoutSeconds)*time.Second, log)

	sessions := session.NewStore(func(ctx context.Context, creds jolokia.Credentials) *jolokia.Error {
		return client.Call(ctx, creds, broker.VersionRequest(cfg.BrokerName)).Err()
	})

	svc := broker.NewService(client, sessions, cfg.BrokerName, log)

	if cfg.ProtoPath != "" {
		decoder, err := proto.NewDecoder(cfg.ProtoPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.ProtoPath).Msg("proto decoding disabled")
		} else {
			for _, w := range decoder.Warnings() {
				log.Debug().Str("proto", w).Msg("skipped proto file")
			}
			svc.WithDecoder(decoder)
		}
	}

	var writer *capture.AsyncWriter
	if cfg.Capture {
		store, err := capture.NewStore(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening capture store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		writer = capture.NewAsyncWriter(store)
		defer writer.Close()
		svc.WithCapture(writer)
	}

	srv := server.NewMCPServer(
		"keyhole",
		version,
		server.WithToolCapabilities(true),
	)
	tools.Register(srv, svc)

	log.Info().Str("broker", cfg.BrokerName).Str("bridge", cfg.BaseURL()).Msg("keyhole ready")

	if *httpAddr != "" {
		httpSrv := server.NewStreamableHTTPServer(srv)
		if err := httpSrv.Start(*httpAddr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := server.ServeStdio(srv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
