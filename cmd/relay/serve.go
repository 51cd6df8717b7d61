package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/javelin/internal/directory"
	"github.com/Tyrowin/javelin/internal/envelope"
	"github.com/Tyrowin/javelin/internal/logger"
	"github.com/Tyrowin/javelin/internal/server"
)

var serveFlags struct {
	port            string
	path            string
	workers         int
	directory       string
	algorithm       string
	secret          string
	publicKeyFile   string
	tlsCert         string
	tlsKey          string
	shutdownTimeout time.Duration
	localIdentity   string
	localEndpoints  []string
}

// serveCmd runs the relay hub until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay hub",
	Long:  "Start the relay hub and serve peers until SIGINT or SIGTERM, then shut down gracefully.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := server.NewConfigFromEnv()
		applyServeFlags(cmd, cfg)

		log, err := logger.NewFromStrings(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}

		verifier, err := cfg.NewVerifier()
		if err != nil {
			return fmt.Errorf("token verifier: %w", err)
		}

		dir, closeDir, err := directory.Open(cfg.DirectoryPath)
		if err != nil {
			return fmt.Errorf("peer directory: %w", err)
		}
		defer func() { _ = closeDir() }()

		relay, err := server.New(*cfg, verifier, dir, server.WithLogger(log))
		if err != nil {
			return err
		}
		for _, endpoint := range cfg.LocalEndpoints {
			relay.Handle(endpoint, func(env envelope.Envelope) {
				log.Info("local delivery", "endpoint", env.Endpoint, "receiver", env.ReceiverName(), "bytes", len(env.Payload))
			})
		}

		if err := relay.Start(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		serveErr := make(chan error, 1)
		go func() { serveErr <- relay.Wait() }()

		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
		case err := <-serveErr:
			if err != nil {
				log.Error("HTTP server stopped", "error", err)
			}
		}

		if err := relay.Stop(cfg.ShutdownTimeout); err != nil {
			log.Warn("relay stopped with forced closes", "error", err)
		}
		return nil
	},
}

func applyServeFlags(cmd *cobra.Command, cfg *server.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = serveFlags.port
	}
	if flags.Changed("path") {
		cfg.Path = serveFlags.path
	}
	if flags.Changed("workers") {
		cfg.Workers = serveFlags.workers
	}
	if flags.Changed("directory") {
		cfg.DirectoryPath = serveFlags.directory
	}
	if flags.Changed("jwt-algorithm") {
		cfg.JWT.Algorithm = serveFlags.algorithm
	}
	if flags.Changed("jwt-secret") {
		cfg.JWT.Secret = serveFlags.secret
	}
	if flags.Changed("jwt-public-key") {
		cfg.JWT.PublicKeyFile = serveFlags.publicKeyFile
	}
	if flags.Changed("tls-cert") {
		cfg.TLS.CertFile = serveFlags.tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.TLS.KeyFile = serveFlags.tlsKey
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = serveFlags.shutdownTimeout
	}
	if flags.Changed("local-identity") {
		cfg.LocalIdentity = serveFlags.localIdentity
	}
	if flags.Changed("local-endpoints") {
		cfg.LocalEndpoints = serveFlags.localEndpoints
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.port, "port", ":8080", "Listen address or port")
	f.StringVar(&serveFlags.path, "path", "/", "WebSocket resource path")
	f.IntVar(&serveFlags.workers, "workers", 0, "Concurrent handshakes (default: number of CPUs)")
	f.StringVar(&serveFlags.directory, "directory", "servers.json", "Peer directory (.json or .db)")
	f.StringVar(&serveFlags.algorithm, "jwt-algorithm", "HS256", "Token signing algorithm")
	f.StringVar(&serveFlags.secret, "jwt-secret", "", "HMAC secret")
	f.StringVar(&serveFlags.publicKeyFile, "jwt-public-key", "", "PEM public key for RS/ES/EdDSA algorithms")
	f.StringVar(&serveFlags.tlsCert, "tls-cert", "", "PEM certificate; serves wss:// together with --tls-key")
	f.StringVar(&serveFlags.tlsKey, "tls-key", "", "PEM private key for --tls-cert")
	f.DurationVar(&serveFlags.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Grace period for peers on shutdown")
	f.StringVar(&serveFlags.localIdentity, "local-identity", "", "Register the relay itself as this peer")
	f.StringSliceVar(&serveFlags.localEndpoints, "local-endpoints", nil, "Endpoints the local peer subscribes to")
}
