package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"wizz/blobstore"
	"wizz/config"
	"wizz/db"
	"wizz/logging"
	"wizz/server"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML or JSON config file")
	controlSocketPath := pflag.String("control-socket", "/tmp/wizz.sock", "unix socket for operator commands, empty disables")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer database.Close()

	blobs := blobstore.New(cfg.StorageDir)
	if err := blobs.Init(); err != nil {
		logger.Fatal("failed to initialize blob storage", zap.String("path", cfg.StorageDir), zap.Error(err))
	}

	srv := server.New(database, blobs, &server.ServerConfig{
		Port:           cfg.Port,
		HTTPAddress:    cfg.HTTPAddress,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxPacketSize:  cfg.MaxPacketSize,
		StorageWorkers: cfg.StorageWorkers,
		SendQueueSize:  cfg.SendQueueSize,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *controlSocketPath != "" {
		go startControlSocket(ctx, *controlSocketPath, srv, cancel, logger)
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
	srv.Shutdown("maintenance", time.Time{})
	logger.Info("server stopped")
}

func startControlSocket(ctx context.Context, path string, srv *server.Server, stop context.CancelFunc, logger *zap.Logger) {
	// Remove a stale socket left by a previous run
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		logger.Warn("failed to create control socket", zap.String("path", path), zap.Error(err))
		return
	}
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	logger.Info("control socket listening", zap.String("path", path))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		go handleControlCommand(conn, srv, stop, logger)
	}
}

// handleControlCommand serves one line: "stats" or "shutdown|reason|RFC3339 time".
func handleControlCommand(conn net.Conn, srv *server.Server, stop context.CancelFunc, logger *zap.Logger) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		var completionTime time.Time

		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}
		if len(parts) >= 3 && parts[2] != "" {
			completionTime, _ = time.Parse(time.RFC3339, parts[2])
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		logger.Info("shutdown requested", zap.String("reason", reason), zap.Time("completion", completionTime))
		srv.Shutdown(reason, completionTime)
		stop()

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
