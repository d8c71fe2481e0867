package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/server"
)

var (
	port            string
	allowedOrigins  string
	maxMessageSize  int64
	rateBurst       int
	rateInterval    time.Duration
	subscriberBuf   int
	shutdownTimeout time.Duration
	logLevel        string
	logFormat       string
)

// rootCmd starts the relay. Flags override environment configuration only
// when they are set explicitly.
var rootCmd = &cobra.Command{
	Use:   "relaychat",
	Short: "Websocket chat relay",
	Long: `relaychat accepts websocket connections on /ws, lets each connection
register a display name and relays chat messages to every connected client.

Configuration is read from the environment (SERVER_PORT, ALLOWED_ORIGINS,
MAX_MESSAGE_SIZE, RATE_LIMIT_BURST, RATE_LIMIT_REFILL_INTERVAL,
SUBSCRIBER_BUFFER, SHUTDOWN_TIMEOUT, LOG_LEVEL, LOG_FORMAT); flags take
precedence.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := configFromFlags(cmd)
		zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer func() { _ = zlog.Sync() }()

		if logger.ParseLevel(cfg.LogLevel) > zapcore.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		return run(cmd.Context(), cfg, zlog)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&port, "port", ":8080", "Listen address")
	flags.StringVar(&allowedOrigins, "allowed-origins", "", "Comma-separated browser origins allowed to connect (* allows all)")
	flags.Int64Var(&maxMessageSize, "max-message-size", 4096, "Maximum inbound frame size in bytes")
	flags.IntVar(&rateBurst, "rate-burst", 10, "Frames a connection may send per refill interval")
	flags.DurationVar(&rateInterval, "rate-interval", time.Second, "Rate limit refill interval")
	flags.IntVar(&subscriberBuf, "subscriber-buffer", 256, "Outbound frames queued per connection before the oldest is dropped")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Time allowed for sessions to finish on shutdown")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
}

func configFromFlags(cmd *cobra.Command) *server.Config {
	cfg := server.NewConfigFromEnv()
	flags := cmd.Flags()

	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("allowed-origins") {
		cfg.AllowedOrigins = strings.Split(allowedOrigins, ",")
	}
	if flags.Changed("max-message-size") {
		cfg.MaxMessageSize = maxMessageSize
	}
	if flags.Changed("rate-burst") {
		cfg.RateLimit.Burst = rateBurst
	}
	if flags.Changed("rate-interval") {
		cfg.RateLimit.RefillInterval = rateInterval
	}
	if flags.Changed("subscriber-buffer") {
		cfg.SubscriberBuffer = subscriberBuf
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = shutdownTimeout
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	return cfg
}

// run serves until ctx is done or the listener fails, then shuts the relay down.
func run(ctx context.Context, cfg *server.Config, zlog *zap.Logger) error {
	srv := server.New(cfg, zlog)
	httpServer := server.CreateServer(srv.Config().Port, srv.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.StartServer(httpServer)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			zlog.Error("server stopped", zap.Error(err))
		}
		if shutdownErr := srv.Shutdown(srv.Config().ShutdownTimeout); shutdownErr != nil {
			zlog.Warn("relay shutdown incomplete", zap.Error(shutdownErr))
		}
		return err
	case <-ctx.Done():
		zlog.Info("shutdown signal received")
	}

	if err := srv.ShutdownServer(httpServer, srv.Config().ShutdownTimeout); err != nil {
		zlog.Warn("graceful shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}
