package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// API provides the bot's status/health HTTP endpoints
type API struct {
	p          *Parley
	config     *APIConfig
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// apiStatusResponse is the payload returned by GET /api/status
type apiStatusResponse struct {
	Version            string    `json:"version"`
	StartedAt          time.Time `json:"started_at"`
	Uptime             string    `json:"uptime"`
	DiscordConnected   bool      `json:"discord_connected"`
	ChannelBindings    int       `json:"channel_bindings"`
	BlacklistedUsers   int       `json:"blacklisted_users"`
	BlacklistedServers int       `json:"blacklisted_servers"`
	MessagesHandled    int64     `json:"messages_handled"`
	RepliesSent        int64     `json:"replies_sent"`
	FallbackReplies    int64     `json:"fallback_replies"`
}

func newAPI(p *Parley, config *APIConfig) (*API, error) {
	a := &API{
		p:      p,
		config: config,
	}
	a.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if len(config.CORS.AllowOrigins) > 0 {
		engine.Use(cors.New(config.CORS.GINConfig()))
	}

	engine.GET("/healthz", a.getHealth)
	engine.GET("/api/status", a.getStatus)

	a.engine = engine
	a.httpServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return a, nil
}

// Serve runs the API server until the given context is cancelled
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error creating api listener: %w", err)
	}
	a.logger.Info("api listening", "listen", a.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.Serve(listener)
	}()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			a.p.config.ShutdownTimeout,
		)
		defer cancel()
		if shutdownErr := a.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Error("error shutting down api server", tint.Err(shutdownErr))
			return shutdownErr
		}
		return nil
	}
}

func (a *API) getHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (a *API) getStatus(c *gin.Context) {
	var snapshot registrySnapshot
	if a.p.registry != nil {
		snapshot = a.p.registry.Snapshot()
	}
	c.JSON(
		http.StatusOK, apiStatusResponse{
			Version:            Version,
			StartedAt:          a.p.startedAt,
			Uptime:             humanizeDuration(a.p.Uptime()),
			DiscordConnected:   a.p.discord.connected.Load(),
			ChannelBindings:    len(snapshot.Channels),
			BlacklistedUsers:   len(snapshot.BlacklistedUsers),
			BlacklistedServers: len(snapshot.BlacklistedServers),
			MessagesHandled:    a.p.metricMessagesHandled.Load(),
			RepliesSent:        a.p.metricRepliesSent.Load(),
			FallbackReplies:    a.p.metricFallbackReplies.Load(),
		},
	)
}
