// Package server exposes the LINE webhook and health endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/concept-bot/internal/line"
)

const (
	MaxWebhookBody  = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// EventHandler processes the events of one verified delivery.
type EventHandler interface {
	HandleEvents(ctx context.Context, events []line.Event) error
}

type Server struct {
	channelSecret string
	handler       EventHandler
	logger        *zap.Logger
	engine        *gin.Engine
}

func New(channelSecret string, handler EventHandler, logger *zap.Logger) *Server {
	s := &Server{
		channelSecret: channelSecret,
		handler:       handler,
		logger:        logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	engine.GET("/", s.health)
	engine.GET("/health", s.health)
	engine.POST("/webhook/line", bodyLimit(MaxWebhookBody), s.webhook)
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "LINE Bot is running"})
}

func (s *Server) webhook(c *gin.Context) {
	requestID := c.GetString(requestIDKey)

	signature := c.GetHeader(line.SignatureHeader)
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Missing X-Line-Signature header"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Failed to read request body"})
		return
	}

	if !line.VerifySignature(s.channelSecret, body, signature) {
		s.logger.Warn("Invalid webhook signature", zap.String("request_id", requestID))
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid signature"})
		return
	}

	callback, err := line.ParseCallback(body)
	if err != nil {
		s.logger.Warn("Malformed webhook body", zap.Error(err), zap.String("request_id", requestID))
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}

	// LINE may drop the connection before a slow answer is ready.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := s.handler.HandleEvents(ctx, callback.Events); err != nil {
		s.logger.Error("Webhook processing failed",
			zap.Error(err),
			zap.String("request_id", requestID),
			zap.Int("events", len(callback.Events)))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
