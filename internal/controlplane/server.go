// Package controlplane exposes the bot over HTTP: health, status, PnL and
// the kill switch. It is meant for localhost or an internal network, not
// the public internet.
package controlplane

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Poom5741/tok-tradingbot/internal/bot"
	"github.com/Poom5741/tok-tradingbot/internal/domain"
	"github.com/Poom5741/tok-tradingbot/internal/pnl"
)

// Core is the slice of the trading bot the HTTP surface needs.
type Core interface {
	Run(ctx context.Context, loops int) ([]domain.BotOutcome, error)
	RecentOutcomes() []domain.BotOutcome
	Status() bot.Status
	Kill(ctx context.Context)
	Resume()
}

// PnLReporter answers the rolling-window PnL query. *pnl.Ledger satisfies it.
type PnLReporter interface {
	Report(ctx context.Context) (pnl.Windows, error)
}

const maxPaperLoops = 50

type Server struct {
	core Core
	pnl  PnLReporter
	log  *logrus.Entry
}

func New(core Core, reporter PnLReporter) *Server {
	return &Server{
		core: core,
		pnl:  reporter,
		log:  logrus.WithField("module", "controlplane"),
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/status", s.handleStatus)
	r.GET("/pnl", s.handlePnL)
	r.GET("/outcomes", s.handleOutcomes)
	r.POST("/kill", s.handleKill)
	r.POST("/resume", s.handleResume)
	r.POST("/paper", s.handlePaper)
	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Status())
}

func (s *Server) handleOutcomes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"outcomes": s.core.RecentOutcomes()})
}

func (s *Server) handlePnL(c *gin.Context) {
	if s.pnl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no pnl ledger configured"})
		return
	}
	windows, err := s.pnl.Report(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, windows)
}

func (s *Server) handleKill(c *gin.Context) {
	s.core.Kill(c.Request.Context())
	s.log.Warn("kill switch engaged over http")
	c.JSON(http.StatusOK, s.core.Status())
}

func (s *Server) handleResume(c *gin.Context) {
	s.core.Resume()
	c.JSON(http.StatusOK, s.core.Status())
}

type paperRequest struct {
	Loops int `json:"loops"`
}

func (s *Server) handlePaper(c *gin.Context) {
	var req paperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"loops\": N}"})
		return
	}
	if req.Loops < 1 || req.Loops > maxPaperLoops {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loops must be between 1 and 50"})
		return
	}
	outcomes, err := s.core.Run(c.Request.Context(), req.Loops)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    err.Error(),
			"outcomes": outcomes,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

// Run serves the control plane until ctx is done, then shuts down with a
// short grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.WithField("addr", addr).Info("control plane listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
