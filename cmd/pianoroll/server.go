package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cbegin/pianoroll-go"
)

// newRouter exposes playback control and read-only playhead queries.
func newRouter(p *pianoroll.Player, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/state", func(c *gin.Context) {
			c.JSON(http.StatusOK, p.State())
		})
		v1.GET("/voices", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"keys":      p.SoundingKeys(),
				"active":    p.ActiveVoiceCount(),
				"scheduled": p.Scheduled(),
			})
		})
		v1.GET("/instruments", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"instruments": pianoroll.Instruments()})
		})
		v1.GET("/settings", func(c *gin.Context) {
			c.JSON(http.StatusOK, p.Settings())
		})
		v1.GET("/notes", func(c *gin.Context) {
			c.JSON(http.StatusOK, p.Notes())
		})
		v1.PUT("/notes", func(c *gin.Context) {
			var notes []pianoroll.Note
			if err := c.ShouldBindJSON(&notes); err != nil {
				badRequest(c, err)
				return
			}
			p.SetNotes(notes)
			c.JSON(http.StatusOK, gin.H{"count": len(notes)})
		})
		v1.GET("/lanes", func(c *gin.Context) {
			c.JSON(http.StatusOK, p.Lanes())
		})
		v1.GET("/lanes/:id/value", func(c *gin.Context) {
			t, err := strconv.ParseFloat(c.DefaultQuery("t", "0"), 64)
			if err != nil {
				badRequest(c, err)
				return
			}
			v, err := p.ValueAt(c.Param("id"), t)
			if errors.Is(err, pianoroll.ErrLaneNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "time": t, "value": v})
		})

		v1.POST("/play", func(c *gin.Context) {
			if err := p.Play(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, p.State())
		})
		v1.POST("/stop", func(c *gin.Context) {
			p.Stop()
			c.JSON(http.StatusOK, p.State())
		})
		v1.POST("/seek", func(c *gin.Context) {
			var req struct {
				Position *float64 `json:"position" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			p.Seek(*req.Position)
			c.JSON(http.StatusOK, p.State())
		})
		v1.POST("/tempo", func(c *gin.Context) {
			var req struct {
				BPM float64 `json:"bpm" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			applied := p.SetTempo(req.BPM)
			c.JSON(http.StatusOK, gin.H{"tempo": applied})
		})
		v1.POST("/loop", func(c *gin.Context) {
			var req struct {
				Enabled bool    `json:"enabled"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := p.SetLoop(req.Enabled, req.Start, req.End); err != nil {
				badRequest(c, err)
				return
			}
			c.JSON(http.StatusOK, p.State())
		})
		v1.POST("/instrument", func(c *gin.Context) {
			var req struct {
				Name string `json:"name" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := p.SetInstrument(req.Name); err != nil {
				badRequest(c, err)
				return
			}
			c.JSON(http.StatusOK, p.Settings())
		})
		v1.PATCH("/settings", func(c *gin.Context) {
			var patch pianoroll.SettingsPatch
			if err := c.ShouldBindJSON(&patch); err != nil {
				badRequest(c, err)
				return
			}
			p.UpdateSettings(patch)
			c.JSON(http.StatusOK, p.Settings())
		})
	}
	return r
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
