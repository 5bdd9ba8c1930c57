// Package web serves thread transcripts, locally stored attachments, and
// the metrics endpoint.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/castellan/mailroom/internal/attachments"
	"github.com/castellan/mailroom/internal/config"
	"github.com/castellan/mailroom/internal/logs"
	"github.com/castellan/mailroom/internal/store"
)

// StartOpts holds configuration for the web server.
type StartOpts struct {
	Config *config.Config
	Store  *store.Store
	// Local is set when attachments are stored locally; nil otherwise.
	Local *attachments.LocalStorage
	Out   io.Writer
}

// Start launches the web server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Store == nil {
		return fmt.Errorf("web: store is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, opts)

	srv := &http.Server{
		Addr:    opts.Config.Web.Addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Web server listening on %s\n", opts.Config.Web.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/logs/:threadID", func(c *gin.Context) {
		serveLog(c, opts.Store)
	})
	if opts.Local != nil {
		router.GET("/attachments/:id/:name", func(c *gin.Context) {
			serveAttachment(c, opts.Local)
		})
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// serveLog renders a thread transcript as plain text. The thread id acts as
// the access token; rekeying a thread invalidates previously shared links.
func serveLog(c *gin.Context, st *store.Store) {
	threadID := c.Param("threadID")
	thread, err := st.ThreadByID(threadID)
	if errors.Is(err, store.ErrNotFound) {
		c.String(http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to load thread")
		return
	}
	msgs, err := st.MessagesByThread(thread.ID)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to load messages")
		return
	}

	opts := logs.FormatOptions{
		Simple:  c.Query("simple") == "1",
		Verbose: c.Query("verbose") == "1",
	}
	text := logs.FormatLog(thread, msgs, opts)
	c.Header("Content-Length", strconv.Itoa(len(text)))
	c.String(http.StatusOK, "%s", text)
}

func serveAttachment(c *gin.Context, local *attachments.LocalStorage) {
	f, err := local.Open(c.Param("id"), c.Param("name"))
	if err != nil {
		c.String(http.StatusNotFound, "Attachment not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to read attachment")
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", f, nil)
}
