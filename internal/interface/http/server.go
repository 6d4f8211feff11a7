// Package http は質問フォームと JSON API を提供する Web フロントエンドです
package http

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/platform/metrics"
)

// Asker は質問に回答する
type Asker interface {
	Ask(ctx context.Context, query string) (string, error)
}

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>RAG QA App</title></head>
<body>
<h1>RAG Question Answering</h1>
<form method="post" action="/ask">
  <label for="query">Ask a question:</label>
  <input id="query" name="query" type="text" value="{{.Query}}" size="80">
  <button type="submit">Ask</button>
</form>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if .Answer}}<p class="answer">{{.Answer}}</p>{{end}}
</body>
</html>`

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type page struct {
	Query  string
	Answer string
	Error  string
}

// Handler は HTTP ハンドラ群
type Handler struct {
	asker  Asker
	logger *slog.Logger
}

// RouterOption は NewRouter のオプション
type RouterOption func(*routerOptions)

type routerOptions struct {
	logger *slog.Logger
	mode   string
}

// WithRouterLogger はリクエストログの出力先を設定する
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(o *routerOptions) {
		o.logger = logger
	}
}

// WithGinMode は gin のモードを設定する（既定は release）
func WithGinMode(mode string) RouterOption {
	return func(o *routerOptions) {
		o.mode = mode
	}
}

// NewRouter はルーティングを構成した gin.Engine を返す
func NewRouter(asker Asker, m *metrics.Metrics, opts ...RouterOption) *gin.Engine {
	o := routerOptions{logger: slog.Default(), mode: gin.ReleaseMode}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	gin.SetMode(o.mode)
	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics(m, o.logger))
	router.SetHTMLTemplate(template.Must(template.New("index").Parse(indexTemplate)))

	h := &Handler{asker: asker, logger: o.logger}
	router.GET("/", h.Index)
	router.POST("/ask", h.Ask)
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	return router
}

// Index は質問フォームを表示する
func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index", page{})
}

// Health はヘルスチェック
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ask はフォームまたは JSON で受け取った質問に回答する
func (h *Handler) Ask(c *gin.Context) {
	wantsJSON := c.ContentType() == gin.MIMEJSON

	var query string
	if wantsJSON {
		var req askRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		query = req.Query
	} else {
		query = c.PostForm("query")
	}
	query = strings.TrimSpace(query)

	if query == "" {
		h.fail(c, wantsJSON, http.StatusBadRequest, query, "query is required")
		return
	}

	answer, err := h.asker.Ask(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("failed to answer question", "query", query, "error", err)
		h.fail(c, wantsJSON, statusOf(err), query, "failed to answer the question")
		return
	}

	if wantsJSON {
		c.JSON(http.StatusOK, askResponse{Answer: answer})
		return
	}
	c.HTML(http.StatusOK, "index", page{Query: query, Answer: answer})
}

func (h *Handler) fail(c *gin.Context, wantsJSON bool, status int, query, msg string) {
	if wantsJSON {
		c.JSON(status, errorResponse{Error: msg})
		return
	}
	c.HTML(status, "index", page{Query: query, Error: msg})
}

// statusOf はエラー種別を HTTP ステータスに対応付ける
func statusOf(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrIndexLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrGeneration), errors.Is(err, apperr.ErrRetrieval):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestMetrics(m *metrics.Metrics, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())
		logger.Info("http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		)
	}
}

// Serve は addr で HTTP サーバを起動し、ctx が終了したらグレースフルに停止する
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTPサーバを起動します", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("HTTPサーバを停止します")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
