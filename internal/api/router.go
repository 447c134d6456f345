package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/NewsHub/internal/pipeline"
	"github.com/LJTian/NewsHub/internal/scheduler"
	"github.com/LJTian/NewsHub/internal/storage"
)

// Trigger 触发采集并读取最近一次运行报告
type Trigger interface {
	RunOnce(ctx context.Context) (pipeline.Report, error)
	RunAsync() (string, error)
	Last(ctx context.Context) (pipeline.Report, bool)
}

// NewsReader 是查询接口对存储层的依赖
type NewsReader interface {
	ListNews(ctx context.Context, q storage.ListQuery) ([]storage.News, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

type Server struct {
	store   NewsReader
	trigger Trigger
	metrics http.Handler
	logger  *slog.Logger
}

// NewServer 创建 HTTP 接口；metrics 为 nil 时不注册 /metrics
func NewServer(store NewsReader, trigger Trigger, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, trigger: trigger, metrics: metrics, logger: logger}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/fetch", s.fetch)
		v1.GET("/fetch/last", s.lastFetch)
		v1.GET("/news", s.listNews)
		v1.GET("/news/stats", s.newsStats)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fetch 触发一轮采集；async=true 时立即返回 202 和 runId
func (s *Server) fetch(c *gin.Context) {
	if c.Query("async") == "true" {
		runID, err := s.trigger.RunAsync()
		if err != nil {
			s.runError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"code":    "accepted",
			"message": "run started",
			"data":    gin.H{"runId": runID},
		})
		return
	}

	// 客户端断开不应中断已经开始的入库
	rep, err := s.trigger.RunOnce(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		s.runError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    rep,
	})
}

func (s *Server) runError(c *gin.Context, err error) {
	if errors.Is(err, scheduler.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "run_in_progress",
			"message": "a run is already in progress",
		})
		return
	}
	s.internalError(c, err)
}

func (s *Server) lastFetch(c *gin.Context) {
	rep, ok := s.trigger.Last(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": "no run recorded yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    rep,
	})
}

func (s *Server) listNews(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	items, err := s.store.ListNews(c.Request.Context(), storage.ListQuery{
		Category: c.Query("category"),
		Source:   c.Query("source"),
		Limit:    limit,
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	if items == nil {
		items = []storage.News{}
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

func (s *Server) newsStats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	var ratio float64
	if st.Total > 0 {
		ratio = float64(st.AIProcessed) / float64(st.Total)
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data": gin.H{
			"total":            st.Total,
			"aiProcessed":      st.AIProcessed,
			"aiProcessedRatio": ratio,
			"emergency":        st.Emergency,
			"byApiSource":      st.ByAPISource,
			"bySentiment":      st.BySentiment,
		},
	})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("api: request failed", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}

// BasicAuth 为整个站点增加一个简单的访问密码。/health 和 /metrics 不做认证，便于探活与抓取。
func BasicAuth(user, pass string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/health", "/metrics":
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
