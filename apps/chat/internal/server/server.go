package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"ChatCore/apps/chat/internal/handler"
	"ChatCore/apps/chat/internal/manager"
	"ChatCore/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config 定义 chat HTTP 服务的运行参数。
// 这些超时用于限制异常连接占用资源，避免慢连接拖垮服务。
// 注意 ReadTimeout/WriteTimeout 不作用于升级后的 WebSocket 连接。
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultConfig 返回 chat 服务的默认配置。
// 端口优先读取 CHAT_ADDR，未设置时默认监听 :8080。
func DefaultConfig() Config {
	addr := os.Getenv("CHAT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Server 对 http.Server 的轻量封装。
// 集中管理启动和优雅关闭，避免调用方直接操作底层对象。
type Server struct {
	httpServer *http.Server
}

// New 构建 Gin 路由并包装成 HTTP Server。
// 路由职责：
// - GET /health:  健康检查，供容器/探针调用；
// - GET /metrics: Prometheus 指标；
// - GET /ws:      WebSocket 接入入口；
// - /api/v1/...:  好友关系、群组操作与历史消息（JWT 鉴权）。
func New(
	cfg Config,
	connManager *manager.ConnectionManager,
	wsHandler *handler.WSHandler,
	relationHandler *handler.RelationHandler,
	groupHandler *handler.GroupHandler,
	messageHandler *handler.MessageHandler,
) *Server {
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "" {
		ginMode = gin.ReleaseMode
	}
	gin.SetMode(ginMode)

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "chat_online_sessions",
		Help: "当前在线会话数",
	}, func() float64 {
		return float64(connManager.Count())
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(util.TraceLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", wsHandler.ServeWS)

	api := r.Group("/api/v1", handler.AuthRequired())
	{
		relationGroup := api.Group("/relation")
		{
			relationGroup.GET("", relationHandler.GetRelation)
			relationGroup.POST("/request", relationHandler.SendRequest)
			relationGroup.POST("/accept", relationHandler.Accept)
			relationGroup.POST("/reject", relationHandler.Reject)
			relationGroup.POST("/cancel", relationHandler.Cancel)
			relationGroup.POST("/unfriend", relationHandler.Unfriend)
			relationGroup.POST("/block", relationHandler.Block)
			relationGroup.POST("/unblock", relationHandler.Unblock)
		}

		groupGroup := api.Group("/group")
		{
			groupGroup.POST("", groupHandler.Create)
			groupGroup.POST("/:groupId/join", groupHandler.Join)
			groupGroup.POST("/:groupId/leave", groupHandler.Leave)
			groupGroup.GET("/:groupId/members", groupHandler.Members)
		}

		messageGroup := api.Group("/message")
		{
			messageGroup.GET("/direct", messageHandler.DirectHistory)
			messageGroup.GET("/group/:groupId", messageHandler.GroupHistory)
		}
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Start 启动 HTTP 监听。
// 正常优雅关闭时会返回 http.ErrServerClosed，调用方应将其视为正常退出。
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown 执行优雅停机。
// 调用方需要传入带超时的 ctx，以防止无限等待。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
