package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ChatCore/apps/chat/internal/manager"
	"ChatCore/apps/chat/internal/subscriber"
	"ChatCore/apps/chat/internal/svc"
	"ChatCore/config"
	"ChatCore/consts"
	"ChatCore/pkg/ctxmeta"
	"ChatCore/pkg/logger"
	"ChatCore/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 当前阶段默认放开来源校验，方便本地多端调试（Web/Electron/移动端模拟器）。
	// 生产环境建议按域名白名单收紧校验策略。
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// WSHandler 负责处理 /ws 接入请求。
// 职责边界：
// - 处理 Gin/HTTP 层参数、升级与错误响应；
// - 调用 svc 完成鉴权、消息路由与帧编解码；
// - 调用 manager/subscriber 维护会话生命周期与 Topic 订阅。
type WSHandler struct {
	connManager *manager.ConnectionManager
	topics      *subscriber.TopicManager
	connectSvc  *svc.ConnectService
	router      *svc.ChatRouter
	cfg         config.ChatConfig
}

// NewWSHandler 创建 WebSocket 入口处理器。
func NewWSHandler(
	connManager *manager.ConnectionManager,
	topics *subscriber.TopicManager,
	connectSvc *svc.ConnectService,
	router *svc.ChatRouter,
	cfg config.ChatConfig,
) *WSHandler {
	return &WSHandler{
		connManager: connManager,
		topics:      topics,
		connectSvc:  connectSvc,
		router:      router,
		cfg:         cfg,
	}
}

// ServeWS 处理 WebSocket 握手与接入。
// 执行流程：
// 1. 从 query 中读取 token/device_id，并获取 client_ip。
// 2. 调用 connectSvc.Authenticate 做鉴权。
// 3. 构建会话级 context（注入 trace/user/device/ip）。
// 4. 完成协议升级并进入会话处理主循环。
func (h *WSHandler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	deviceID := c.Query("device_id")
	clientIP := c.ClientIP()

	identity, err := h.connectSvc.Authenticate(c.Request.Context(), token, deviceID, clientIP)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	connCtx := context.Background()
	if traceID := ctxmeta.TraceIDFromGin(c); traceID != "" {
		connCtx = ctxmeta.WithTraceID(connCtx, traceID)
	}
	connCtx = ctxmeta.WithUserUUID(connCtx, identity.UserUUID)
	connCtx = ctxmeta.WithDeviceID(connCtx, identity.DeviceID)
	connCtx = ctxmeta.WithClientIP(connCtx, identity.ClientIP)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(connCtx, "WebSocket 升级失败",
			logger.ErrorField("error", err),
		)
		return
	}

	h.handleSession(connCtx, conn, identity)
}

// handleSession 承载单个会话的完整生命周期。
// 关键语义：
// - 同设备重复连接时，用新会话替换旧会话；
// - 用户首个本地会话建立时订阅其 Topic，最后一个断开时退订；
// - 会话建立/断开分别触发 OnConnect/OnDisconnect。
func (h *WSHandler) handleSession(ctx context.Context, conn *websocket.Conn, identity *svc.Identity) {
	sess := manager.NewSession(conn, util.NewUUID(), identity.UserUUID, identity.DeviceID, manager.SessionOptions{
		SendQueueSize: h.cfg.SendQueueSize,
		FrameRate:     h.cfg.FrameRate,
		FrameBurst:    h.cfg.FrameBurst,
	})
	replaced, firstOfUser := h.connManager.Register(sess)
	if replaced != nil {
		replaced.Close()
	}
	if firstOfUser {
		if err := h.topics.AddUser(ctx, identity.UserUUID); err != nil {
			logger.Error(ctx, "订阅用户 Topic 失败，跨进程投递不可达",
				logger.String("user_uuid", identity.UserUUID),
				logger.ErrorField("error", err),
			)
		}
	}

	h.connectSvc.OnConnect(ctx, identity)
	logger.Info(ctx, "WebSocket 会话已建立",
		logger.String("user_uuid", identity.UserUUID),
		logger.String("device_id", identity.DeviceID),
		logger.String("client_ip", identity.ClientIP),
		logger.Int("online_count", h.connManager.Count()),
	)

	sess.Run(ctx, func(raw []byte) {
		h.handleFrame(ctx, sess, identity, raw)
	}, func() {
		lastOfUser := h.connManager.Unregister(sess)
		if lastOfUser {
			h.topics.RemoveUser(identity.UserUUID)
		}
		h.connectSvc.OnDisconnect(ctx, identity)
		logger.Info(ctx, "WebSocket 会话已断开",
			logger.String("user_uuid", identity.UserUUID),
			logger.String("device_id", identity.DeviceID),
			logger.Int("online_count", h.connManager.Count()),
		)
	})
}

// handleFrame 处理客户端上行帧。
// 支持：
// - heartbeat: 更新活跃时间并返回 heartbeat_ack；
// - message: 走完整消息路由，返回 ack 或带原 nonce 的 error 帧。
func (h *WSHandler) handleFrame(ctx context.Context, sess *manager.Session, identity *svc.Identity, raw []byte) {
	envelope, err := h.connectSvc.ParseEnvelope(raw)
	if err != nil {
		h.sendErrorFrame(ctx, sess, &svc.ErrorData{
			Code:      consts.CodeBodyError,
			Message:   consts.GetMessage(consts.CodeBodyError),
			ErrorKind: consts.ErrorKindValidation,
		})
		return
	}

	switch envelope.Type {
	case svc.FrameHeartbeat:
		h.connectSvc.OnHeartbeat(ctx, identity)
		ack, marshalErr := h.connectSvc.MarshalEnvelope(svc.FrameHeartbeatAck, nil)
		if marshalErr != nil {
			logger.Warn(ctx, "心跳应答序列化失败",
				logger.ErrorField("error", marshalErr),
			)
			return
		}
		if !sess.Enqueue(ack) {
			sess.Close()
		}
	case svc.FrameMessage:
		h.handleSendMessage(ctx, sess, identity, envelope.Data)
	default:
		h.sendErrorFrame(ctx, sess, &svc.ErrorData{
			Code:      consts.CodeParamError,
			Message:   "unsupported frame type",
			ErrorKind: consts.ErrorKindValidation,
		})
	}
}

// handleSendMessage 解析 message 帧体并交给路由处理。
func (h *WSHandler) handleSendMessage(ctx context.Context, sess *manager.Session, identity *svc.Identity, rawData json.RawMessage) {
	var data svc.SendMessageData
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &data); err != nil {
			h.sendErrorFrame(ctx, sess, &svc.ErrorData{
				Code:      consts.CodeBodyError,
				Message:   consts.GetMessage(consts.CodeBodyError),
				ErrorKind: consts.ErrorKindValidation,
			})
			return
		}
	}

	ack, chatErr := h.router.HandleSendMessage(ctx, identity, &data)
	if chatErr != nil {
		h.sendErrorFrame(ctx, sess, &svc.ErrorData{
			Code:        chatErr.Code,
			Message:     chatErr.Message,
			ErrorKind:   chatErr.Kind,
			ClientNonce: data.ClientNonce,
		})
		return
	}

	payload, err := h.connectSvc.MarshalEnvelope(svc.FrameAck, ack)
	if err != nil {
		logger.Warn(ctx, "回执序列化失败", logger.ErrorField("error", err))
		return
	}
	if !sess.Enqueue(payload) {
		sess.Close()
	}
}

// sendErrorFrame 发送 ws 协议层错误帧。
// 发送失败通常表示连接不可写，此时主动关闭会话避免资源泄漏。
func (h *WSHandler) sendErrorFrame(ctx context.Context, sess *manager.Session, data *svc.ErrorData) {
	payload, err := h.connectSvc.MarshalEnvelope(svc.FrameError, data)
	if err != nil {
		logger.Warn(ctx, "错误帧序列化失败",
			logger.Int("code", data.Code),
			logger.ErrorField("error", err),
		)
		return
	}
	if !sess.Enqueue(payload) {
		sess.Close()
	}
}

// writeAuthError 将鉴权错误映射为 HTTP 握手阶段错误响应。
// 握手前还未升级为 WebSocket，用 HTTP JSON 返回更直观。
func (h *WSHandler) writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, svc.ErrTokenRequired), errors.Is(err, svc.ErrDeviceIDRequired):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    consts.CodeParamError,
			"message": err.Error(),
		})
	case errors.Is(err, svc.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    consts.CodeInvalidToken,
			"message": consts.GetMessage(consts.CodeInvalidToken),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    consts.CodeInternalError,
			"message": consts.GetMessage(consts.CodeInternalError),
		})
	}
}
