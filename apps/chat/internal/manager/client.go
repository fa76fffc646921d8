package manager

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const wsWriteTimeout = 5 * time.Second

// wsConn 抽象底层 WebSocket 连接，便于测试替换。
// *websocket.Conn 天然满足该接口。
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// MessageHandler 定义上行帧回调。
// 参数 raw 为客户端原始载荷（JSON 编码后的字节）。
type MessageHandler func(raw []byte)

// CloseHandler 定义会话关闭回调。
// 用于在 read/write 循环退出后执行清理逻辑（注销、退订 Topic 等）。
type CloseHandler func()

// Session 封装单条设备会话。
// 设计要点：
// - send 队列削峰，业务 goroutine 不直接阻塞在网络写；
// - done 为统一关闭信号，读写循环都监听该信号退出；
// - once 保证 Close 幂等；
// - limiter 对上行帧限速，超速帧直接丢弃。
type Session struct {
	conn      wsConn
	sessionID string
	userUUID  string
	deviceID  string
	send      chan []byte
	done      chan struct{}
	limiter   *rate.Limiter
	once      sync.Once
}

// SessionOptions 会话参数。
type SessionOptions struct {
	SendQueueSize int
	FrameRate     float64 // 每秒允许的上行帧数，<=0 不限速
	FrameBurst    int
}

// NewSession 创建会话包装对象。
// sessionID 每次连接都不同，同设备重连后旧会话可据此区分。
func NewSession(conn wsConn, sessionID, userUUID, deviceID string, opts SessionOptions) *Session {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	var limiter *rate.Limiter
	if opts.FrameRate > 0 {
		burst := opts.FrameBurst
		if burst <= 0 {
			burst = int(opts.FrameRate)
		}
		limiter = rate.NewLimiter(rate.Limit(opts.FrameRate), burst)
	}
	return &Session{
		conn:      conn,
		sessionID: sessionID,
		userUUID:  userUUID,
		deviceID:  deviceID,
		send:      make(chan []byte, opts.SendQueueSize),
		done:      make(chan struct{}),
		limiter:   limiter,
	}
}

// Key 返回设备连接键（user_uuid:device_id）。
// 同设备重连用该键做连接替换。
func (s *Session) Key() string {
	return buildKey(s.userUUID, s.deviceID)
}

func (s *Session) SessionID() string {
	return s.sessionID
}

func (s *Session) UserUUID() string {
	return s.userUUID
}

func (s *Session) DeviceID() string {
	return s.deviceID
}

// Done 返回会话关闭信号通道。
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Enqueue 将下行帧投递到写队列。
// 返回 false 表示会话已关闭或队列已满，调用方可据此断开慢连接。
func (s *Session) Enqueue(msg []byte) bool {
	if len(msg) == 0 {
		return true
	}
	cloned := append([]byte(nil), msg...)
	select {
	case <-s.done:
		return false
	case s.send <- cloned:
		return true
	default:
		return false
	}
}

// Run 启动读写循环并阻塞等待 readLoop 结束。
// writeLoop 在独立 goroutine 中运行；退出时保证调用 Close 和 onClose。
func (s *Session) Run(ctx context.Context, onMessage MessageHandler, onClose CloseHandler) {
	defer func() {
		s.Close()
		if onClose != nil {
			onClose()
		}
	}()

	go s.writeLoop(ctx)
	s.readLoop(ctx, onMessage)
}

// Close 幂等关闭会话：先关 done 信号，再关底层连接。
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// readLoop 持续读取上行帧并交由 onMessage 处理。
// 超过限速的帧直接丢弃，不断开连接。
func (s *Session) readLoop(ctx context.Context, onMessage MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		if s.limiter != nil && !s.limiter.Allow() {
			continue
		}

		if onMessage != nil {
			onMessage(raw)
		}
	}
}

// writeLoop 持续从 send 队列取帧写入客户端。
// 每次写操作设置超时，慢连接写失败即关闭会话。
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		}
	}
}
