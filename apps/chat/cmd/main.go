package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChatCore/apps/chat/internal/handler"
	"ChatCore/apps/chat/internal/manager"
	"ChatCore/apps/chat/internal/repository"
	"ChatCore/apps/chat/internal/server"
	"ChatCore/apps/chat/internal/subscriber"
	"ChatCore/apps/chat/internal/svc"
	"ChatCore/apps/chat/mq"
	"ChatCore/config"
	"ChatCore/pkg/async"
	"ChatCore/pkg/broker"
	"ChatCore/pkg/ctxmeta"
	"ChatCore/pkg/idgen"
	"ChatCore/pkg/kafka"
	"ChatCore/pkg/logger"
	pkgminio "ChatCore/pkg/minio"
	pkgmysql "ChatCore/pkg/mysql"
	pkgredis "ChatCore/pkg/redis"
)

func main() {
	// 初始化根上下文，并放入一个默认 trace_id。
	// chat 服务不是从 HTTP 请求起步，先放一个固定值用于启动期日志串联。
	ctx := ctxmeta.WithTraceID(context.Background(), "0")

	// 1) 初始化日志组件（必须最先完成，后续模块初始化都依赖日志输出）。
	logCfg := config.DefaultLoggerConfig()
	l, err := logger.Build(logCfg)
	if err != nil {
		panic(err)
	}
	logger.ReplaceGlobal(l)
	defer func() {
		_ = l.Sync()
	}()

	// 2) 初始化雪花 id 节点（群 id 分配依赖）。
	if err := idgen.Init(); err != nil {
		logger.Fatal(ctx, "Chat 服务 idgen 初始化失败", logger.ErrorField("error", err))
	}

	// 3) 初始化 MySQL。消息与关系的持久化是硬依赖，失败直接退出。
	mysqlCfg := config.DefaultMySQLConfig()
	db, err := pkgmysql.Build(mysqlCfg)
	if err != nil {
		logger.Fatal(ctx, "Chat 服务 MySQL 初始化失败", logger.ErrorField("error", err))
	}
	pkgmysql.ReplaceGlobal(db)
	logger.Info(ctx, "Chat 服务 MySQL 初始化成功")

	// 4) 初始化 Redis。
	// 降级策略：Redis 不可用时服务仍可启动——
	// 缓存与 nonce 快速去重失效（唯一索引兜底），但跨进程投递通道不可用，
	// 此时回退为进程内通道（单实例部署形态）。
	redisCfg := config.DefaultRedisConfig()
	redisClient, err := pkgredis.Build(redisCfg)
	if err != nil {
		logger.Warn(ctx, "Chat 服务 Redis 初始化失败，降级为无 Redis 模式",
			logger.ErrorField("error", err),
		)
		redisClient = nil
	} else {
		pkgredis.ReplaceGlobal(redisClient)
		logger.Info(ctx, "Chat 服务 Redis 初始化成功",
			logger.String("addr", redisCfg.Addr),
		)
	}

	// 5) 初始化协程池（缓存失效等后台任务用）。
	if err := async.Init(config.DefaultAsyncConfig()); err != nil {
		logger.Fatal(ctx, "Chat 服务协程池初始化失败", logger.ErrorField("error", err))
	}
	defer async.Release()

	// 6) 构建投递通道。
	// 多实例部署用 Redis Pub/Sub；无 Redis 时退化为进程内通道。
	var msgBroker broker.Broker
	if redisClient != nil {
		msgBroker = broker.NewRedisBroker(redisClient)
	} else {
		msgBroker = broker.NewMemoryBroker(256)
	}

	// 7) 初始化 Kafka 补发队列（生产者 + 消费者）。
	// Kafka 不可用不阻断启动：补发能力缺失时仍有启动补发扫描兜底。
	kafkaCfg := config.DefaultKafkaConfig()
	producer := kafka.NewProducer(kafkaCfg.Brokers, kafkaCfg.PublishRetryTopic)
	mq.SetGlobalProducer(producer)
	defer func() {
		_ = producer.Close()
	}()

	// 8) 组装仓储层。
	chatCfg := config.DefaultChatConfig()
	relationRepo := repository.NewRelationRepository(db)
	groupRepo := repository.NewGroupRepository(db, redisClient)
	messageRepo := repository.NewMessageRepository(db, redisClient, chatCfg.NonceTTL)
	userRepo := repository.NewUserRepository(db, redisClient)

	// 9) 组装核心依赖。
	// origin 为本进程唯一 id，订阅侧据此丢弃本进程发布的信封。
	origin := idgen.NextUUID()
	mediaCfg := config.DefaultMediaConfig()

	// 对象存储可选：不可用时附件只做声明元数据校验。
	mediaStore, err := pkgminio.Build(mediaCfg)
	if err != nil {
		logger.Warn(ctx, "Chat 服务 MinIO 初始化失败，附件上传确认关闭",
			logger.ErrorField("error", err),
		)
		mediaStore = nil
	} else {
		pkgminio.ReplaceGlobal(mediaStore)
	}

	connManager := manager.NewConnectionManager()
	topicManager := subscriber.NewTopicManager(msgBroker, connManager, groupRepo, origin)
	notifier := svc.NewNotifier(connManager, msgBroker, origin)

	connectSvc := svc.NewConnectService(redisClient)
	gate := svc.NewAuthorizationGate(relationRepo, groupRepo)
	chatRouter := svc.NewChatRouter(gate, messageRepo, userRepo, connManager, msgBroker, mediaStore, origin, chatCfg, mediaCfg)
	friendService := svc.NewFriendService(relationRepo, userRepo, notifier)
	groupService := svc.NewGroupService(groupRepo, userRepo, notifier)
	historyService := svc.NewHistoryService(messageRepo, groupRepo, userRepo)

	wsHandler := handler.NewWSHandler(connManager, topicManager, connectSvc, chatRouter, chatCfg)
	relationHandler := handler.NewRelationHandler(friendService)
	groupHandler := handler.NewGroupHandler(groupService, topicManager)
	messageHandler := handler.NewMessageHandler(historyService)

	// 10) 启动补发消费者：失败的发布经 Kafka 重放到投递通道。
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	retryHandler := mq.NewRetryHandler(msgBroker, messageRepo.MarkPublished)
	retryConsumer := kafka.NewConsumer(kafka.ConsumerOptions{
		Brokers:        kafkaCfg.Brokers,
		Topic:          kafkaCfg.PublishRetryTopic,
		GroupID:        kafkaCfg.ConsumerConfig.GroupID,
		MinBytes:       kafkaCfg.ConsumerConfig.MinBytes,
		MaxBytes:       kafkaCfg.ConsumerConfig.MaxBytes,
		CommitInterval: kafkaCfg.ConsumerConfig.CommitInterval,
		ErrorLogger:    kafka.NewZapErrorLoggerAdapter(l),
	}, retryHandler.Handle)
	go func() {
		if err := retryConsumer.Start(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn(ctx, "补发消费者退出",
				logger.ErrorField("error", err),
			)
		}
	}()

	// 11) 启动补发扫描：覆盖上一次进程崩溃留下的半扇出消息。
	go chatRouter.RecoverySweep(ctx)

	// 12) 后台启动 HTTP 监听。
	srvCfg := server.DefaultConfig()
	srv := server.New(srvCfg, connManager, wsHandler, relationHandler, groupHandler, messageHandler)
	go func() {
		logger.Info(ctx, "Chat 服务启动中",
			logger.String("addr", srvCfg.Addr),
		)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Chat 服务启动失败",
				logger.ErrorField("error", err),
			)
		}
	}()

	// 13) 阻塞等待系统退出信号（Ctrl+C / SIGTERM）。
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 14) 优雅关闭流程，顺序敏感：
	// a. 关闭 HTTP 服务，不再接收新连接与新请求；
	// b. 等待在途消息走完持久化与扇出；
	// c. 释放 Topic 订阅与补发消费者；
	// d. 断开全部 WebSocket 会话。
	logger.Info(ctx, "Chat 服务开始优雅停机")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Chat 服务 HTTP 停机失败",
			logger.ErrorField("error", err),
		)
	}

	if !chatRouter.Drain(chatCfg.DrainTimeout) {
		logger.Warn(ctx, "在途消息未在超时内排空，剩余投递依赖补发")
	}

	stopConsumer()
	_ = retryConsumer.Close()
	topicManager.Close()
	connManager.Shutdown()
	_ = msgBroker.Close()

	logger.Info(ctx, "Chat 服务已退出")
}
