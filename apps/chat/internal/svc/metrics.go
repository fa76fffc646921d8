package svc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 消息路由指标，经 /metrics 暴露。
var (
	metricMessagesAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_acked_total",
		Help: "成功持久化并扇出的消息数",
	})

	metricMessagesDuplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_duplicated_total",
		Help: "命中幂等去重的重放消息数",
	})

	metricMessagesDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_denied_total",
		Help: "被拒绝的消息数，按错误类别区分",
	}, []string{"kind"})

	metricMessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_failed_total",
		Help: "持久化或投递失败的消息数，按错误类别区分",
	}, []string{"kind"})

	metricFanoutPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_fanout_published_total",
		Help: "发布到投递通道成功的收件人次数",
	})

	metricFanoutRetryQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_fanout_retry_queued_total",
		Help: "发布失败进入补发队列的收件人次数",
	})
)
