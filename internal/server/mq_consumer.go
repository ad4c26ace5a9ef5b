package server

import (
	"context"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/conf"
	"pos-ledger/internal/constants"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// MQConsumerServer 从 RocketMQ 消费网关事件（webhook 转发到 MQ 的部署方式）
type MQConsumerServer struct {
	c         rocketmq.PushConsumer
	reconcile *biz.ReconcileUseCase
	topic     string
	log       *log.Helper
	enabled   bool
}

// NewMQConsumerServer creates a RocketMQ consumer server
func NewMQConsumerServer(c *conf.Bootstrap, reconcile *biz.ReconcileUseCase, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled || c.Data.Rocketmq.EventTopic == "" {
		return &MQConsumerServer{reconcile: reconcile, log: helper}
	}
	mq := c.Data.Rocketmq

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		consumer.WithGroupName(mq.GroupName),
		consumer.WithRetry(int(mq.RetryTimes)),
		// 事件逐条处理，同一订单的事件由账本按订单串行
		consumer.WithConsumeMessageBatchMaxSize(1),
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{reconcile: reconcile, log: helper}
	}

	return &MQConsumerServer{
		c:         r,
		reconcile: reconcile,
		topic:     mq.EventTopic,
		log:       helper,
		enabled:   true,
	}
}

// Start starts the consumer
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.topic)

	if err := s.c.Subscribe(s.topic, consumer.MessageSelector{}, s.handler); err != nil {
		// 不阻断 HTTP webhook 入口，网关会继续通过 HTTP 推送
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.topic, err)
		return nil
	}
	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop stops the consumer
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

// handler 所有消息都确认消费：签名或内容非法的消息重投也不会成功，
// 验签通过后的处理故障已由 Ingest 记录并确认接收
func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		if err := s.reconcile.Ingest(ctx, msg.Body, msg.GetProperty(constants.HeaderSignature)); err != nil {
			s.log.Warnf("drop gateway event, msg_id=%s: %v", msg.MsgId, err)
		}
	}
	return consumer.ConsumeSuccess, nil
}
