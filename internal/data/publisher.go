package data

import (
	"context"
	"encoding/json"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

const defaultStatusTopic = "ledger_payment_status"

// NewStatusPublisher 创建支付状态变更消息发布者，未启用 RocketMQ 时只记录日志
func NewStatusPublisher(c *conf.Bootstrap, d *Data, logger log.Logger) biz.StatusPublisher {
	topic := defaultStatusTopic
	if c.Data != nil && c.Data.Rocketmq != nil && c.Data.Rocketmq.StatusTopic != "" {
		topic = c.Data.Rocketmq.StatusTopic
	}
	return &statusPublisher{
		mq:    d.mq,
		topic: topic,
		log:   log.NewHelper(logger),
	}
}

type statusPublisher struct {
	mq    rocketmq.Producer
	topic string
	log   *log.Helper
}

// PublishStatusChanged 同步发送状态变更消息，key 为订单号，tag 为目标状态
func (p *statusPublisher) PublishStatusChanged(ctx context.Context, msg *biz.PaymentStatusChanged) error {
	if p.mq == nil {
		p.log.Debugf("rocketmq disabled, skip status change order=%s %s -> %s", msg.OrderID, msg.From, msg.To)
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m := primitive.NewMessage(p.topic, body).
		WithKeys([]string{msg.OrderID}).
		WithTag(string(msg.To))

	if _, err := p.mq.SendSync(ctx, m); err != nil {
		p.log.Errorf("Send RocketMQ failed: %v", err)
		return err
	}
	return nil
}
