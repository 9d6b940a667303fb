package queue

import (
	"context"
	"fmt"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 订单事件先写入 Redis Stream，Relay 再异步转发 Kafka，避免请求路径直接依赖 Kafka。
type Outbox struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, maxLen: 100000}
}

// PublishOrderEvent XADD 一条事件。
func (o *Outbox) PublishOrderEvent(ctx context.Context, ev OrderEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	err := o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: ev.streamValues(),
	}).Err()
	if err != nil {
		return fmt.Errorf("outbox xadd: %w", err)
	}
	return nil
}
