package service

import (
	"context"

	"prodtrack/pkg/outbox"
)

// OutboxPublisher 把事件写入 outbox，由 Dispatcher 异步发布到 MQ。
// 状态转换成功后的事件发布允许独立失败，所以不与业务写入共享事务。
type OutboxPublisher struct {
	repo          *outbox.Repository
	aggregateType string
}

func NewOutboxPublisher(repo *outbox.Repository, aggregateType string) *OutboxPublisher {
	return &OutboxPublisher{
		repo:          repo,
		aggregateType: aggregateType,
	}
}

func (p *OutboxPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	return p.repo.Enqueue(ctx, p.aggregateType, nil, routingKey, payload)
}
