package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"reminder-service/pkg/config"
	"reminder-service/pkg/trace"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
}

// NewConsumer creates a consumer for a specific routing key, with a dead letter queue behind it.
func NewConsumer(cfg config.MQConfig, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(cfg, "consumer")
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := DeclareExchange(ch); err != nil {
		return fail(fmt.Errorf("failed to declare exchange: %w", err))
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fail(fmt.Errorf("failed to declare dlq exchange: %w", err))
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		return fail(err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		DeadLetterArgs(routingKey),
	)
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to bind queue: %w", err))
	}

	// 一次只处理一条，派发是顺序的
	if err := ch.Qos(1, 0, false); err != nil {
		return fail(fmt.Errorf("failed to set qos: %w", err))
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is done or the channel closes.
// 失败的消息不重新入队，直接进 DLQ；下一次定时派发会自然重试
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue.Name,
		"reminder-dispatcher",
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for msg := range deliveries {
		c.handle(ctx, msg)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	msgCtx, traceID := trace.Ensure(ctx)
	if id, ok := msg.Headers[trace.HeaderName()].(string); ok && id != "" {
		msgCtx, traceID = trace.WithContext(ctx, id), id
	}
	log := c.logger.With(
		zap.String("routing_key", c.routingKey),
		zap.String("trace_id", traceID),
	)

	// Panic 恢复：确保即使 handler panic 也能正确处理消息
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			if err := msg.Nack(false, false); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	if err := c.handler(msgCtx, msg.Body); err != nil {
		log.Error("Handler error, dead-lettering message", zap.Error(err))
		if err := msg.Nack(false, false); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
		return
	}
	log.Debug("Message processed successfully")
}
