package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"reminder-service/pkg/config"
)

const (
	ExchangeName = "events"

	defaultHeartbeat      = 10 * time.Second
	defaultConnectionName = "reminder-service"
)

// NewConnection 连接 RabbitMQ，role 写进 connection_name，方便在管理界面区分 publisher 和 consumer
func NewConnection(cfg config.MQConfig, role string) (*amqp091.Connection, error) {
	conn, err := amqp091.DialConfig(cfg.URL, dialConfig(cfg, role))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func dialConfig(cfg config.MQConfig, role string) amqp091.Config {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	name := cfg.ConnectionName
	if name == "" {
		name = defaultConnectionName
	}
	if role != "" {
		name += "/" + role
	}

	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(name)
	return amqp091.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	}
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
