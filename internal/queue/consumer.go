package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type JobHandler interface {
	Handle(context.Context, job.Job) (job.Result, error)
}

// Channel is the subset of *amqp.Channel the consumer needs.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer pulls one job at a time and answers on the delivery's reply
// queue. Every parsed job is acked, failures travel back as results.
type Consumer struct {
	channel Channel
	queue   string
	handler JobHandler
	tag     string
}

func NewConsumer(channel Channel, queue string, handler JobHandler) *Consumer {
	return &Consumer{
		channel: channel,
		queue:   queue,
		handler: handler,
		tag:     "fluxbot-" + uuid.NewString(),
	}
}

// Run consumes until ctx is done or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("Consumer").With("queue", c.queue, "consumer_tag", c.tag)

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if _, err := c.channel.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // auto-delete
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	deliveries, err := c.channel.Consume(
		c.queue, // queue
		c.tag,   // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume messages: %w", err)
	}
	log.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, log, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, log *slog.Logger, d amqp.Delivery) {
	log = log.With("delivery_tag", d.DeliveryTag, "message_id", d.MessageId)

	var j job.Job
	if err := json.Unmarshal(d.Body, &j); err != nil {
		log.Error("failed to parse job envelope", "error", err)
		if err := d.Nack(false, false); err != nil {
			log.Error("failed to nack malformed message", "error", err)
		}
		return
	}
	if j.ID == "" {
		j.ID = d.MessageId
	}

	res, _ := c.handler.Handle(ctx, j)
	if d.ReplyTo != "" {
		if err := c.reply(ctx, d, res); err != nil {
			log.Error("failed to publish result", "reply_to", d.ReplyTo, "error", err)
		}
	}
	if err := d.Ack(false); err != nil {
		log.Error("failed to ack message", "error", err)
	}
}

func (c *Consumer) reply(ctx context.Context, d amqp.Delivery, res job.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.channel.PublishWithContext(ctx,
		"",        // default exchange
		d.ReplyTo, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          body,
		},
	)
}

// Dial opens a connection and a channel on it.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return conn, ch, nil
}
