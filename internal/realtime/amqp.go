package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPFeed carries events over RabbitMQ, one fanout exchange per table and an
// exclusive auto-delete queue per subscriber.
type AMQPFeed struct {
	conn *amqp.Connection

	mu  sync.Mutex
	pub *amqp.Channel
}

func NewAMQPFeed(url string) (*AMQPFeed, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel open: %w", err)
	}
	return &AMQPFeed{conn: conn, pub: ch}, nil
}

func declareExchange(ch *amqp.Channel, table string) error {
	return ch.ExchangeDeclare(
		channelName(table), // name
		"fanout",           // kind
		true,               // durable
		false,              // autoDelete
		false,              // internal
		false,              // noWait
		nil,
	)
}

func (f *AMQPFeed) Publish(ctx context.Context, ev Event) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := declareExchange(f.pub, ev.Table); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	return f.pub.PublishWithContext(ctx,
		channelName(ev.Table), // exchange
		"",                    // routing key, ignored by fanout
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now().UTC(),
			Body:        body,
		},
	)
}

func (f *AMQPFeed) Subscribe(ctx context.Context, table string, h Handler) error {
	ch, err := f.conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	if err := declareExchange(ch, table); err != nil {
		_ = ch.Close()
		return fmt.Errorf("exchange declare: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", channelName(table), false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("queue consume: %w", err)
	}

	go func() {
		defer func() { _ = ch.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					log.Printf("[warn] realtime: amqp deliveries closed for %s", table)
					return
				}
				ev, err := decodeEvent(d.Body)
				if err != nil {
					log.Printf("[warn] realtime: bad event on %s: %v", table, err)
					continue
				}
				h(ev)
			}
		}
	}()
	return nil
}

func (f *AMQPFeed) Close() error {
	f.mu.Lock()
	_ = f.pub.Close()
	f.mu.Unlock()
	return f.conn.Close()
}
