package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/common"
)

// Publisher sends prompt-usage events to the telemetry queue. It
// implements chat.UsageSink; cmd/worker writes the rows.
type Publisher struct {
	conn  *amqp.Connection
	queue string

	// amqp channels are not safe for concurrent publishes
	mu sync.Mutex
	ch publishChannel
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareQueues declares the usage queue with its retry and dead-letter
// queues. Rejected usage events land in <queue>.dlq; events parked in
// <queue>.retry return to the main queue when their TTL expires.
// Publisher and worker must agree on these arguments.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	for _, q := range usageQueues(queue) {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

type queueSpec struct {
	name string
	args amqp.Table
}

// usageQueues lists the queues in declaration order: dead-letter
// targets first.
func usageQueues(queue string) []queueSpec {
	deadLetterTo := func(target string) amqp.Table {
		return amqp.Table{"x-dead-letter-exchange": "", "x-dead-letter-routing-key": target}
	}
	return []queueSpec{
		{name: queue + ".dlq"},
		{name: queue + ".retry", args: deadLetterTo(queue)},
		{name: queue, args: deadLetterTo(queue + ".dlq")},
	}
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) RecordUsage(ctx context.Context, ev chat.UsageEvent) error {
	body, err := Encode(&ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Encode assigns an id when missing so redeliveries can be deduplicated
// by primary key.
func Encode(ev *chat.UsageEvent) ([]byte, error) {
	if ev.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return nil, err
		}
		ev.ID = id
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return json.Marshal(ev)
}

func Decode(body []byte) (chat.UsageEvent, error) {
	var ev chat.UsageEvent
	err := json.Unmarshal(body, &ev)
	return ev, err
}

var _ chat.UsageSink = (*Publisher)(nil)
