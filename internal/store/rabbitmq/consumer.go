package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/db"
)

type Outcome int

const (
	Ack Outcome = iota
	// Retry republishes to the retry queue; after MaxRetries it becomes Reject.
	Retry
	// Reject dead-letters the message.
	Reject
)

const (
	MaxRetries   = 3
	headerRetry  = "x-retry-count"
	defaultDelay = 5 * time.Second
)

var ErrBadMessage = errors.New("rabbitmq: bad usage message")

// Process writes one usage delivery through sink. A duplicate primary
// key means an earlier delivery already landed, so it is acked.
func Process(ctx context.Context, sink chat.UsageSink, body []byte) (Outcome, error) {
	ev, err := Decode(body)
	if err != nil || ev.ID == "" || ev.MessageID == "" || ev.SessionID == "" {
		if err == nil {
			err = ErrBadMessage
		}
		return Reject, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := sink.RecordUsage(ctx, ev); err != nil {
		if db.IsUniqueViolation(err) {
			return Ack, nil
		}
		return Retry, err
	}
	return Ack, nil
}

func retryCount(h amqp.Table) int {
	switch v := h[headerRetry].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Republish sends d to the retry queue with a per-message TTL; the retry
// queue dead-letters it back to the main queue. It reports false once
// the retry budget is spent.
func Republish(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery, delay time.Duration) (bool, error) {
	n := retryCount(d.Headers)
	if n >= MaxRetries {
		return false, nil
	}
	if delay <= 0 {
		delay = defaultDelay
	}
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[headerRetry] = int32(n + 1)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := ch.PublishWithContext(cctx, "", queue+".retry", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         d.Body,
		Timestamp:    time.Now(),
	})
	return err == nil, err
}
