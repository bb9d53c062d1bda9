package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/config"
	"github.com/suPer8Hu/companion-chat/internal/db"
	"github.com/suPer8Hu/companion-chat/internal/logger"
	"github.com/suPer8Hu/companion-chat/internal/store/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.With("component", "usage-worker")

	gdb := db.Connect(cfg.DBDSN)
	if err := chat.AutoMigrate(gdb); err != nil {
		log.Fatal("migrate failed", "error", err)
	}
	sink := chat.NewDBUsageSink(chat.NewRepo(gdb))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial failed", "error", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel failed", "error", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare failed", "error", err)
	}

	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos failed", "error", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	h := &handler{log: log, sink: sink, ch: ch, queue: cfg.RabbitQueue}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				h.handle(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

type handler struct {
	log   *logger.Logger
	sink  chat.UsageSink
	queue string

	// amqp channels are not safe for concurrent publishes
	pubMu sync.Mutex
	ch    *amqp.Channel
}

func (h *handler) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	start := time.Now()
	out, err := rabbitmq.Process(ctx, h.sink, d.Body)
	switch out {
	case rabbitmq.Ack:
		if err := d.Ack(false); err != nil {
			h.log.Warn("ack failed", "worker", workerID, "message_id", d.MessageId, "error", err)
		}
	case rabbitmq.Retry:
		h.pubMu.Lock()
		requeued, perr := rabbitmq.Republish(ctx, h.ch, h.queue, d, 0)
		h.pubMu.Unlock()
		if requeued {
			h.log.Warn("usage write failed, retrying", "worker", workerID, "message_id", d.MessageId, "cost", time.Since(start), "error", err)
			_ = d.Ack(false)
			return
		}
		h.log.Error("usage write failed, dead-lettering", "worker", workerID, "message_id", d.MessageId, "error", err, "republish_error", perr)
		_ = d.Nack(false, false)
	case rabbitmq.Reject:
		h.log.Warn("bad message", "worker", workerID, "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
	}
}
