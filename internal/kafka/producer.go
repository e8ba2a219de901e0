package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace/internal/metrics"
)

var ErrProducerClosed = errors.New("kafka producer closed")

// Producer buffers messages in an inbox and writes them from one goroutine.
// The topic travels on each message, so one producer serves every topic.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	mu      sync.RWMutex // guards closed against in-flight Publish calls
	closed  bool
	log     *zap.Logger
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log,
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true, // errors surface through Completion
		Completion:   p.completed,
	}
	return p
}

func (p *Producer) completed(msgs []kafka.Message, err error) {
	for _, m := range msgs {
		metrics.RecordPublish(m.Topic, err == nil)
	}
	if err != nil {
		p.log.Error("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
	}
}

// Start runs the writer loop until Close is called. Messages still in the
// inbox at that point are flushed before the writer closes.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.log.Error("kafka enqueue failed", zap.String("topic", m.Topic), zap.Error(err))
			}
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", zap.Error(err))
		}
	}()
}

// Publish queues a message. It blocks only while the inbox is full and gives
// up when ctx ends. After Close it returns ErrProducerClosed.
func (p *Producer) Publish(ctx context.Context, m kafka.Message) error {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages. It waits for Publish calls already
// queueing, which the writer loop keeps draining.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the inbox is drained and the writer closed.
func (p *Producer) WaitClosed() { <-p.closeCh }
