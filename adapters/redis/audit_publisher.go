package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"

	"gavel/audit"
)

var ErrPublisherClosed = errors.New("audit publisher is closed")

type publisherOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type PublisherOption func(*publisherOptions)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(o *publisherOptions) {
		o.logger = logger
	}
}

func WithPublisherBufferSize(size int) PublisherOption {
	return func(o *publisherOptions) {
		o.bufferSize = size
	}
}

// AuditPublisher appends audit entries to a redis stream. It
// implements audit.Logger: Log only enqueues onto an unbounded
// in-memory channel, a single goroutine drains into XADD, and delivery
// failures are logged and dropped. The bid transaction is never held
// hostage by the trail.
type AuditPublisher struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    publisherOptions
}

func NewAuditPublisher(client *redis.Client, stream string, opts ...PublisherOption) (*AuditPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := publisherOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &AuditPublisher{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "AuditPublisher"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *AuditPublisher) Start() {
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("starting audit publisher")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("audit publisher goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case message := <-p.upstream.Out:
				id, err := p.client.XAdd(ctx, &redis.XAddArgs{
					Stream: p.stream,
					Values: message,
				}).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					p.logger.Error("publish audit entry error", slog.Any("error", err))
					continue
				}
				p.logger.Debug("audit entry published", slog.String("messageId", id))
			}
		}
	}()
}

// Log implements audit.Logger.
func (p *AuditPublisher) Log(ctx context.Context, entry audit.Entry) error {
	if p.closed {
		return ErrPublisherClosed
	}
	message, err := EncodeMessage(entry)
	if err != nil {
		return fmt.Errorf("parse audit entry error: %w", err)
	}
	p.upstream.In <- message
	return nil
}

func (p *AuditPublisher) Close() {
	if p.closed {
		return
	}
	p.logger.Info("closing audit publisher")
	p.closed = true
	p.cancelFunc()
	p.wg.Wait()
	p.logger.Info("audit publisher closed")
}
