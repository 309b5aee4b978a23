package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/resilience"
)

const (
	DefaultStatusSubject  = "tasks.status"
	DefaultProcessSubject = "files.process"
	workerQueueGroup      = "workers"
)

// Bus publishes task transitions and carries process requests to workers.
type Bus struct {
	conn           *nats.Conn
	statusSubject  string
	processSubject string
	executor       *resilience.Executor
}

type Options struct {
	StatusSubject        string
	ProcessSubject       string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("financial-risk-analyzer"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:           conn,
		statusSubject:  orDefault(options.StatusSubject, DefaultStatusSubject),
		processSubject: orDefault(options.ProcessSubject, DefaultProcessSubject),
		executor:       options.ResilienceExecutor,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishTaskEvent(ctx context.Context, event domain.TaskEvent) error {
	return b.publishJSON(ctx, b.statusSubject, event)
}

func (b *Bus) PublishProcessRequest(ctx context.Context, req domain.ProcessRequest) error {
	return b.publishJSON(ctx, b.processSubject, req)
}

func (b *Bus) publishJSON(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	call := func(context.Context) error {
		if err := b.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

// SubscribeProcessRequests blocks until ctx ends, then drains the subscription.
func (b *Bus) SubscribeProcessRequests(ctx context.Context, handler func(context.Context, domain.ProcessRequest) error) error {
	sub, err := b.conn.QueueSubscribe(b.processSubject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		req, err := decodeProcessRequest(msg.Data)
		if err != nil {
			slog.Warn("process_request_rejected", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, req); err != nil {
			slog.Error("process_request_failed", "file_id", req.FileID, "repo_id", req.RepoID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeProcessRequest(data []byte) (domain.ProcessRequest, error) {
	var req domain.ProcessRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.ProcessRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode process request", err)
	}
	if req.FileID == "" || req.RepoID == "" {
		return domain.ProcessRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode process request", errors.New("file_id and repo_id are required"))
	}
	return req, nil
}

// NopPublisher drops task events when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishTaskEvent(context.Context, domain.TaskEvent) error { return nil }
