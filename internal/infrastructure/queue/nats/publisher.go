// Package nats announces persisted invoices on a NATS subject so downstream
// services (signature, notification) can react without polling the database.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/resilience"
)

// InvoiceIngestedEvent is the JSON payload published for every stored invoice.
type InvoiceIngestedEvent struct {
	InvoiceID     int64     `json:"id"`
	CompanyID     int64     `json:"company_id"`
	InvoiceNumber string    `json:"invoice_number"`
	AccessKey     string    `json:"access_key"`
	IssueDate     string    `json:"issue_date"`
	SourcePath    string    `json:"source_path"`
	Checksum      string    `json:"checksum,omitempty"`
	IngestedAt    time.Time `json:"ingested_at"`
}

type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

type Publisher struct {
	conn     conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewPublisher(url, subject string, options Options) (*Publisher, error) {
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
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(
		url,
		nats.Name("invoice-watcher"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(nc, subject, options.ResilienceExecutor), nil
}

func newPublisher(c conn, subject string, executor *resilience.Executor) *Publisher {
	return &Publisher{
		conn:     c,
		subject:  subject,
		executor: executor,
	}
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) PublishInvoiceIngested(ctx context.Context, rec domain.InvoiceRecord) error {
	ingestedAt := rec.CreatedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(InvoiceIngestedEvent{
		InvoiceID:     rec.ID,
		CompanyID:     rec.CompanyID,
		InvoiceNumber: rec.InvoiceNumber,
		AccessKey:     rec.AccessKey,
		IssueDate:     rec.IssueDate,
		SourcePath:    rec.SourcePath,
		Checksum:      rec.Checksum,
		IngestedAt:    ingestedAt,
	})
	if err != nil {
		return fmt.Errorf("encode invoice event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}
