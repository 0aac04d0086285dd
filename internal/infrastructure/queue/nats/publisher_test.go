package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/resilience"
)

type connFake struct {
	errs     []error
	subjects []string
	payloads [][]byte
	closed   bool
}

func (f *connFake) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *connFake) Close() { f.closed = true }

func sampleRecord() domain.InvoiceRecord {
	return domain.InvoiceRecord{
		ID:            9,
		CompanyID:     1,
		InvoiceNumber: "000123",
		AccessKey:     "35240612345678000190550010000001231234567890",
		IssueDate:     "2024-06-12",
		SourcePath:    "/watched/nfe_1.xml",
		CreatedAt:     time.Date(2024, 6, 12, 13, 0, 0, 0, time.UTC),
	}
}

func TestPublishInvoiceIngestedEncodesEvent(t *testing.T) {
	fake := &connFake{}
	p := newPublisher(fake, "invoices.ingested", nil)

	if err := p.PublishInvoiceIngested(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("PublishInvoiceIngested() error = %v", err)
	}
	if len(fake.subjects) != 1 || fake.subjects[0] != "invoices.ingested" {
		t.Fatalf("unexpected subjects: %v", fake.subjects)
	}

	var event InvoiceIngestedEvent
	if err := json.Unmarshal(fake.payloads[0], &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if event.InvoiceID != 9 || event.InvoiceNumber != "000123" || event.IssueDate != "2024-06-12" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestPublishRetriesWhileDisconnected(t *testing.T) {
	fake := &connFake{errs: []error{nats.ErrDisconnected}}
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	p := newPublisher(fake, "invoices.ingested", exec)

	if err := p.PublishInvoiceIngested(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("PublishInvoiceIngested() error = %v", err)
	}
	if len(fake.payloads) != 2 {
		t.Fatalf("expected 2 publish attempts, got %d", len(fake.payloads))
	}
}

func TestPublishConnectionLossIsTemporary(t *testing.T) {
	fake := &connFake{errs: []error{nats.ErrConnectionClosed}}
	p := newPublisher(fake, "invoices.ingested", nil)

	err := p.PublishInvoiceIngested(context.Background(), sampleRecord())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestPublishPermanentFailureIsNotTemporary(t *testing.T) {
	fake := &connFake{errs: []error{nats.ErrMaxPayload}}
	p := newPublisher(fake, "invoices.ingested", nil)

	err := p.PublishInvoiceIngested(context.Background(), sampleRecord())
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !errors.Is(err, nats.ErrMaxPayload) {
		t.Fatalf("expected nats error in chain, got %v", err)
	}
}
