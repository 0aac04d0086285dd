package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/ports"
)

type IngestOptions struct {
	// CompanyID is assigned to every ingested invoice; documents do not carry it.
	CompanyID int64
}

// IngestInvoiceUseCase runs one XML file through claim, stabilize, extract,
// persist and archive. A file leaves the watched directory only after its
// record was stored.
type IngestInvoiceUseCase struct {
	inbox      ports.FileInbox
	stabilizer ports.FileStabilizer
	extractor  ports.InvoiceExtractor
	writer     ports.InvoiceWriter
	publisher  ports.EventPublisher
	activity   ports.ActivityLog
	observer   ports.IngestObserver
	companyID  int64
}

func NewIngestInvoiceUseCase(
	inbox ports.FileInbox,
	stabilizer ports.FileStabilizer,
	extractor ports.InvoiceExtractor,
	writer ports.InvoiceWriter,
	publisher ports.EventPublisher,
	activity ports.ActivityLog,
	observer ports.IngestObserver,
	opts IngestOptions,
) *IngestInvoiceUseCase {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &IngestInvoiceUseCase{
		inbox:      inbox,
		stabilizer: stabilizer,
		extractor:  extractor,
		writer:     writer,
		publisher:  publisher,
		activity:   activity,
		observer:   observer,
		companyID:  opts.CompanyID,
	}
}

func (uc *IngestInvoiceUseCase) Process(ctx context.Context, path string) error {
	start := time.Now()
	uc.observer.StartFile()

	outcome, err := uc.process(ctx, path)
	uc.observer.FinishFile(outcome, time.Since(start))
	return err
}

func (uc *IngestInvoiceUseCase) process(ctx context.Context, path string) (domain.IngestOutcome, error) {
	uc.activity.Record("new XML file detected", "path", path)

	claim, err := uc.inbox.Claim(ctx, path)
	if err != nil {
		if domain.IsKind(err, domain.ErrClaimed) {
			uc.activity.Record("file already claimed, skipping", "path", path, "error", err.Error())
			return domain.OutcomeSkipped, nil
		}
		uc.activity.Record("error claiming file", "path", path, "error", err.Error())
		return domain.OutcomeSkipped, fmt.Errorf("claim file: %w", err)
	}

	if _, err := uc.stabilizer.Stabilize(ctx, path); err != nil {
		uc.rollback(ctx, claim, err)
		return domain.OutcomeStabilizeFailed, fmt.Errorf("stabilize file: %w", err)
	}

	fields, err := uc.extractor.Extract(ctx, path)
	if err != nil {
		uc.rollback(ctx, claim, err)
		return domain.OutcomeParseError, fmt.Errorf("extract invoice fields: %w", err)
	}

	rec := uc.newRecord(path, fields)
	if err := uc.writer.InsertInvoice(ctx, rec); err != nil {
		uc.rollback(ctx, claim, err)
		return domain.OutcomePersistError, domain.WrapError(domain.ErrPersistence, "insert invoice", err)
	}
	uc.activity.Record("invoice persisted",
		"path", path,
		"invoice_id", rec.ID,
		"invoice_number", rec.InvoiceNumber,
	)

	if err := uc.inbox.MarkPersisted(ctx, &claim, rec.ID); err != nil {
		uc.activity.Record("error marking claim as persisted", "path", path, "error", err.Error())
	}
	if err := uc.publisher.PublishInvoiceIngested(ctx, *rec); err != nil {
		uc.activity.Record("error publishing ingested event", "path", path, "invoice_id", rec.ID, "error", err.Error())
	}

	dest, err := uc.inbox.Archive(ctx, claim)
	if err != nil {
		// The claim stays in place so a restart does not ingest the file a second time.
		uc.activity.Record("error archiving file, invoice persisted but file left in place",
			"path", path,
			"invoice_id", rec.ID,
			"error", err.Error(),
		)
		return domain.OutcomeArchiveError, domain.WrapError(domain.ErrArchive, "archive file", err)
	}
	uc.activity.Record("file archived", "path", path, "destination", dest)

	return domain.OutcomeArchived, nil
}

func (uc *IngestInvoiceUseCase) newRecord(path string, fields domain.InvoiceFields) *domain.InvoiceRecord {
	return &domain.InvoiceRecord{
		CompanyID:     uc.companyID,
		InvoiceNumber: fields.InvoiceNumber,
		RecipientName: fields.RecipientName,
		AccessKey:     fields.AccessKey,
		IssueDate:     fields.IssueDate,
		SourcePath:    path,
		Checksum:      fields.Checksum,
		Status:        domain.InvoiceStatusPendingSignature,
	}
}

func (uc *IngestInvoiceUseCase) rollback(ctx context.Context, claim domain.Claim, cause error) {
	attrs := []any{"path", claim.Path, "error", cause.Error()}
	var missing *domain.MissingFieldError
	if errors.As(cause, &missing) {
		attrs = append(attrs, "field", missing.Field)
	}
	uc.activity.Record("error processing XML", attrs...)

	if err := uc.inbox.Release(ctx, claim); err != nil {
		uc.activity.Record("error releasing claim", "path", claim.Path, "error", err.Error())
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishInvoiceIngested(context.Context, domain.InvoiceRecord) error { return nil }

type noopObserver struct{}

func (noopObserver) StartFile() {}
func (noopObserver) FinishFile(domain.IngestOutcome, time.Duration) {}
