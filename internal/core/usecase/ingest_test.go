package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

type inboxFake struct {
	claimErr   error
	archiveErr error
	markErr    error

	claims    []string
	released  []string
	archived  []string
	persisted []int64
}

func (f *inboxFake) Claim(_ context.Context, path string) (domain.Claim, error) {
	if f.claimErr != nil {
		return domain.Claim{}, f.claimErr
	}
	f.claims = append(f.claims, path)
	return domain.Claim{Token: "tok", Path: path, State: domain.ClaimProcessing}, nil
}

func (f *inboxFake) MarkPersisted(_ context.Context, claim *domain.Claim, invoiceID int64) error {
	f.persisted = append(f.persisted, invoiceID)
	if f.markErr != nil {
		return f.markErr
	}
	claim.State = domain.ClaimPersisted
	claim.InvoiceID = invoiceID
	return nil
}

func (f *inboxFake) Release(_ context.Context, claim domain.Claim) error {
	f.released = append(f.released, claim.Path)
	return nil
}

func (f *inboxFake) Archive(_ context.Context, claim domain.Claim) (string, error) {
	if f.archiveErr != nil {
		return "", f.archiveErr
	}
	f.archived = append(f.archived, claim.Path)
	return "/watched/LIDO/" + claim.Path[strings.LastIndex(claim.Path, "/")+1:], nil
}

type stabilizerFake struct {
	err   error
	calls int
}

func (f *stabilizerFake) Stabilize(context.Context, string) (domain.StabilizationState, error) {
	f.calls++
	if f.err != nil {
		return domain.StabilizationTimedOut, f.err
	}
	return domain.StabilizationStable, nil
}

type invoiceExtractorFake struct {
	fields domain.InvoiceFields
	err    error
	calls  int
}

func (f *invoiceExtractorFake) Extract(context.Context, string) (domain.InvoiceFields, error) {
	f.calls++
	if f.err != nil {
		return domain.InvoiceFields{}, f.err
	}
	return f.fields, nil
}

type invoiceWriterFake struct {
	err      error
	inserted []domain.InvoiceRecord
	nextID   int64
}

func (f *invoiceWriterFake) InsertInvoice(_ context.Context, rec *domain.InvoiceRecord) error {
	if f.err != nil {
		return f.err
	}
	f.nextID++
	rec.ID = f.nextID
	f.inserted = append(f.inserted, *rec)
	return nil
}

type publisherFake struct {
	err       error
	published []domain.InvoiceRecord
}

func (f *publisherFake) PublishInvoiceIngested(_ context.Context, rec domain.InvoiceRecord) error {
	f.published = append(f.published, rec)
	return f.err
}

type activityFake struct {
	messages []string
}

func (f *activityFake) Record(message string, _ ...any) {
	f.messages = append(f.messages, message)
}

func (f *activityFake) contains(message string) bool {
	for _, m := range f.messages {
		if m == message {
			return true
		}
	}
	return false
}

type observerFake struct {
	started  int
	outcomes []domain.IngestOutcome
}

func (f *observerFake) StartFile() { f.started++ }

func (f *observerFake) FinishFile(outcome domain.IngestOutcome, _ time.Duration) {
	f.outcomes = append(f.outcomes, outcome)
}

type ingestHarness struct {
	inbox      *inboxFake
	stabilizer *stabilizerFake
	extractor  *invoiceExtractorFake
	writer     *invoiceWriterFake
	publisher  *publisherFake
	activity   *activityFake
	observer   *observerFake
}

func newIngestHarness() *ingestHarness {
	return &ingestHarness{
		inbox:      &inboxFake{},
		stabilizer: &stabilizerFake{},
		extractor: &invoiceExtractorFake{fields: domain.InvoiceFields{
			InvoiceNumber: "000123",
			RecipientName: "Empresa Teste",
			AccessKey:     "35240612345678000190550010000001231234567890",
			IssueDate:     "2024-06-12",
			Checksum:      "abc",
		}},
		writer:    &invoiceWriterFake{},
		publisher: &publisherFake{},
		activity:  &activityFake{},
		observer:  &observerFake{},
	}
}

func (h *ingestHarness) useCase() *IngestInvoiceUseCase {
	return NewIngestInvoiceUseCase(h.inbox, h.stabilizer, h.extractor, h.writer, h.publisher, h.activity, h.observer, IngestOptions{CompanyID: 1})
}

func TestIngestProcessPersistsThenArchives(t *testing.T) {
	h := newIngestHarness()

	if err := h.useCase().Process(context.Background(), "/watched/nfe_1.xml"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(h.writer.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(h.writer.inserted))
	}
	rec := h.writer.inserted[0]
	if rec.CompanyID != 1 || rec.InvoiceNumber != "000123" || rec.IssueDate != "2024-06-12" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.SourcePath != "/watched/nfe_1.xml" {
		t.Fatalf("expected source path to be recorded, got %q", rec.SourcePath)
	}
	if rec.Status != domain.InvoiceStatusPendingSignature {
		t.Fatalf("expected pending signature status, got %s", rec.Status)
	}
	if len(h.inbox.archived) != 1 || len(h.inbox.released) != 0 {
		t.Fatalf("expected archive without release, archived=%v released=%v", h.inbox.archived, h.inbox.released)
	}
	if len(h.inbox.persisted) != 1 || h.inbox.persisted[0] != 1 {
		t.Fatalf("expected claim marked persisted with id 1, got %v", h.inbox.persisted)
	}
	if len(h.publisher.published) != 1 {
		t.Fatalf("expected ingested event, got %d", len(h.publisher.published))
	}
	for _, msg := range []string{"new XML file detected", "invoice persisted", "file archived"} {
		if !h.activity.contains(msg) {
			t.Fatalf("expected activity %q, got %v", msg, h.activity.messages)
		}
	}
	if len(h.observer.outcomes) != 1 || h.observer.outcomes[0] != domain.OutcomeArchived {
		t.Fatalf("unexpected outcomes: %v", h.observer.outcomes)
	}
}

func TestIngestProcessExtractionFailureLeavesFileInPlace(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "missing field", err: &domain.MissingFieldError{Path: "/watched/a.xml", Field: "access_key"}},
		{name: "malformed xml", err: &domain.ParseError{Path: "/watched/a.xml", Err: errors.New("XML syntax error")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newIngestHarness()
			h.extractor.err = tc.err

			err := h.useCase().Process(context.Background(), "/watched/a.xml")
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected extractor error in chain, got %v", err)
			}
			if len(h.writer.inserted) != 0 {
				t.Fatalf("expected no insert, got %d", len(h.writer.inserted))
			}
			if len(h.inbox.archived) != 0 {
				t.Fatalf("expected no archive, got %v", h.inbox.archived)
			}
			if len(h.inbox.released) != 1 {
				t.Fatalf("expected claim release, got %v", h.inbox.released)
			}
			if !h.activity.contains("error processing XML") {
				t.Fatalf("expected error activity, got %v", h.activity.messages)
			}
			if h.observer.outcomes[0] != domain.OutcomeParseError {
				t.Fatalf("expected parse_error outcome, got %v", h.observer.outcomes)
			}
		})
	}
}

func TestIngestProcessPersistenceFailureDoesNotArchive(t *testing.T) {
	h := newIngestHarness()
	h.writer.err = errors.New("connection refused")

	err := h.useCase().Process(context.Background(), "/watched/nfe_1.xml")
	if !domain.IsKind(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(h.inbox.archived) != 0 {
		t.Fatalf("expected no archive, got %v", h.inbox.archived)
	}
	if len(h.inbox.released) != 1 {
		t.Fatalf("expected claim release, got %v", h.inbox.released)
	}
	if len(h.publisher.published) != 0 {
		t.Fatalf("expected no event for failed persist")
	}
}

func TestIngestProcessArchiveFailureKeepsClaim(t *testing.T) {
	h := newIngestHarness()
	h.inbox.archiveErr = errors.New("destination exists")

	err := h.useCase().Process(context.Background(), "/watched/nfe_1.xml")
	if !domain.IsKind(err, domain.ErrArchive) {
		t.Fatalf("expected ErrArchive, got %v", err)
	}
	if len(h.writer.inserted) != 1 {
		t.Fatalf("expected persisted record, got %d", len(h.writer.inserted))
	}
	if len(h.inbox.released) != 0 {
		t.Fatalf("claim must be kept after archive failure, released=%v", h.inbox.released)
	}
	if !h.activity.contains("error archiving file, invoice persisted but file left in place") {
		t.Fatalf("expected archive error activity, got %v", h.activity.messages)
	}
}

func TestIngestProcessSkipsClaimedFile(t *testing.T) {
	h := newIngestHarness()
	h.inbox.claimErr = domain.WrapError(domain.ErrClaimed, "claim", errors.New("nfe_1.xml"))

	if err := h.useCase().Process(context.Background(), "/watched/nfe_1.xml"); err != nil {
		t.Fatalf("expected claimed file to be skipped silently, got %v", err)
	}
	if h.stabilizer.calls != 0 || h.extractor.calls != 0 {
		t.Fatalf("expected no processing of claimed file")
	}
	if h.observer.outcomes[0] != domain.OutcomeSkipped {
		t.Fatalf("expected skipped outcome, got %v", h.observer.outcomes)
	}
}

func TestIngestProcessStabilizationTimeoutSkipsExtraction(t *testing.T) {
	h := newIngestHarness()
	h.stabilizer.err = domain.WrapError(domain.ErrStabilizationTimeout, "stabilize", errors.New("size kept changing"))

	err := h.useCase().Process(context.Background(), "/watched/nfe_1.xml")
	if !domain.IsKind(err, domain.ErrStabilizationTimeout) {
		t.Fatalf("expected ErrStabilizationTimeout, got %v", err)
	}
	if h.extractor.calls != 0 {
		t.Fatalf("expected no extraction, got %d calls", h.extractor.calls)
	}
	if len(h.inbox.released) != 1 {
		t.Fatalf("expected claim release")
	}
}

func TestIngestProcessSameFileTwiceInsertsTwice(t *testing.T) {
	h := newIngestHarness()
	uc := h.useCase()

	for i := 0; i < 2; i++ {
		if err := uc.Process(context.Background(), "/watched/nfe_1.xml"); err != nil {
			t.Fatalf("Process() #%d error = %v", i+1, err)
		}
	}

	// There is no idempotency guard: a duplicate event produces a duplicate row.
	if len(h.writer.inserted) != 2 {
		t.Fatalf("expected 2 inserts for duplicate dispatch, got %d", len(h.writer.inserted))
	}
	if h.writer.inserted[0].AccessKey != h.writer.inserted[1].AccessKey {
		t.Fatalf("expected identical access keys")
	}
}

func TestIngestProcessPublishFailureStillArchives(t *testing.T) {
	h := newIngestHarness()
	h.publisher.err = errors.New("nats down")

	if err := h.useCase().Process(context.Background(), "/watched/nfe_1.xml"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(h.inbox.archived) != 1 {
		t.Fatalf("expected archive despite publish failure")
	}
	if !h.activity.contains("error publishing ingested event") {
		t.Fatalf("expected publish error activity, got %v", h.activity.messages)
	}
}
