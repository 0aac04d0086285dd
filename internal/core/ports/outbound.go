package ports

import (
	"context"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

// InvoiceWriter is the persistence gateway used by the ingestion pipeline.
type InvoiceWriter interface {
	InsertInvoice(ctx context.Context, rec *domain.InvoiceRecord) error
}

// InvoiceRepository persists and reads invoice records.
type InvoiceRepository interface {
	InvoiceWriter
	List(ctx context.Context, filter domain.InvoiceFilter) ([]domain.InvoiceRecord, error)
	GetByID(ctx context.Context, id int64) (*domain.InvoiceRecord, error)
	UpdateStatus(ctx context.Context, id int64, status domain.InvoiceStatus) error
	Stats(ctx context.Context, day time.Time) (domain.DashboardStats, error)
}

// UserRepository persists and reads user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	List(ctx context.Context) ([]domain.User, error)
	GetByCPF(ctx context.Context, cpf string) (*domain.User, error)
}

// InvoiceExtractor pulls the persisted fields out of an NF-e XML file.
type InvoiceExtractor interface {
	Extract(ctx context.Context, path string) (domain.InvoiceFields, error)
}

// FileStabilizer waits until a freshly created file is no longer being written.
type FileStabilizer interface {
	Stabilize(ctx context.Context, path string) (domain.StabilizationState, error)
}

// FileInbox claims files in the watched directory and commits or rolls back their processing.
type FileInbox interface {
	Claim(ctx context.Context, path string) (domain.Claim, error)
	MarkPersisted(ctx context.Context, claim *domain.Claim, invoiceID int64) error
	Release(ctx context.Context, claim domain.Claim) error
	Archive(ctx context.Context, claim domain.Claim) (string, error)
}

// InboxLister lists files waiting in the watched directory without a claim.
type InboxLister interface {
	Unclaimed(ctx context.Context) ([]string, error)
}

// ActivityLog is the append-only audit trail of the ingestion pipeline.
type ActivityLog interface {
	Record(message string, attrs ...any)
}

// EventPublisher announces newly persisted invoices.
type EventPublisher interface {
	PublishInvoiceIngested(ctx context.Context, rec domain.InvoiceRecord) error
}

// IngestObserver receives the outcome of each processed file.
type IngestObserver interface {
	StartFile()
	FinishFile(outcome domain.IngestOutcome, duration time.Duration)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type TokenIssuer interface {
	Issue(user domain.User) (string, time.Time, error)
}

type TokenVerifier interface {
	Verify(token string) (domain.TokenClaims, error)
}
