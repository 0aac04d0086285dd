package ports

import (
	"context"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

// InvoiceIngestor is the inbound contract for processing one invoice file from the watched directory.
type InvoiceIngestor interface {
	Process(ctx context.Context, path string) error
}

// InvoiceService is the inbound contract for invoice reads and status changes over HTTP.
type InvoiceService interface {
	List(ctx context.Context, filter domain.InvoiceFilter) ([]domain.InvoiceRecord, error)
	Get(ctx context.Context, id int64) (*domain.InvoiceRecord, error)
	Create(ctx context.Context, input domain.InvoiceRecord) (*domain.InvoiceRecord, error)
	UpdateStatus(ctx context.Context, id int64, status domain.InvoiceStatus) (*domain.InvoiceRecord, error)
	Dashboard(ctx context.Context) (domain.DashboardStats, error)
}

// UserService is the inbound contract for accounts and login.
type UserService interface {
	Register(ctx context.Context, name, cpf, password string, role domain.Role) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Login(ctx context.Context, cpf, password string) (*domain.Session, error)
}
