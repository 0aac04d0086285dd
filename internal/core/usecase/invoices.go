package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/ports"
)

const (
	defaultInvoiceListLimit = 50
	maxInvoiceListLimit     = 500
)

type InvoiceUseCase struct {
	repo      ports.InvoiceRepository
	companyID int64
	now       func() time.Time
}

func NewInvoiceUseCase(repo ports.InvoiceRepository, companyID int64) *InvoiceUseCase {
	return &InvoiceUseCase{
		repo:      repo,
		companyID: companyID,
		now:       time.Now,
	}
}

func (uc *InvoiceUseCase) List(ctx context.Context, filter domain.InvoiceFilter) ([]domain.InvoiceRecord, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list invoices", fmt.Errorf("unknown status %q", filter.Status))
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultInvoiceListLimit
	}
	if filter.Limit > maxInvoiceListLimit {
		filter.Limit = maxInvoiceListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	invoices, err := uc.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

func (uc *InvoiceUseCase) Get(ctx context.Context, id int64) (*domain.InvoiceRecord, error) {
	if id <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get invoice", fmt.Errorf("invalid id %d", id))
	}
	return uc.repo.GetByID(ctx, id)
}

// Create stores an invoice typed in by an operator instead of ingested from a file.
func (uc *InvoiceUseCase) Create(ctx context.Context, input domain.InvoiceRecord) (*domain.InvoiceRecord, error) {
	rec := input
	rec.InvoiceNumber = strings.TrimSpace(rec.InvoiceNumber)
	rec.RecipientName = strings.TrimSpace(rec.RecipientName)
	rec.AccessKey = strings.TrimSpace(rec.AccessKey)
	if rec.InvoiceNumber == "" || rec.RecipientName == "" || rec.AccessKey == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create invoice", errors.New("invoice_number, recipient_name and access_key are required"))
	}
	if _, err := time.Parse(time.DateOnly, rec.IssueDate); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create invoice", fmt.Errorf("issue_date must be YYYY-MM-DD: %w", err))
	}
	if rec.CompanyID == 0 {
		rec.CompanyID = uc.companyID
	}
	if rec.Status == "" {
		rec.Status = domain.InvoiceStatusPendingSignature
	}
	if !rec.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create invoice", fmt.Errorf("unknown status %q", rec.Status))
	}
	rec.ID = 0

	if err := uc.repo.InsertInvoice(ctx, &rec); err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}
	return &rec, nil
}

func (uc *InvoiceUseCase) UpdateStatus(ctx context.Context, id int64, status domain.InvoiceStatus) (*domain.InvoiceRecord, error) {
	if !status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update invoice status", fmt.Errorf("unknown status %q", status))
	}
	if err := uc.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("update invoice status: %w", err)
	}
	return uc.repo.GetByID(ctx, id)
}

func (uc *InvoiceUseCase) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	stats, err := uc.repo.Stats(ctx, uc.now())
	if err != nil {
		return domain.DashboardStats{}, fmt.Errorf("invoice stats: %w", err)
	}
	return stats, nil
}
