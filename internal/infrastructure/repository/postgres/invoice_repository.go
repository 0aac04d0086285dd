package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/resilience"
)

const invoiceColumns = `id, company_id, invoice_number, recipient_name, access_key,
	to_char(issue_date, 'YYYY-MM-DD'), source_path, checksum, status, created_at, updated_at`

type InvoiceRepository struct {
	db       *sql.DB
	executor *resilience.Executor
	schema   *SchemaGate
	now      func() time.Time
}

type InvoiceRepositoryOption func(*InvoiceRepository)

// WithSchemaGate makes InsertInvoice create the schema on first use.
func WithSchemaGate(gate *SchemaGate) InvoiceRepositoryOption {
	return func(r *InvoiceRepository) {
		r.schema = gate
	}
}

// NewInvoiceRepository returns a repository whose writes go through executor
// when it is not nil.
func NewInvoiceRepository(db *sql.DB, executor *resilience.Executor, opts ...InvoiceRepositoryOption) *InvoiceRepository {
	r := &InvoiceRepository{
		db:       db,
		executor: executor,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InsertInvoice stores rec and fills in its generated id and timestamps.
// There is no uniqueness check: inserting the same document twice creates two rows.
func (r *InvoiceRepository) InsertInvoice(ctx context.Context, rec *domain.InvoiceRecord) error {
	if r.schema != nil {
		if err := r.schema.Ensure(ctx); err != nil {
			return domain.WrapError(domain.ErrTemporary, "ensure schema", err)
		}
	}

	status := rec.Status
	if status == "" {
		status = domain.InvoiceStatusPendingSignature
	}
	now := r.now()

	type inserted struct {
		id        int64
		createdAt time.Time
		updatedAt time.Time
	}
	out, err := resilience.Do(ctx, r.executor, "postgres.insert_invoice", func(ctx context.Context) (inserted, error) {
		var row inserted
		err := r.db.QueryRowContext(ctx, `
INSERT INTO invoices (
	company_id, invoice_number, recipient_name, access_key, issue_date, source_path, checksum, status, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
RETURNING id, created_at, updated_at
`,
			rec.CompanyID, rec.InvoiceNumber, rec.RecipientName, rec.AccessKey, rec.IssueDate,
			rec.SourcePath, rec.Checksum, string(status), now,
		).Scan(&row.id, &row.createdAt, &row.updatedAt)
		return row, err
	}, classifyPostgresError)
	if err != nil {
		if resilience.IsCircuitOpen(err) || classifyPostgresError(err).Retryable {
			return domain.WrapError(domain.ErrTemporary, "insert invoice", err)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	rec.ID = out.id
	rec.Status = status
	rec.CreatedAt = out.createdAt
	rec.UpdatedAt = out.updatedAt
	return nil
}

func (r *InvoiceRepository) List(ctx context.Context, filter domain.InvoiceFilter) ([]domain.InvoiceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	out := make([]domain.InvoiceRecord, 0)
	for rows.Next() {
		rec, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return out, nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*domain.InvoiceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE id = $1
`, id)

	rec, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrInvoiceNotFound, "get invoice", fmt.Errorf("id=%d", id))
		}
		return nil, err
	}
	return rec, nil
}

func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id int64, status domain.InvoiceStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET status = $2, updated_at = $3
WHERE id = $1
`, id, string(status), r.now())
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice status rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrInvoiceNotFound, "update invoice status", fmt.Errorf("id=%d", id))
	}
	return nil
}

// Stats counts invoices by status and those created on the calendar day of day.
func (r *InvoiceRepository) Stats(ctx context.Context, day time.Time) (domain.DashboardStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var stats domain.DashboardStats
	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) FILTER (WHERE status = $1),
	COUNT(*) FILTER (WHERE status = $2),
	COUNT(*) FILTER (WHERE created_at >= $3 AND created_at < $4),
	COUNT(*)
FROM invoices
`, string(domain.InvoiceStatusPendingSignature), string(domain.InvoiceStatusSigned), start, end).Scan(
		&stats.PendingSignature, &stats.Signed, &stats.IngestedToday, &stats.Total,
	)
	if err != nil {
		return domain.DashboardStats{}, fmt.Errorf("query invoice stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*domain.InvoiceRecord, error) {
	var (
		rec    domain.InvoiceRecord
		status string
	)
	err := row.Scan(
		&rec.ID, &rec.CompanyID, &rec.InvoiceNumber, &rec.RecipientName, &rec.AccessKey,
		&rec.IssueDate, &rec.SourcePath, &rec.Checksum, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	rec.Status = domain.InvoiceStatus(status)
	return &rec, nil
}
