package httpadapter

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/export/xlsx"
)

const exportPageSize = 500

type createInvoiceRequest struct {
	CompanyID     int64  `json:"company_id"`
	InvoiceNumber string `json:"invoice_number"`
	RecipientName string `json:"recipient_name"`
	AccessKey     string `json:"access_key"`
	IssueDate     string `json:"issue_date"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (rt *Router) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInvoiceFilter(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	invoices, err := rt.invoices.List(r.Context(), filter)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (rt *Router) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	invoice, err := rt.invoices.Get(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (rt *Router) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	invoice, err := rt.invoices.Create(r.Context(), domain.InvoiceRecord{
		CompanyID:     req.CompanyID,
		InvoiceNumber: req.InvoiceNumber,
		RecipientName: req.RecipientName,
		AccessKey:     req.AccessKey,
		IssueDate:     req.IssueDate,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (rt *Router) updateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	invoice, err := rt.invoices.UpdateStatus(r.Context(), id, domain.InvoiceStatus(req.Status))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordStatusChange(serviceName, string(invoice.Status))
	}
	if claims, ok := claimsFromContext(r.Context()); ok {
		rt.logger.Info("invoice_status_changed",
			"request_id", requestIDFromContext(r.Context()),
			"invoice_id", invoice.ID,
			"status", invoice.Status,
			"user_id", claims.UserID,
		)
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (rt *Router) exportInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInvoiceFilter(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	filter.Limit = exportPageSize
	filter.Offset = 0

	var all []domain.InvoiceRecord
	for {
		page, err := rt.invoices.List(r.Context(), filter)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
		filter.Offset += exportPageSize
	}

	var buf bytes.Buffer
	if err := xlsx.WriteInvoices(&buf, all); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordExport(serviceName, len(all))
	}

	filename := fmt.Sprintf("notas_fiscais_%s.xlsx", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", xlsx.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.invoices.Dashboard(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseInvoiceFilter(r *http.Request) (domain.InvoiceFilter, error) {
	q := r.URL.Query()
	filter := domain.InvoiceFilter{Status: domain.InvoiceStatus(q.Get("status"))}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		return domain.InvoiceFilter{}, domain.WrapError(domain.ErrInvalidInput, "parse limit", err)
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		return domain.InvoiceFilter{}, domain.WrapError(domain.ErrInvalidInput, "parse offset", err)
	}
	return filter, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse invoice id", fmt.Errorf("invalid id %q", r.PathValue("id")))
	}
	return id, nil
}
