package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type InvoiceStatus string

const (
	InvoiceStatusPendingSignature InvoiceStatus = "pending_signature"
	InvoiceStatusSigned           InvoiceStatus = "signed"
	InvoiceStatusRejected         InvoiceStatus = "rejected"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPendingSignature, InvoiceStatusSigned, InvoiceStatusRejected:
		return true
	default:
		return false
	}
}

// InvoiceRecord is one row of the invoices table. Records created by the folder
// watcher carry the path the XML had when it was ingested.
type InvoiceRecord struct {
	ID            int64         `json:"id"`
	CompanyID     int64         `json:"company_id"`
	InvoiceNumber string        `json:"invoice_number"`
	RecipientName string        `json:"recipient_name"`
	AccessKey     string        `json:"access_key"`
	IssueDate     string        `json:"issue_date"`
	SourcePath    string        `json:"source_path"`
	Checksum      string        `json:"checksum,omitempty"`
	Status        InvoiceStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// InvoiceFields are the values pulled out of a single NF-e document.
type InvoiceFields struct {
	InvoiceNumber string
	RecipientName string
	AccessKey     string
	IssueDate     string
	Checksum      string
}

type InvoiceFilter struct {
	Status InvoiceStatus
	Limit  int
	Offset int
}

type DashboardStats struct {
	PendingSignature int64 `json:"pending_signature"`
	Signed           int64 `json:"signed"`
	IngestedToday    int64 `json:"ingested_today"`
	Total            int64 `json:"total"`
}

// IsXMLFile reports whether name ends in .xml, ignoring case.
func IsXMLFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".xml")
}
