// Package nfe reads the fields the ingestion pipeline stores from Brazilian
// NF-e XML documents (namespace http://www.portalfiscal.inf.br/nfe).
package nfe

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html/charset"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/checksum"
)

const Namespace = "http://www.portalfiscal.inf.br/nfe"

// issueDateLength keeps YYYY-MM-DD out of the dhEmi timestamp.
const issueDateLength = 10

type field struct {
	name string
	expr *xpath.Expr
}

type Extractor struct {
	invoiceNumber field
	recipientName field
	accessKey     field
	issuedAt      field
}

func NewExtractor() (*Extractor, error) {
	compile := func(name, expr string) (field, error) {
		compiled, err := xpath.CompileWithNS(expr, map[string]string{"nfe": Namespace})
		if err != nil {
			return field{}, fmt.Errorf("compile %s selector: %w", name, err)
		}
		return field{name: name, expr: compiled}, nil
	}

	var (
		e   Extractor
		err error
	)
	if e.invoiceNumber, err = compile("invoice_number", "//nfe:infNFe/nfe:ide/nfe:nNF"); err != nil {
		return nil, err
	}
	if e.recipientName, err = compile("recipient_name", "//nfe:infNFe/nfe:dest/nfe:xNome"); err != nil {
		return nil, err
	}
	if e.accessKey, err = compile("access_key", "//nfe:protNFe/nfe:infProt/nfe:chNFe"); err != nil {
		return nil, err
	}
	if e.issuedAt, err = compile("issue_date", "//nfe:infNFe/nfe:ide/nfe:dhEmi"); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Extractor) Extract(_ context.Context, path string) (domain.InvoiceFields, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.InvoiceFields{}, &domain.ParseError{Path: path, Err: fmt.Errorf("read file: %w", err)}
	}

	body := bytes.TrimPrefix(raw, utf8BOM)
	if err := checkWellFormed(body); err != nil {
		return domain.InvoiceFields{}, &domain.ParseError{Path: path, Err: err}
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return domain.InvoiceFields{}, &domain.ParseError{Path: path, Err: err}
	}

	number, err := e.lookup(doc, path, e.invoiceNumber)
	if err != nil {
		return domain.InvoiceFields{}, err
	}
	recipient, err := e.lookup(doc, path, e.recipientName)
	if err != nil {
		return domain.InvoiceFields{}, err
	}
	accessKey, err := e.lookup(doc, path, e.accessKey)
	if err != nil {
		return domain.InvoiceFields{}, err
	}
	issuedAt, err := e.lookup(doc, path, e.issuedAt)
	if err != nil {
		return domain.InvoiceFields{}, err
	}

	return domain.InvoiceFields{
		InvoiceNumber: number,
		RecipientName: recipient,
		AccessKey:     accessKey,
		IssueDate:     truncate(issuedAt, issueDateLength),
		Checksum:      checksum.Sum(raw),
	}, nil
}

func (e *Extractor) lookup(doc *xmlquery.Node, path string, f field) (string, error) {
	node := xmlquery.QuerySelector(doc, f.expr)
	if node == nil {
		return "", &domain.MissingFieldError{Path: path, Field: f.name}
	}
	text := node.InnerText()
	if strings.TrimSpace(text) == "" {
		return "", &domain.MissingFieldError{Path: path, Field: f.name}
	}
	return text, nil
}

var utf8BOM = []byte("\xef\xbb\xbf")

// checkWellFormed walks every token of raw. xmlquery stops at the end of the
// first element, so content after it would otherwise go unnoticed.
func checkWellFormed(raw []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel

	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return fmt.Errorf("junk after document element: <%s>", t.Name.Local)
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return errors.New("text outside the document element")
			}
		}
	}
	if roots == 0 {
		return errors.New("document has no root element")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
