// Package domain defines billing documents, their entries and the values
// derived from them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindInvoice  Kind = "invoice"
	KindProforma Kind = "proforma"
)

type State string

const (
	StateDraft    State = "draft"
	StateIssued   State = "issued"
	StatePaid     State = "paid"
	StateCanceled State = "canceled"
)

type OriginType string

const (
	OriginPlan           OriginType = "plan"
	OriginMeteredFeature OriginType = "metered_feature"
)

// BillingDocument is an invoice or a proforma. TransactionXERate converts
// Currency into TransactionCurrency.
type BillingDocument struct {
	ID                  snowflake.ID     `gorm:"primaryKey"`
	Kind                Kind             `gorm:"type:text;not null"`
	State               State            `gorm:"type:text;not null"`
	CustomerID          snowflake.ID     `gorm:"not null;index"`
	Currency            string           `gorm:"type:text;not null"`
	TransactionCurrency *string          `gorm:"type:text"`
	TransactionXERate   *decimal.Decimal `gorm:"type:numeric(19,4)"`
	SalesTaxPercent     *decimal.Decimal `gorm:"type:numeric(5,2)"`
	RelatedDocumentID   *snowflake.ID
	IssueDate           *time.Time `gorm:"type:date"`
	CreatedAt           time.Time  `gorm:"not null"`
	UpdatedAt           time.Time  `gorm:"not null"`
}

// TableName sets the database table name.
func (BillingDocument) TableName() string { return "billing_documents" }

// Ref returns the typed reference entries use to point at d.
func (d BillingDocument) Ref() DocumentRef {
	if d.Kind == KindProforma {
		return ProformaRef{ID: d.ID}
	}
	return InvoiceRef{ID: d.ID}
}

// DocumentRef points an entry at exactly one document: an invoice or a
// proforma.
type DocumentRef interface {
	DocumentID() snowflake.ID
	DocumentKind() Kind
	isDocumentRef()
}

type InvoiceRef struct{ ID snowflake.ID }

func (r InvoiceRef) DocumentID() snowflake.ID { return r.ID }
func (InvoiceRef) DocumentKind() Kind         { return KindInvoice }
func (InvoiceRef) isDocumentRef()             {}

type ProformaRef struct{ ID snowflake.ID }

func (r ProformaRef) DocumentID() snowflake.ID { return r.ID }
func (ProformaRef) DocumentKind() Kind         { return KindProforma }
func (ProformaRef) isDocumentRef()             {}

// DocumentEntry is one line of a billing document. Monetary totals are
// derived by the valuator and never stored.
type DocumentEntry struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	DocumentID     *snowflake.ID   `gorm:"index"`
	DocumentKind   *Kind           `gorm:"type:text"`
	Description    string          `gorm:"type:text;not null"`
	Unit           *string         `gorm:"type:text"`
	Quantity       decimal.Decimal `gorm:"type:numeric(19,4);not null"`
	UnitPrice      decimal.Decimal `gorm:"type:numeric(19,4);not null"`
	ProductCode    *string         `gorm:"type:text"`
	StartDate      *time.Time      `gorm:"type:date"`
	EndDate        *time.Time      `gorm:"type:date"`
	Prorated       bool            `gorm:"not null;default:false"`
	SubscriptionID *snowflake.ID
	OriginType     *OriginType `gorm:"type:text"`
	CreatedAt      time.Time   `gorm:"not null"`
}

// TableName sets the database table name.
func (DocumentEntry) TableName() string { return "document_entries" }

// Document returns the document the entry belongs to, or nil when detached.
func (e DocumentEntry) Document() DocumentRef {
	if e.DocumentID == nil || e.DocumentKind == nil {
		return nil
	}
	if *e.DocumentKind == KindProforma {
		return ProformaRef{ID: *e.DocumentID}
	}
	return InvoiceRef{ID: *e.DocumentID}
}

// Attach points the entry at ref. A nil ref detaches it.
func (e *DocumentEntry) Attach(ref DocumentRef) {
	if ref == nil {
		e.DocumentID = nil
		e.DocumentKind = nil
		return
	}
	id, kind := ref.DocumentID(), ref.DocumentKind()
	e.DocumentID = &id
	e.DocumentKind = &kind
}

// Clone returns a detached copy of the billable fields of e.
func (e DocumentEntry) Clone() DocumentEntry {
	return DocumentEntry{
		Description: e.Description,
		Unit:        cloneString(e.Unit),
		Quantity:    e.Quantity,
		UnitPrice:   e.UnitPrice,
		ProductCode: cloneString(e.ProductCode),
		StartDate:   cloneTime(e.StartDate),
		EndDate:     cloneTime(e.EndDate),
		Prorated:    e.Prorated,
	}
}

// EntryInfo describes where a generated entry came from.
type EntryInfo struct {
	StartDate      time.Time
	EndDate        time.Time
	OriginType     OriginType
	SubscriptionID snowflake.ID
	ProductCode    string
	Amount         decimal.Decimal
}

// ValuedEntry is an entry with its derived monetary values. The
// transaction currency values are nil when they cannot be resolved.
type ValuedEntry struct {
	Entry          DocumentEntry
	TotalBeforeTax decimal.Decimal
	TaxValue       decimal.Decimal
	Total          decimal.Decimal

	UnitPriceInTransactionCurrency      *decimal.Decimal
	TotalBeforeTaxInTransactionCurrency *decimal.Decimal
	TaxValueInTransactionCurrency       *decimal.Decimal
	TotalInTransactionCurrency          *decimal.Decimal
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
