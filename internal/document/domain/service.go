package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/meterbill/internal/billingcycle/domain"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
)

type CreateDocumentRequest struct {
	Kind                Kind
	CustomerID          snowflake.ID
	Currency            string
	TransactionCurrency *string
	TransactionXERate   *decimal.Decimal
	SalesTaxPercent     *decimal.Decimal
}

// GeneratedEntry pairs a persisted entry with its origin.
type GeneratedEntry struct {
	Entry DocumentEntry
	Info  EntryInfo
}

type DocumentTotals struct {
	Document       BillingDocument
	Entries        []ValuedEntry
	TotalBeforeTax decimal.Decimal
	TaxValue       decimal.Decimal
	Total          decimal.Decimal
}

type Service interface {
	Create(ctx context.Context, req CreateDocumentRequest) (BillingDocument, error)
	// AddEntry normalizes entry and attaches it to a draft document.
	AddEntry(ctx context.Context, documentID snowflake.ID, entry DocumentEntry) (DocumentEntry, error)
	// GenerateEntries bills the plan and the metered features of a
	// subscription for bucket onto a draft document.
	GenerateEntries(ctx context.Context, documentID, subscriptionID snowflake.ID, bucket billingcycledomain.Bucket) ([]GeneratedEntry, error)
	// IssueProforma issues a proforma and copies its entries onto a new
	// invoice, which is returned.
	IssueProforma(ctx context.Context, proformaID snowflake.ID, issueDate *time.Time) (BillingDocument, error)
	Totals(ctx context.Context, documentID snowflake.ID) (DocumentTotals, error)
}

var (
	ErrDocumentNotFound    = ierr.Kind(ierr.ErrNotFound, "document_not_found")
	ErrDocumentNotDraft    = ierr.Kind(ierr.ErrStateConflict, "document_not_draft")
	ErrNotProforma         = ierr.Kind(ierr.ErrValidation, "document_not_proforma")
	ErrInvalidEntry        = ierr.Kind(ierr.ErrValidation, "invalid_entry")
	ErrInvalidDocument     = ierr.Kind(ierr.ErrValidation, "invalid_document")
	ErrTransactionCurrency = ierr.Kind(ierr.ErrConfiguration, "Transaction currency and exchange rate are required.")
	ErrBucketNotBillable   = ierr.Kind(ierr.ErrValidation, "Bucket has not ended yet.")
	ErrBucketAlreadyBilled = ierr.Kind(ierr.ErrConflict, "Bucket has already been billed.")
)
