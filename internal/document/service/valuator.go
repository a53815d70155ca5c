package service

import (
	"strings"

	"github.com/shopspring/decimal"
	documentdomain "github.com/smallbiznis/meterbill/internal/document/domain"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	"github.com/smallbiznis/meterbill/internal/money"
)

// Valuator derives the monetary values of document entries. doc is the
// document the entry is attached to; it is ignored for detached entries.
type Valuator struct {
	unitPriceDecimals int32
}

func NewValuator(unitPriceDecimals int32) Valuator {
	if unitPriceDecimals <= 0 || unitPriceDecimals > money.DefaultUnitPricePlaces {
		unitPriceDecimals = money.DefaultUnitPricePlaces
	}
	return Valuator{unitPriceDecimals: unitPriceDecimals}
}

func (v Valuator) UnitPriceDecimals() int32 { return v.unitPriceDecimals }

// Normalize quantizes quantity and unit price the way they are stored.
func (v Valuator) Normalize(entry documentdomain.DocumentEntry) (documentdomain.DocumentEntry, error) {
	if entry.Quantity.IsNegative() {
		return documentdomain.DocumentEntry{}, ierr.WithError(documentdomain.ErrInvalidEntry).
			WithHint("Ensure this value is greater than or equal to 0.").
			Mark(ierr.ErrValidation)
	}
	if strings.TrimSpace(entry.Description) == "" {
		return documentdomain.DocumentEntry{}, ierr.WithError(documentdomain.ErrInvalidEntry).
			WithHint("Entry description may not be blank.").
			Mark(ierr.ErrValidation)
	}
	entry.Quantity = money.Quantity(entry.Quantity)
	entry.UnitPrice = money.UnitPrice(entry.UnitPrice, v.unitPriceDecimals)
	return entry, nil
}

func (v Valuator) TotalBeforeTax(entry documentdomain.DocumentEntry) decimal.Decimal {
	return money.Extend(entry.Quantity, entry.UnitPrice)
}

func (v Valuator) TaxValue(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) decimal.Decimal {
	return money.Percent(v.TotalBeforeTax(entry), salesTaxPercent(entry, doc))
}

func (v Valuator) Total(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) decimal.Decimal {
	return v.TotalBeforeTax(entry).Add(v.TaxValue(entry, doc))
}

// TransactionXERate is 1.00 when the document currencies match and the
// stored rate otherwise.
func (v Valuator) TransactionXERate(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) (decimal.Decimal, error) {
	if !attached(entry, doc) {
		return decimal.Zero, ierr.WithError(documentdomain.ErrTransactionCurrency).
			WithHint("Entry is not attached to a document.").
			Mark(ierr.ErrConfiguration)
	}
	if doc.TransactionCurrency == nil || strings.TrimSpace(*doc.TransactionCurrency) == "" {
		return decimal.Zero, documentdomain.ErrTransactionCurrency
	}
	if strings.EqualFold(doc.Currency, *doc.TransactionCurrency) {
		return money.One, nil
	}
	if doc.TransactionXERate == nil {
		return decimal.Zero, documentdomain.ErrTransactionCurrency
	}
	return *doc.TransactionXERate, nil
}

func (v Valuator) UnitPriceInTransactionCurrency(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) (decimal.Decimal, error) {
	rate, err := v.TransactionXERate(entry, doc)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Convert(entry.UnitPrice, rate, v.unitPriceDecimals), nil
}

func (v Valuator) TotalBeforeTaxInTransactionCurrency(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) (decimal.Decimal, error) {
	unitPrice, err := v.UnitPriceInTransactionCurrency(entry, doc)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Extend(entry.Quantity, unitPrice), nil
}

func (v Valuator) TaxValueInTransactionCurrency(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) (decimal.Decimal, error) {
	base, err := v.TotalBeforeTaxInTransactionCurrency(entry, doc)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Percent(base, salesTaxPercent(entry, doc)), nil
}

func (v Valuator) TotalInTransactionCurrency(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) (decimal.Decimal, error) {
	base, err := v.TotalBeforeTaxInTransactionCurrency(entry, doc)
	if err != nil {
		return decimal.Zero, err
	}
	tax, err := v.TaxValueInTransactionCurrency(entry, doc)
	if err != nil {
		return decimal.Zero, err
	}
	return base.Add(tax), nil
}

// Value computes every derived value of entry. Transaction currency values
// are left nil when they cannot be resolved.
func (v Valuator) Value(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) documentdomain.ValuedEntry {
	valued := documentdomain.ValuedEntry{
		Entry:          entry,
		TotalBeforeTax: v.TotalBeforeTax(entry),
		TaxValue:       v.TaxValue(entry, doc),
		Total:          v.Total(entry, doc),
	}

	unitPrice, err := v.UnitPriceInTransactionCurrency(entry, doc)
	if err != nil {
		return valued
	}
	before, _ := v.TotalBeforeTaxInTransactionCurrency(entry, doc)
	tax, _ := v.TaxValueInTransactionCurrency(entry, doc)
	total := before.Add(tax)

	valued.UnitPriceInTransactionCurrency = &unitPrice
	valued.TotalBeforeTaxInTransactionCurrency = &before
	valued.TaxValueInTransactionCurrency = &tax
	valued.TotalInTransactionCurrency = &total
	return valued
}

func attached(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) bool {
	ref := entry.Document()
	return ref != nil && doc != nil && ref.DocumentID() == doc.ID
}

func salesTaxPercent(entry documentdomain.DocumentEntry, doc *documentdomain.BillingDocument) *decimal.Decimal {
	if !attached(entry, doc) {
		return nil
	}
	return doc.SalesTaxPercent
}
