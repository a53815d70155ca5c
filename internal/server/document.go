package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterbill/internal/clock"
	documentdomain "github.com/smallbiznis/meterbill/internal/document/domain"
	"github.com/smallbiznis/meterbill/internal/money"
)

type documentEntryResponse struct {
	Description    string  `json:"description"`
	Unit           *string `json:"unit"`
	Quantity       string  `json:"quantity"`
	UnitPrice      string  `json:"unit_price"`
	ProductCode    *string `json:"product_code"`
	StartDate      *string `json:"start_date"`
	EndDate        *string `json:"end_date"`
	Prorated       bool    `json:"prorated"`
	TotalBeforeTax string  `json:"total_before_tax"`
	TaxValue       string  `json:"tax_value"`
	Total          string  `json:"total"`

	UnitPriceInTransactionCurrency      *string `json:"unit_price_in_transaction_currency"`
	TotalBeforeTaxInTransactionCurrency *string `json:"total_before_tax_in_transaction_currency"`
	TaxValueInTransactionCurrency       *string `json:"tax_value_in_transaction_currency"`
	TotalInTransactionCurrency          *string `json:"total_in_transaction_currency"`
}

type documentEntriesResponse struct {
	Document       string                  `json:"document"`
	Kind           documentdomain.Kind     `json:"kind"`
	Currency       string                  `json:"currency"`
	Entries        []documentEntryResponse `json:"entries"`
	TotalBeforeTax string                  `json:"total_before_tax"`
	TaxValue       string                  `json:"tax_value"`
	Total          string                  `json:"total"`
}

func (s *Server) ListDocumentEntries(c *gin.Context) {
	id, err := pathID(c, "document_id", documentdomain.ErrDocumentNotFound)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	totals, err := s.documentSvc.Totals(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	places := s.billingConfig.Get().UnitPriceDecimals
	resp := documentEntriesResponse{
		Document:       totals.Document.ID.String(),
		Kind:           totals.Document.Kind,
		Currency:       totals.Document.Currency,
		Entries:        make([]documentEntryResponse, 0, len(totals.Entries)),
		TotalBeforeTax: formatAmount(totals.TotalBeforeTax),
		TaxValue:       formatAmount(totals.TaxValue),
		Total:          formatAmount(totals.Total),
	}
	for _, valued := range totals.Entries {
		entry := valued.Entry
		resp.Entries = append(resp.Entries, documentEntryResponse{
			Description:    entry.Description,
			Unit:           entry.Unit,
			Quantity:       money.Format(entry.Quantity, money.QuantityPlaces),
			UnitPrice:      money.Format(entry.UnitPrice, places),
			ProductCode:    entry.ProductCode,
			StartDate:      formatDate(entry.StartDate),
			EndDate:        formatDate(entry.EndDate),
			Prorated:       entry.Prorated,
			TotalBeforeTax: formatAmount(valued.TotalBeforeTax),
			TaxValue:       formatAmount(valued.TaxValue),
			Total:          formatAmount(valued.Total),

			UnitPriceInTransactionCurrency:      formatOptional(valued.UnitPriceInTransactionCurrency, places),
			TotalBeforeTaxInTransactionCurrency: formatOptional(valued.TotalBeforeTaxInTransactionCurrency, money.AmountPlaces),
			TaxValueInTransactionCurrency:       formatOptional(valued.TaxValueInTransactionCurrency, money.AmountPlaces),
			TotalInTransactionCurrency:          formatOptional(valued.TotalInTransactionCurrency, money.AmountPlaces),
		})
	}

	c.JSON(http.StatusOK, resp)
}

func formatAmount(d decimal.Decimal) string {
	return money.Format(d, money.AmountPlaces)
}

func formatOptional(d *decimal.Decimal, places int32) *string {
	if d == nil {
		return nil
	}
	s := money.Format(*d, places)
	return &s
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(clock.DateLayout)
	return &s
}
