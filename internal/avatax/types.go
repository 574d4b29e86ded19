// Package avatax is a small client for the Avalara AvaTax 1.0 REST API. It
// covers the three calls the tax engine needs: quote, commit and cancel.
package avatax

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DocTypeSalesOrder   = "SalesOrder"
	DocTypeSalesInvoice = "SalesInvoice"

	CancelCodeDocVoided = "DocVoided"

	ResultCodeSuccess = "Success"
	ResultCodeWarning = "Warning"
	ResultCodeError   = "Error"
)

var ErrMalformedAmount = errors.New("malformed_amount")

// Amount is a decimal value exactly as the provider returned it.
type Amount string

// Decimal parses the amount without going through a float.
func (a Amount) Decimal() (decimal.Decimal, error) {
	text := strings.TrimSpace(string(a))
	if text == "" {
		return decimal.Zero, ErrMalformedAmount
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, ErrMalformedAmount
	}
	return d, nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = Amount(n.String())
	return nil
}

type Address struct {
	AddressCode string `json:"AddressCode"`
	Line1       string `json:"Line1,omitempty"`
	Line2       string `json:"Line2,omitempty"`
	City        string `json:"City,omitempty"`
	Region      string `json:"Region,omitempty"`
	Country     string `json:"Country,omitempty"`
	PostalCode  string `json:"PostalCode,omitempty"`
}

type Line struct {
	No              string          `json:"LineNo"`
	ItemCode        string          `json:"ItemCode"`
	Qty             int64           `json:"Qty"`
	Amount          decimal.Decimal `json:"Amount"`
	OriginCode      string          `json:"OriginCode"`
	DestinationCode string          `json:"DestinationCode"`
	Description     string          `json:"Description,omitempty"`
	Discounted      bool            `json:"Discounted"`
}

type GetTaxRequest struct {
	CustomerCode string          `json:"CustomerCode"`
	DocDate      string          `json:"DocDate"`
	DocType      string          `json:"DocType"`
	CompanyCode  string          `json:"CompanyCode"`
	DocCode      string          `json:"DocCode"`
	Discount     decimal.Decimal `json:"Discount"`
	Commit       bool            `json:"Commit"`
	Addresses    []Address       `json:"Addresses"`
	Lines        []Line          `json:"Lines"`
}

type Message struct {
	Summary  string `json:"Summary"`
	Details  string `json:"Details,omitempty"`
	Severity string `json:"Severity,omitempty"`
	Source   string `json:"Source,omitempty"`
	RefersTo string `json:"RefersTo,omitempty"`
}

type TaxLine struct {
	No      string `json:"LineNo"`
	Tax     Amount `json:"Tax"`
	Rate    Amount `json:"Rate,omitempty"`
	Taxable Amount `json:"Taxable,omitempty"`
}

type GetTaxResult struct {
	TransactionID string    `json:"TransactionId"`
	ResultCode    string    `json:"ResultCode"`
	DocID         string    `json:"DocId"`
	DocType       string    `json:"DocType"`
	DocCode       string    `json:"DocCode"`
	DocDate       string    `json:"DocDate"`
	DocStatus     string    `json:"DocStatus,omitempty"`
	TotalAmount   Amount    `json:"TotalAmount"`
	TotalTax      Amount    `json:"TotalTax"`
	TaxLines      []TaxLine `json:"TaxLines"`
	Messages      []Message `json:"Messages,omitempty"`
}

type PostTaxRequest struct {
	DocCode     string          `json:"DocCode"`
	CompanyCode string          `json:"CompanyCode"`
	DocType     string          `json:"DocType"`
	DocDate     string          `json:"DocDate"`
	Commit      bool            `json:"Commit"`
	TotalAmount decimal.Decimal `json:"TotalAmount"`
	TotalTax    decimal.Decimal `json:"TotalTax"`
}

type PostTaxResult struct {
	TransactionID string    `json:"TransactionId"`
	ResultCode    string    `json:"ResultCode"`
	DocID         string    `json:"DocId"`
	Messages      []Message `json:"Messages,omitempty"`
}

type CancelTaxRequest struct {
	DocCode     string `json:"DocCode"`
	DocType     string `json:"DocType"`
	CancelCode  string `json:"CancelCode"`
	CompanyCode string `json:"CompanyCode"`
}

type CancelTaxResult struct {
	TransactionID string    `json:"TransactionId"`
	ResultCode    string    `json:"ResultCode"`
	DocID         string    `json:"DocId"`
	Messages      []Message `json:"Messages,omitempty"`
}

// summary joins provider messages into one line.
func summary(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Summary)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "; ")
}
