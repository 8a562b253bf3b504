// Package sanitize redacts sensitive banking data before it is sent to the
// reasoning service. Internal matching never sees sanitized values.
package sanitize

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
)

const (
	accountMask = "****"
	// BalanceMask replaces balance figures found in free text.
	BalanceMask = "[MASK_BALANCE]"
)

var (
	accountPattern = regexp.MustCompile(`\b\d{13,19}\b`)
	// longest keywords first so "账户余额" wins over "余额"
	balancePattern = regexp.MustCompile(`(?i)((?:账户余额|账号余额|余额|\b(?:account balance|balance|bal)\b)[:：\s]*)(\d+[\d,\s.]*\d|\d)`)
)

// MaskAccount keeps the first and last four characters of an account number.
func MaskAccount(account string) string {
	s := strings.TrimSpace(account)
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return accountMask
	}
	return s[:4] + accountMask + s[len(s)-4:]
}

// MaskRemark masks account-like digit runs and balance mentions in free text.
func MaskRemark(remark string) string {
	if remark == "" {
		return ""
	}
	out := accountPattern.ReplaceAllStringFunc(remark, func(v string) string {
		return v[:4] + accountMask + v[len(v)-4:]
	})
	return balancePattern.ReplaceAllString(out, "${1}"+BalanceMask)
}

// BankTransaction is the outbound view of a bank row: no transaction number, no balance.
type BankTransaction struct {
	ID              uuid.UUID       `json:"id"`
	TransactionDate string          `json:"transactionDate,omitempty"`
	PayerName       string          `json:"payerName"`
	PayerAccount    string          `json:"payerAccount,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Remark          string          `json:"remark,omitempty"`
}

type Invoice struct {
	ID              uuid.UUID       `json:"id"`
	InvoiceNumber   string          `json:"invoiceNumber,omitempty"`
	SellerName      string          `json:"sellerName"`
	BuyerName       string          `json:"buyerName,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	InvoiceDate     string          `json:"invoiceDate,omitempty"`
	ItemDescription string          `json:"itemDescription,omitempty"`
	Remark          string          `json:"remark,omitempty"`
}

func Transaction(tx *models.BankTransaction) BankTransaction {
	return BankTransaction{
		ID:              tx.ID,
		TransactionDate: formatDate(tx.TransactionDate),
		PayerName:       tx.PayerName,
		PayerAccount:    MaskAccount(tx.PayerAccount),
		Amount:          tx.Amount,
		Remark:          MaskRemark(tx.Remark),
	}
}

func InvoiceView(inv *models.Invoice) Invoice {
	return Invoice{
		ID:              inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		SellerName:      inv.SellerName,
		BuyerName:       inv.BuyerName,
		Amount:          inv.Amount,
		TaxAmount:       inv.TaxAmount,
		TotalAmount:     inv.PayableAmount(),
		InvoiceDate:     formatDate(inv.InvoiceDate),
		ItemDescription: MaskRemark(inv.ItemDescription),
		Remark:          MaskRemark(inv.Remark),
	}
}

// sensitiveKeys are dropped from loosely typed payloads; accountKeys are masked.
var (
	sensitiveKeys = map[string]bool{
		"transactionNo": true, "transaction_no": true,
		"balance": true, "accountBalance": true, "account_balance": true,
		"curBalance": true, "cur_balance": true,
	}
	accountKeys = map[string]bool{"payerAccount": true, "payer_account": true}
	remarkKeys  = map[string]bool{"remark": true, "item_description": true, "itemDescription": true}
)

// Payload sanitizes a decoded JSON object, recursing into nested objects.
// The input map is not modified.
func Payload(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if sensitiveKeys[k] {
			continue
		}
		switch val := v.(type) {
		case string:
			switch {
			case accountKeys[k]:
				out[k] = MaskAccount(val)
			case remarkKeys[k]:
				out[k] = MaskRemark(val)
			default:
				out[k] = val
			}
		case map[string]interface{}:
			out[k] = Payload(val)
		default:
			out[k] = v
		}
	}
	return out
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
