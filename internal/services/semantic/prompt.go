package semantic

import (
	"encoding/json"

	"github.com/pkg/errors"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/services/sanitize"
)

const systemPrompt = `You are a meticulous financial reconciliation expert. ` +
	`You compare bank payments with invoices and answer with a single JSON object only.`

const itemInstructions = `Decide whether the bank transaction pays one of the candidate invoices.
Consider that:
1. Amounts may differ slightly because of bank handling fees or tax rounding.
2. The payer may be an individual paying on behalf of the invoiced company (a proxy payment), often hinted at in the remark.
3. Invoices are usually dated on or before the payment, sometimes a few days after.

Reply with JSON of exactly this shape:
{"matchFound": bool, "candidateId": "<id of the chosen candidate or empty>", "confidence": <0..1>, "reason": "<short reason>", "isHandlingFee": bool, "isProxy": bool, "proxyMapping": {"personName": "<payer>", "companyName": "<company paid for>"} or null}`

const globalInstructions = `Below are all bank transactions and invoices that are still unmatched.
Propose every pairing you are confident about. Each transaction and each invoice may appear in at most one pairing.

Reply with JSON of exactly this shape:
{"matches": [{"bankId": "<id>", "invoiceId": "<id>", "confidence": <0..1>, "reason": "<short reason>", "isHandlingFee": bool, "isProxy": bool, "proxyMapping": {"personName": "...", "companyName": "..."} or null}]}
Reply {"matches": []} when nothing matches.`

type itemPrompt struct {
	Instructions string                   `json:"instructions"`
	Transaction  sanitize.BankTransaction `json:"transaction"`
	Candidates   []sanitize.Invoice       `json:"candidates"`
}

type globalPrompt struct {
	Instructions string                     `json:"instructions"`
	Transactions []sanitize.BankTransaction `json:"transactions"`
	Invoices     []sanitize.Invoice         `json:"invoices"`
}

// buildItemPrompt renders one transaction and its candidates. Only sanitized
// views leave the process.
func buildItemPrompt(bank *models.BankTransaction, candidates []*models.Invoice) (string, error) {
	p := itemPrompt{
		Instructions: itemInstructions,
		Transaction:  sanitize.Transaction(bank),
		Candidates:   make([]sanitize.Invoice, 0, len(candidates)),
	}
	for _, inv := range candidates {
		p.Candidates = append(p.Candidates, sanitize.InvoiceView(inv))
	}
	return render(p)
}

func buildGlobalPrompt(banks []models.BankTransaction, invoices []models.Invoice) (string, error) {
	p := globalPrompt{
		Instructions: globalInstructions,
		Transactions: make([]sanitize.BankTransaction, 0, len(banks)),
		Invoices:     make([]sanitize.Invoice, 0, len(invoices)),
	}
	for i := range banks {
		p.Transactions = append(p.Transactions, sanitize.Transaction(&banks[i]))
	}
	for i := range invoices {
		p.Invoices = append(p.Invoices, sanitize.InvoiceView(&invoices[i]))
	}
	return render(p)
}

func render(v interface{}) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "render prompt")
	}
	return string(b), nil
}
