package ingestion

import "strings"

// GenericDocument is used when nothing identifies the document
const GenericDocument = "generic_document"

type typeKeywords struct {
	documentType string
	keywords     []string
	exclude      []string
}

// Checked in order; the first match wins.
var documentKeywords = []typeKeywords{
	{documentType: "mortgage_application", keywords: []string{"mortgage", "loan", "application"}},
	{documentType: "t4_form", keywords: []string{"t4", "tax", "income", "remuneration"}},
	{documentType: "employment_letter", keywords: []string{"employment", "job", "work", "salary", "letter"}},
	{documentType: "bank_statement", keywords: []string{"bank", "statement", "account"}, exclude: []string{"remuneration"}},
	{documentType: "pay_stub", keywords: []string{"pay", "stub", "payslip", "wage"}},
	{documentType: "credit_report", keywords: []string{"credit", "report", "score"}},
	{documentType: "property_assessment", keywords: []string{"property", "assessment", "valuation"}},
	{documentType: "insurance_document", keywords: []string{"insurance", "policy", "coverage"}},
	{documentType: "drivers_license", keywords: []string{"drivers", "license", "licence"}},
	{documentType: "passport", keywords: []string{"passport"}},
	{documentType: "birth_certificate", keywords: []string{"birth", "certificate"}},
	{documentType: "marriage_certificate", keywords: []string{"marriage", "wedding"}},
	{documentType: "utility_bill", keywords: []string{"utility", "bill", "electric", "gas", "water", "phone"}},
	{documentType: "rental_agreement", keywords: []string{"rental", "lease", "agreement", "rent"}},
	{documentType: "immigration_document", keywords: []string{"immigration", "visa", "green", "card", "prcard"}},
	{documentType: "financial_statement", keywords: []string{"financial", "balance"}},
	{documentType: "investment_statement", keywords: []string{"investment", "portfolio", "mutual", "fund"}},
}

// ClassifyText maps free text, such as a classifier answer or a filename, to a document type.
func ClassifyText(text string) string {
	lower := strings.ToLower(text)
	for _, tk := range documentKeywords {
		if containsAny(lower, tk.exclude) {
			continue
		}
		if containsAny(lower, tk.keywords) {
			return tk.documentType
		}
	}
	return GenericDocument
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
