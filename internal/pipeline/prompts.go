package pipeline

import (
	"strings"
)

// Field is one value the extraction engine is asked for.
type Field struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Fields      []Field // for arrays of objects
}

// Schema is the target field set for an extraction.
type Schema struct {
	Name   string
	Fields []Field
}

// StatementSchema is the fixed field schema for bank statements.
var StatementSchema = Schema{
	Name: "bank_statement",
	Fields: []Field{
		{Name: "bank_name", Type: "string", Description: "name of the bank as printed on the statement", Required: true},
		{Name: "account_number", Type: "string", Description: "account number exactly as printed, keep leading zeros", Required: true},
		{Name: "currency", Type: "string", Description: "account currency code or symbol as printed", Required: true},
		{Name: "period_text", Type: "string", Description: "statement period as printed, e.g. \"01/01/2024 - 31/03/2024\"", Required: true},
		{Name: "total_pages", Type: "integer", Description: "number of pages in the document"},
		{
			Name:        "balances",
			Type:        "array",
			Description: "one entry per calendar month covered by the statement, in date order",
			Required:    true,
			Fields: []Field{
				{Name: "month", Type: "integer", Description: "1-12", Required: true},
				{Name: "year", Type: "integer", Description: "four digit year", Required: true},
				{Name: "opening_balance", Type: "number or null", Description: "balance at the start of the month"},
				{Name: "closing_balance", Type: "number or null", Description: "balance at the end of the month"},
				{Name: "statement_page", Type: "integer or null", Description: "page where the closing balance appears"},
				{Name: "closing_date", Type: "string or null", Description: "date of the closing balance, ISO YYYY-MM-DD"},
			},
		},
	},
}

// buildExtractionPrompt renders the instructions for schema.
func buildExtractionPrompt(schema Schema) string {
	var b strings.Builder

	b.WriteString("You are a bank statement reader.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Read the attached bank statement.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n")
	b.WriteString("- Output a single JSON object.\n\n")
	b.WriteString("The object must have these fields:\n")
	writeFields(&b, schema.Fields, "")

	b.WriteString("\nRules:\n")
	b.WriteString("- Amounts are plain numbers without thousands separators or currency symbols.\n")
	b.WriteString("- Overdrawn balances are negative.\n")
	b.WriteString("- If the statement covers several months, give a balances entry for every month.\n")
	b.WriteString("- If a value cannot be determined, use null.\n\n")
	b.WriteString("Return ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"{\" and end with \"}\".\n")

	return b.String()
}

func writeFields(b *strings.Builder, fields []Field, indent string) {
	for _, f := range fields {
		b.WriteString(indent + "- \"" + f.Name + "\": " + f.Type)
		if f.Description != "" {
			b.WriteString(" (" + f.Description + ")")
		}
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString("\n")
		if len(f.Fields) > 0 {
			b.WriteString(indent + "  each element is an object with:\n")
			writeFields(b, f.Fields, indent+"    ")
		}
	}
}
