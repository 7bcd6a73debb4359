package llm

import (
	"encoding/json"
	"strings"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// ContentPlaceholder marks where the email body goes in the prompt template.
const ContentPlaceholder = "{{EMAIL_CONTENT}}"

// BuildPromptTemplate renders the extraction instructions for s. The permit rules are
// generated from the same lookup table the normalizer revalidates with.
func BuildPromptTemplate(s *schema.Schema) string {
	var b strings.Builder

	b.WriteString("You are an aviation document parser. The email below is a mission or permit request.\n")
	b.WriteString("Extract the values listed in the schema and answer with ONE JSON object only:\n")
	b.WriteString("no explanation, no code fences, no second object.\n")
	b.WriteString("Capture every row and every country. If 3 permits are requested, output 3 rows.\n")
	b.WriteString("Use null or an empty string for values the email does not state.\n\n")

	b.WriteString("### PERMIT TYPE RULE\n")
	b.WriteString("Every \"" + schema.ColPermitType + "\" cell holds exactly ONE of:\n")
	for _, p := range constants.PermitTypes() {
		b.WriteString("- \"" + string(p) + "\"")
		if syn := constants.PermitSynonyms(p); len(syn) > 0 {
			b.WriteString(" (written as: " + strings.Join(syn, ", ") + ")")
		}
		b.WriteString("\n")
	}
	b.WriteString("A permit line naming several permits or countries becomes one row per country and permit,\n")
	b.WriteString("copying Sector and Flight No. A bare FIR mention is an Overflight Permit.\n")
	b.WriteString("Never output labels outside this list, such as \"FIR Overflight\" or \"Airspace Permit\".\n\n")

	b.WriteString("### FIELDS\n")
	for _, f := range s.ScalarFields {
		b.WriteString("- \"" + f + "\"")
		if h := s.FieldHints[f]; h != "" {
			b.WriteString(": " + h)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n### TABLES\n")
	for _, t := range s.Tables {
		b.WriteString("\"" + t.Name + "\" columns:\n")
		for _, c := range t.Columns {
			b.WriteString("- \"" + c + "\"")
			if h := t.Hint[c]; h != "" {
				b.WriteString(": " + h)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n### OUTPUT SHAPE\n")
	b.WriteString(exampleShape(s))
	b.WriteString("\n\n-------------------- EMAIL CONTENT START --------------------\n")
	b.WriteString(ContentPlaceholder)
	b.WriteString("\n-------------------- EMAIL CONTENT END --------------------\n")
	return b.String()
}

// exampleShape is the flat document shape with placeholder values, built from the schema.
func exampleShape(s *schema.Schema) string {
	doc := s.Empty()
	for _, f := range s.ScalarFields {
		doc.Fields[f] = "<" + f + ">"
	}
	for _, t := range s.Tables {
		row := schema.Row{}
		for _, c := range t.Columns {
			row[c] = "<" + c + ">"
		}
		doc.Tables[t.Name].Rows = []schema.Row{row}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// RenderPrompt substitutes the trimmed body into template.
func RenderPrompt(template, body string) string {
	return strings.Replace(template, ContentPlaceholder, strings.TrimSpace(body), 1)
}
