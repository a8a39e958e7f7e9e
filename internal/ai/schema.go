package ai

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
)

// classificationSchema validates the model's classification reply before any
// value reaches the document row: the type must come from the closed set and
// the confidence must be a real probability.
const classificationSchemaJSON = `{
	"type": "object",
	"required": ["document_type", "confidence"],
	"properties": {
		"document_type": {
			"type": "string",
			"enum": ["invoice", "contract", "resume", "receipt", "form", "letter", "report", "other", "unknown"]
		},
		"confidence": {
			"type": "number",
			"minimum": 0,
			"maximum": 1
		},
		"reasoning": {"type": "string"}
	}
}`

const fieldsSchemaJSON = `{
	"type": "object"
}`

var (
	classificationSchema = jsonschema.MustCompileString("classification.json", classificationSchemaJSON)
	fieldsSchema         = jsonschema.MustCompileString("fields.json", fieldsSchemaJSON)
)

// fieldNames lists what the structuring prompt asks for per document type,
// following the original product's extraction templates.
var fieldNames = map[models.DocumentType][]string{
	models.TypeInvoice: {
		"invoice_number", "date", "due_date", "vendor_name", "vendor_address",
		"customer_name", "customer_address", "subtotal", "tax", "total",
		"currency", "line_items",
	},
	models.TypeContract: {
		"contract_type", "parties", "effective_date", "expiration_date",
		"contract_value", "key_terms", "termination_clause",
	},
	models.TypeResume: {
		"name", "email", "phone", "location", "summary", "skills",
		"work_experience", "education", "certifications",
	},
	models.TypeReceipt: {
		"store_name", "date", "time", "items", "subtotal", "tax", "total",
		"payment_method",
	},
}

var genericFieldNames = []string{
	"key_information", "important_dates", "amounts", "parties_involved",
}

func fieldsFor(t models.DocumentType) string {
	names, ok := fieldNames[t]
	if !ok {
		names = genericFieldNames
	}
	return strings.Join(names, ", ")
}
