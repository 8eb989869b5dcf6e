package facts

import (
	_ "embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed fact.schema.json
var factSchemaJSON string

var Types = []string{
	"OBJECTIVE", "PROBLEM", "KPI", "WORKFLOW", "WORKFLOW_STEP", "PAIN_POINT",
	"SYSTEM", "INTEGRATION_TARGET", "DATA_SOURCE", "DATA_QUALITY", "DATA_VOLUME",
	"ACCESS_CONSTRAINT", "TIMELINE", "MILESTONE", "PHASE", "RESOURCE",
	"COST_CAPEX", "COST_OPEX", "PRICING_MODEL", "ROI_ASSUMPTION", "RISK",
	"MITIGATION", "DECISION", "ACTION_ITEM", "OPEN_QUESTION", "OTHER",
}

type itemValidator struct {
	schema *gojsonschema.Schema
}

func newItemValidator() (*itemValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(factSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("load fact schema: %w", err)
	}
	return &itemValidator{schema: schema}, nil
}

// validate returns the schema violations of one decoded item.
func (v *itemValidator) validate(item any) ([]string, error) {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(item))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}
