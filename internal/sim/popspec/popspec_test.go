package popspec

import (
	"strings"
	"testing"
)

func TestParseValidDocument(t *testing.T) {
	raw := []byte(`{
		"agents": [
			{"type": "TUMOR", "x": 100, "y": 120, "phenotype": "PROLIFERATIVE"},
			{"type": "T_CELL", "x": 40, "y": 40}
		],
		"field_uniform": {"IFNg": 2.5}
	}`)
	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Agents) != 2 {
		t.Fatalf("agents=%d", len(doc.Agents))
	}
	if doc.Agents[0].Phenotype != "PROLIFERATIVE" {
		t.Fatalf("phenotype=%q", doc.Agents[0].Phenotype)
	}
	if doc.FieldUniform["IFNg"] != 2.5 {
		t.Fatalf("field_uniform=%v", doc.FieldUniform)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"agents": [{"type": "NK_CELL", "x": 1, "y": 1}]}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("unknown type accepted")
	}
}

func TestParseRejectsNegativeCoordinate(t *testing.T) {
	raw := []byte(`{"agents": [{"type": "TUMOR", "x": -5, "y": 1}]}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("negative coordinate accepted")
	}
}

func TestParseRejectsMissingAgents(t *testing.T) {
	if _, err := Parse([]byte(`{}`)); err == nil {
		t.Fatalf("document without agents accepted")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	raw := []byte(`{"agents": [], "extra": true}`)
	_, err := Parse(raw)
	if err == nil {
		t.Fatalf("unknown top-level field accepted")
	}
	if !strings.Contains(err.Error(), "population") {
		t.Fatalf("error not wrapped: %v", err)
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"agents": [`)); err == nil {
		t.Fatalf("malformed json accepted")
	}
}
