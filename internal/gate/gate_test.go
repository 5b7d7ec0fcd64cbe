package gate_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"finrep/internal/domain"
	"finrep/internal/gate"
)

func record(data map[string]any) *domain.DocumentRecord {
	return &domain.DocumentRecord{DocumentID: "doc-1", Data: data}
}

func num(field string, v float64) domain.ReferenceValue {
	return domain.ReferenceValue{Field: field, Kind: domain.ReferenceNumeric, Number: v}
}

func TestGate_ExactMatchPasses(t *testing.T) {
	g := gate.New(0.01, 1000)
	rec := record(map[string]any{"income_statement": map[string]any{"revenue": 5_000_000.0}})

	res := g.Check(rec, []domain.ReferenceValue{num("income_statement.revenue", 5_000_000)})

	assert.True(t, res.Passed)
	assert.Equal(t, 1, res.Checked)
	assert.Empty(t, res.Violations)
}

func TestGate_BoundaryPasses(t *testing.T) {
	g := gate.New(0.01, 1000)

	// exactly at the relative band: 1% of 1 000 000
	rel := record(map[string]any{"total": 1_010_000.0})
	assert.True(t, g.Check(rel, []domain.ReferenceValue{num("total", 1_000_000)}).Passed)

	// exactly at the absolute band on a small value where 1% is narrower
	abs := record(map[string]any{"total": 11_000.0})
	assert.True(t, g.Check(abs, []domain.ReferenceValue{num("total", 10_000)}).Passed)
}

func TestGate_BeyondBothTolerancesFails(t *testing.T) {
	g := gate.New(0.01, 1000)
	rec := record(map[string]any{"total": 1_020_000.0})

	res := g.Check(rec, []domain.ReferenceValue{num("total", 1_000_000)})

	require.False(t, res.Passed)
	require.Len(t, res.Violations, 1)
	v := res.Violations[0]
	assert.Equal(t, "total", v.Field)
	assert.Equal(t, "1000000", v.Expected)
	assert.Equal(t, "1020000", v.Actual)
	assert.InDelta(t, 20_000.0, v.Diff, 1e-9)
}

func TestGate_ReportsEveryViolation(t *testing.T) {
	g := gate.New(0.01, 0)
	rec := record(map[string]any{
		"a": 10.0,
		"b": 20.0,
		"c": 30.0,
	})

	res := g.Check(rec, []domain.ReferenceValue{
		num("a", 100),
		num("b", 20),
		num("c", 300),
		num("d", 1),
	})

	assert.False(t, res.Passed)
	require.Len(t, res.Violations, 3)
	assert.Equal(t, "a", res.Violations[0].Field)
	assert.Equal(t, "c", res.Violations[1].Field)
	assert.Equal(t, "d", res.Violations[2].Field)
	assert.Equal(t, "field missing from extraction", res.Violations[2].Message)
}

func TestGate_PerReferenceToleranceOverridesDefault(t *testing.T) {
	g := gate.New(0.01, 1000)
	zero := 0.0
	tight := domain.ReferenceValue{Field: "x", Number: 100_000, RelTolerance: &zero, AbsTolerance: &zero}

	res := g.Check(record(map[string]any{"x": 100_001.0}), []domain.ReferenceValue{tight})

	assert.False(t, res.Passed)
}

func TestGate_TextIsCaseInsensitiveAndSubstringTolerant(t *testing.T) {
	g := gate.New(0.01, 1000)
	rec := record(map[string]any{
		"governance": map[string]any{"organisation_name": "BOSTADSRÄTTSFÖRENINGEN Brf Solen"},
	})
	ref := domain.ReferenceValue{Field: "governance.organisation_name", Kind: domain.ReferenceText, Text: "brf solen"}

	assert.True(t, g.Check(rec, []domain.ReferenceValue{ref}).Passed)

	ref.Text = "Brf Månen"
	res := g.Check(rec, []domain.ReferenceValue{ref})
	assert.False(t, res.Passed)
	assert.Equal(t, "text does not match reference", res.Violations[0].Message)
}

func TestGate_EmptyTextDoesNotMatch(t *testing.T) {
	assert.False(t, gate.TextMatches("Brf Solen", ""))
	assert.True(t, gate.TextMatches("Brf Solen", "brf  solen"))
}

func TestGate_TextFragmentsDoNotPass(t *testing.T) {
	g := gate.New(0.01, 1000)
	refs := []domain.ReferenceValue{
		{Field: "governance.organisation_number", Kind: domain.ReferenceText, Text: "769612-3456"},
		{Field: "governance.organisation_name", Kind: domain.ReferenceText, Text: "Brf Solen"},
	}
	rec := record(map[string]any{
		"governance": map[string]any{"organisation_number": "12", "organisation_name": "B"},
	})

	res := g.Check(rec, refs)

	assert.False(t, res.Passed)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, "governance.organisation_number", res.Violations[0].Field)
	assert.Equal(t, "governance.organisation_name", res.Violations[1].Field)
}

func TestTextMatches_Identifiers(t *testing.T) {
	assert.True(t, gate.TextMatches("769612-3456", "7696123456"))
	assert.True(t, gate.TextMatches("769612-3456", " 769612 3456 "))
	assert.True(t, gate.TextMatches("SE45 5000 0000 0583 9825 7466", "se4550000000058398257466"))
	assert.False(t, gate.TextMatches("769612-3456", "769612"))
	assert.False(t, gate.TextMatches("769612-3456", "Org nr 769612-3456"))
	assert.False(t, gate.TextMatches("769612-3456", ""))
}

func TestTextMatches_Names(t *testing.T) {
	assert.True(t, gate.TextMatches("Brf Solen", "Bostadsrättsföreningen Brf Solen"))
	assert.True(t, gate.TextMatches("Bostadsrättsföreningen Solen", "BRF SOLEN"))
	assert.True(t, gate.TextMatches("Brf Solen i Lund", "Solen i Lund"))
	assert.False(t, gate.TextMatches("Brf Solen", "Sol"))
	assert.False(t, gate.TextMatches("Brf Solen i Lund", "Lund"))
	assert.False(t, gate.TextMatches("Brf Solglimten", "Brf Solen"))
}

func TestGate_IndexedPathsAndStringNumbers(t *testing.T) {
	g := gate.New(0.01, 1000)
	rec := record(map[string]any{
		"notes": map[string]any{
			"loans": []any{
				map[string]any{"lender": "SEB", "amount": "12 345 678 kr"},
				map[string]any{"lender": "Swedbank", "amount": "(1 500 000)"},
			},
		},
	})

	res := g.Check(rec, []domain.ReferenceValue{
		num("notes.loans[0].amount", 12_345_678),
		num("notes.loans.1.amount", -1_500_000),
	})

	assert.True(t, res.Passed, "%+v", res.Violations)
}

func TestParseNumber(t *testing.T) {
	cases := map[string]float64{
		"1 234 567":      1234567,
		"1.234.567,50":   1234567.5,
		"1,234,567.50":   1234567.5,
		"12,5":           12.5,
		"−4 200":         -4200,
		"(300)":          -300,
		"2 500 tkr":      2_500_000,
		"1,5 mkr":        1_500_000,
		"340 TSEK":       340_000,
		"12.500":         12500,
		"12,500":         12500,
		"-12.500 kr":     -12500,
		"0.125":          0.125,
		"1234.500":       1234.5,
		"1234.75":        1234.75,
		"10 000 000 SEK": 10000000,
	}
	for in, want := range cases {
		got, err := gate.ParseNumber(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}

	_, err := gate.ParseNumber("n/a")
	assert.Error(t, err)
}

func TestParseReferenceYAML(t *testing.T) {
	refs, err := gate.ParseReferenceYAML([]byte(`
document: brf-solen-2023
references:
  - field: income_statement.revenue
    number: 4512000
  - field: governance.organisation_name
    kind: text
    text: Brf Solen
    abs_tolerance: 0
`))
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, domain.ReferenceNumeric, refs[0].Kind)
	assert.Equal(t, 4512000.0, refs[0].Number)
	assert.Equal(t, domain.ReferenceText, refs[1].Kind)
	require.NotNil(t, refs[1].AbsTolerance)
}

func TestParseReferenceWorkbook(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"field", "kind", "value", "rel_tolerance", "abs_tolerance"},
		{"balance_sheet.total_assets", "numeric", "98 765 432", "0.5%", ""},
		{"governance.organisation_name", "text", "Brf Solen", "", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	refs, err := gate.ParseReferenceWorkbook(&buf)

	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, 98765432.0, refs[0].Number)
	require.NotNil(t, refs[0].RelTolerance)
	assert.InDelta(t, 0.005, *refs[0].RelTolerance, 1e-12)
	assert.Nil(t, refs[0].AbsTolerance)
	assert.Equal(t, "Brf Solen", refs[1].Text)
}

func TestMarshalReferenceYAML_RoundTrip(t *testing.T) {
	tol := 0.05
	in := []domain.ReferenceValue{
		{Field: "balance_sheet.total_assets", Kind: domain.ReferenceNumeric, Number: 98000000, RelTolerance: &tol},
		{Field: "governance.auditor", Kind: domain.ReferenceText, Text: "KPMG"},
	}
	raw, err := gate.MarshalReferenceYAML("brf-solen-2023", in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "document: brf-solen-2023")

	out, err := gate.ParseReferenceYAML(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
