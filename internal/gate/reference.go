package gate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"finrep/internal/domain"
)

// referenceFile is the YAML shape of a canary document's ground truth.
type referenceFile struct {
	Document   string                  `yaml:"document"`
	References []domain.ReferenceValue `yaml:"references"`
}

// LoadReferences reads reference values from a .yaml/.yml/.json or .xlsx file.
func LoadReferences(path string) ([]domain.ReferenceValue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading references %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ParseReferenceWorkbook(bytes.NewReader(raw))
	default:
		return ParseReferenceYAML(raw)
	}
}

// ParseReferenceYAML decodes a YAML (or JSON) reference document.
func ParseReferenceYAML(raw []byte) ([]domain.ReferenceValue, error) {
	var file referenceFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decoding references: %w", err)
	}
	return NormalizeReferences(file.References)
}

// ParseReferenceWorkbook reads the first sheet of a workbook whose header row names the
// columns field, kind, value, rel_tolerance and abs_tolerance. Column order is free.
func ParseReferenceWorkbook(r io.Reader) ([]domain.ReferenceValue, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open reference workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("reading reference sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	fieldCol, ok := cols["field"]
	if !ok {
		return nil, fmt.Errorf("reference workbook has no 'field' column")
	}
	valueCol, ok := cols["value"]
	if !ok {
		return nil, fmt.Errorf("reference workbook has no 'value' column")
	}

	var refs []domain.ReferenceValue
	for i, row := range rows[1:] {
		field := strings.TrimSpace(cellVal(row, fieldCol))
		if field == "" {
			continue
		}
		ref := domain.ReferenceValue{Field: field, Kind: domain.ReferenceNumeric}
		if c, ok := cols["kind"]; ok && strings.EqualFold(strings.TrimSpace(cellVal(row, c)), string(domain.ReferenceText)) {
			ref.Kind = domain.ReferenceText
		}
		value := strings.TrimSpace(cellVal(row, valueCol))
		if ref.Kind == domain.ReferenceText {
			ref.Text = value
		} else {
			n, err := parseNumericString(value)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i+2, err)
			}
			ref.Number = n
		}
		if c, ok := cols["rel_tolerance"]; ok {
			if ref.RelTolerance, err = optionalFloat(cellVal(row, c)); err != nil {
				return nil, fmt.Errorf("row %d rel_tolerance: %w", i+2, err)
			}
		}
		if c, ok := cols["abs_tolerance"]; ok {
			if ref.AbsTolerance, err = optionalFloat(cellVal(row, c)); err != nil {
				return nil, fmt.Errorf("row %d abs_tolerance: %w", i+2, err)
			}
		}
		refs = append(refs, ref)
	}
	return NormalizeReferences(refs)
}

// NormalizeReferences defaults an empty kind to numeric and rejects unknown kinds.
func NormalizeReferences(refs []domain.ReferenceValue) ([]domain.ReferenceValue, error) {
	for i := range refs {
		if refs[i].Field == "" {
			return nil, fmt.Errorf("reference %d has no field", i)
		}
		switch refs[i].Kind {
		case "":
			refs[i].Kind = domain.ReferenceNumeric
		case domain.ReferenceNumeric, domain.ReferenceText:
		default:
			return nil, fmt.Errorf("reference %s: unknown kind %q", refs[i].Field, refs[i].Kind)
		}
	}
	return refs, nil
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(s, "%") {
		f /= 100
	}
	return &f, nil
}

func cellVal(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

// MarshalReferenceYAML encodes refs as a reference document for the named canary.
func MarshalReferenceYAML(document string, refs []domain.ReferenceValue) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(referenceFile{Document: document, References: refs}); err != nil {
		return nil, fmt.Errorf("encoding references: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
