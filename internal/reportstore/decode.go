package reportstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/pwannenmacher/MetaRate/internal/models"
)

const maxLineBytes = 16 << 20

// Decode reads line-delimited JSON report records in file order.
//
// rating_id may be a JSON string or number. A report is identified by the text
// of its id: strings are kept verbatim and numbers are written in canonical
// decimal form, so 1, 1.0 and 1e0 all become "1" and the string "1" names the
// same report. Two records whose ids share that text are duplicates.
func Decode(r io.Reader) ([]models.Report, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var reports []models.Report
	seen := make(map[string]int)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		report, err := decodeRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if first, dup := seen[report.RatingID]; dup {
			return nil, fmt.Errorf("%w: %q on lines %d and %d", ErrDuplicateReportID, report.RatingID, first, lineNo)
		}
		seen[report.RatingID] = lineNo
		reports = append(reports, report)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}

	return reports, nil
}

func decodeRecord(line []byte) (models.Report, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return models.Report{}, fmt.Errorf("invalid record: %w", err)
	}

	idRaw, ok := raw["rating_id"]
	if !ok {
		return models.Report{}, fmt.Errorf("record has no rating_id")
	}
	id, err := normalizeID(idRaw)
	if err != nil {
		return models.Report{}, err
	}
	delete(raw, "rating_id")

	report := models.Report{RatingID: id}
	if body, ok := raw["report_to_rate"]; ok {
		if err := json.Unmarshal(body, &report.ReportToRate); err != nil {
			return models.Report{}, fmt.Errorf("report_to_rate must be a string: %w", err)
		}
		delete(raw, "report_to_rate")
	}
	if len(raw) > 0 {
		report.Fields = raw
	}

	return report, nil
}

func normalizeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("rating_id is empty")
		}
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("rating_id must be a string or number, got %s", string(raw))
	}
	return canonicalNumber(n)
}

// canonicalNumber writes integral values exactly and others in shortest float64 form
func canonicalNumber(n json.Number) (string, error) {
	r, ok := new(big.Rat).SetString(n.String())
	if !ok {
		return "", fmt.Errorf("rating_id is not a valid number: %s", n)
	}
	if r.IsInt() {
		return r.Num().String(), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("rating_id is out of range: %w", err)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
