// Package csvimport turns an uploaded attendance batch file into a row-level
// validated preview.
//
// The format is deliberately narrow: comma separated, no quoting, a header
// drawn from student_id, status and remark, one record per line. Structural
// problems abort the import before any row is parsed; row problems are
// collected per row and never abort the batch.
package csvimport

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxFileSize is the largest accepted upload, in bytes.
const MaxFileSize = 2 << 20

// MaxRemarkLength is measured in characters, not bytes.
const MaxRemarkLength = 255

const (
	ColStudentID = "student_id"
	ColStatus    = "status"
	ColRemark    = "remark"
)

var (
	ErrNotCSV          = errors.New("file must have a .csv extension")
	ErrFileTooLarge    = errors.New("file exceeds the 2 MB limit")
	ErrNoData          = errors.New("file must contain a header line and at least one data line")
	ErrDuplicateHeader = errors.New("duplicate header column")
	ErrMissingColumn   = errors.New("missing required column")
	ErrUnknownColumn   = errors.New("unknown column")
)

// Row error labels.
const (
	LabelStudentIDRequired = "student_id is required"
	LabelStudentIDFormat   = "student_id may only contain letters, digits, '_' and '-'"
	LabelNotInRoster       = "student is not in the active roster"
	LabelInvalidStatus     = "status must be one of PRESENT, ABSENT, LATE, EXCUSED"
	LabelRemarkTooLong     = "remark exceeds 255 characters"
	LabelRemarkMarkup      = "remark must not contain markup"
	LabelDuplicate         = "duplicate student_id in file"
	LabelAlreadyOnline     = "student already checked in online for this session"
	LabelColumnCount       = "unexpected number of columns"
)

// WarnNoRoster is added to the summary when no roster was supplied.
const WarnNoRoster = "no active roster loaded; roster membership was not checked"

var (
	studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	markupPattern    = regexp.MustCompile(`<\s*/?\s*[A-Za-z][^>]*>`)

	validStatuses = map[string]struct{}{
		"PRESENT": {},
		"ABSENT":  {},
		"LATE":    {},
		"EXCUSED": {},
	}
	allowedColumns = map[string]struct{}{
		ColStudentID: {},
		ColStatus:    {},
		ColRemark:    {},
	}
)

// GateError aborts the whole import.
type GateError struct {
	Err    error
	Detail string
}

func (e *GateError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Detail)
}

func (e *GateError) Unwrap() error { return e.Err }

// File is an already materialized upload.
type File struct {
	Name string
	Data []byte
}

// Roster answers whether a student belongs to the active roster.
type Roster interface {
	Has(studentID string) bool
}

// OnlineChecker reports whether a student already holds an online-mode
// record for the active session.
type OnlineChecker interface {
	HasOnlineRecord(studentID string) bool
}

// Row is one parsed data line.
type Row struct {
	Line      int      `json:"line"`
	StudentID string   `json:"student_id"`
	Status    string   `json:"status"`
	Remark    string   `json:"remark,omitempty"`
	Errors    []string `json:"errors"`
	IsValid   bool     `json:"is_valid"`
}

// Summary aggregates a preview.
type Summary struct {
	Total    int      `json:"total"`
	Valid    int      `json:"valid"`
	Errors   int      `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Preview is the validated view of a file, ready to commit.
type Preview struct {
	Rows    []Row   `json:"rows"`
	Summary Summary `json:"summary"`
}

// ValidRows returns the rows that passed every check.
func (p *Preview) ValidRows() []Row {
	out := make([]Row, 0, p.Summary.Valid)
	for _, r := range p.Rows {
		if r.IsValid {
			out = append(out, r)
		}
	}
	return out
}

// Validate parses f. A nil roster or online checker skips that check.
func Validate(f File, roster Roster, online OnlineChecker) (*Preview, error) {
	if !strings.EqualFold(filepath.Ext(f.Name), ".csv") {
		return nil, &GateError{Err: ErrNotCSV, Detail: f.Name}
	}
	if len(f.Data) > MaxFileSize {
		return nil, &GateError{Err: ErrFileTooLarge}
	}

	lines := splitLines(string(f.Data))
	if len(lines) < 2 {
		return nil, &GateError{Err: ErrNoData}
	}

	cols, err := parseHeader(lines[0])
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(lines)-1)
	counts := make(map[string]int)
	for i, line := range lines[1:] {
		row := parseRow(line, i+2, cols)
		if row.StudentID != "" {
			counts[row.StudentID]++
		}
		rows = append(rows, row)
	}

	p := &Preview{Rows: rows, Summary: Summary{Total: len(rows), Warnings: []string{}}}
	for i := range p.Rows {
		r := &p.Rows[i]
		checkRow(r, roster, online)
		if r.StudentID != "" && counts[r.StudentID] > 1 {
			r.Errors = append(r.Errors, LabelDuplicate)
		}
		r.IsValid = len(r.Errors) == 0
		if r.IsValid {
			p.Summary.Valid++
		} else {
			p.Summary.Errors++
		}
	}

	if roster == nil {
		p.Summary.Warnings = append(p.Summary.Warnings, WarnNoRoster)
	}
	if w := uniformStatusWarning(p.Rows); w != "" {
		p.Summary.Warnings = append(p.Summary.Warnings, w)
	}
	return p, nil
}

// splitLines splits on \n, strips a trailing \r and a leading BOM, and drops
// trailing blank lines.
func splitLines(s string) []string {
	s = strings.TrimPrefix(s, "\ufeff")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func parseHeader(line string) ([]string, error) {
	fields := strings.Split(line, ",")
	cols := make([]string, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimSpace(f))
		if _, dup := seen[name]; dup {
			return nil, &GateError{Err: ErrDuplicateHeader, Detail: name}
		}
		seen[name] = struct{}{}
		cols[i] = name
	}
	for _, req := range []string{ColStudentID, ColStatus} {
		if _, ok := seen[req]; !ok {
			return nil, &GateError{Err: ErrMissingColumn, Detail: req}
		}
	}
	for _, c := range cols {
		if _, ok := allowedColumns[c]; !ok {
			return nil, &GateError{Err: ErrUnknownColumn, Detail: c}
		}
	}
	return cols, nil
}

func parseRow(line string, lineNo int, cols []string) Row {
	fields := strings.Split(line, ",")
	row := Row{Line: lineNo, Errors: []string{}}
	if len(fields) != len(cols) {
		row.Errors = append(row.Errors, LabelColumnCount)
	}
	for i, col := range cols {
		if i >= len(fields) {
			break
		}
		v := strings.TrimSpace(fields[i])
		switch col {
		case ColStudentID:
			row.StudentID = v
		case ColStatus:
			row.Status = strings.ToUpper(v)
		case ColRemark:
			row.Remark = v
		}
	}
	return row
}

func checkRow(r *Row, roster Roster, online OnlineChecker) {
	switch {
	case r.StudentID == "":
		r.Errors = append(r.Errors, LabelStudentIDRequired)
	case !studentIDPattern.MatchString(r.StudentID):
		r.Errors = append(r.Errors, LabelStudentIDFormat)
	default:
		if roster != nil && !roster.Has(r.StudentID) {
			r.Errors = append(r.Errors, LabelNotInRoster)
		}
		if online != nil && online.HasOnlineRecord(r.StudentID) {
			r.Errors = append(r.Errors, LabelAlreadyOnline)
		}
	}

	if _, ok := validStatuses[r.Status]; !ok {
		r.Errors = append(r.Errors, LabelInvalidStatus)
	}

	if r.Remark != "" {
		if utf8.RuneCountInString(r.Remark) > MaxRemarkLength {
			r.Errors = append(r.Errors, LabelRemarkTooLong)
		}
		if markupPattern.MatchString(r.Remark) {
			r.Errors = append(r.Errors, LabelRemarkMarkup)
		}
	}
}

// uniformStatusWarning flags batches where every row is PRESENT or every row
// is ABSENT. It is advisory only.
func uniformStatusWarning(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}
	first := rows[0].Status
	if first != "PRESENT" && first != "ABSENT" {
		return ""
	}
	for _, r := range rows[1:] {
		if r.Status != first {
			return ""
		}
	}
	return fmt.Sprintf("all %d rows are marked %s; please review before committing", len(rows), first)
}
