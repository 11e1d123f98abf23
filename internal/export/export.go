// Package export renders supervisor rows as spreadsheet-friendly CSV (French
// locale: semicolon separator, comma decimals, UTF-8 BOM) and as an XLSX
// payroll workbook. Output depends only on the input rows.
package export

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

// Schema selects the CSV column layout.
type Schema string

const (
	SchemaDefault Schema = "default"
	SchemaPayroll Schema = "payroll"
)

// ParseSchema accepts a schema name in any casing; empty means default.
func ParseSchema(s string) (Schema, error) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemaDefault:
		return SchemaDefault, nil
	case SchemaPayroll:
		return SchemaPayroll, nil
	}
	return "", fmt.Errorf("unknown export schema %q (default, payroll)", s)
}

const (
	separator = ";"
	lineEnd   = "\r\n"
)

var (
	defaultHeader = []string{"Période", "Jour", "Agent", "Matin", "Après-midi", "Durée", "Opération", "Commentaire", "Mission", "Région", "Statut"}
	payrollHeader = []string{"Matricule", "Agent", "Date", "Semaine", "Mois", "Opération", "Heures", "Mission", "Région"}
)

var printer = message.NewPrinter(language.French)

// Hours formats minutes as decimal hours with a French decimal comma, e.g.
// 180 -> "3,00".
func Hours(minutes int) string {
	return printer.Sprintf("%.2f", float64(minutes)/60)
}

// CSV renders rows in the given order. period labels the default schema's
// first column; when empty each row's own period is used.
func CSV(rows []model.SupervisorRow, period string, schema Schema) ([]byte, error) {
	var b bytes.Buffer
	switch schema {
	case SchemaDefault, "":
		writeLine(&b, defaultHeader)
		for _, r := range rows {
			writeLine(&b, defaultRecord(r, period))
		}
	case SchemaPayroll:
		writeLine(&b, payrollHeader)
		for _, r := range rows {
			writeLine(&b, payrollRecord(r))
		}
	default:
		return nil, fmt.Errorf("unknown export schema %q", schema)
	}
	return unicode.UTF8BOM.NewEncoder().Bytes(b.Bytes())
}

func defaultRecord(r model.SupervisorRow, period string) []string {
	if period == "" {
		period = rowPeriod(r)
	}
	return []string{
		timecalc.PeriodLabel(period),
		timecalc.FormatDayFR(r.Day),
		r.AgentName,
		window(r.IncludeMorning, r.MorningStart, r.MorningEnd),
		window(r.IncludeAfternoon, r.AfternoonStart, r.AfternoonEnd),
		timecalc.FormatHHMM(r.Minutes()),
		r.Project,
		singleLine(r.Notes),
		r.Mission,
		r.Region,
		model.StatusLabel(r.Status, r.ReviewStatus),
	}
}

func payrollRecord(r model.SupervisorRow) []string {
	return []string{
		r.UserID,
		r.AgentName,
		timecalc.FormatDayFR(r.Day),
		strconv.Itoa(timecalc.ISOWeek(r.Day)),
		strconv.Itoa(timecalc.MonthNumber(r.Day)),
		r.Project,
		Hours(r.Minutes()),
		r.Mission,
		r.Region,
	}
}

func rowPeriod(r model.SupervisorRow) string {
	if r.Period != "" {
		return r.Period
	}
	return timecalc.PeriodOf(r.Day)
}

func window(enabled bool, start, end string) string {
	if !enabled {
		return ""
	}
	return start + " -> " + end
}

// singleLine collapses line breaks and the whitespace around them to one space.
func singleLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

// quote wraps a field in quotes, doubling internal quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func writeLine(b *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteString(separator)
		}
		b.WriteString(quote(f))
	}
	b.WriteString(lineEnd)
}

// Name describes an export file.
type Name struct {
	Context string
	Area    string
	Period  string
	View    string
	Variant string
	Date    time.Time
}

// Filename returns "<context>_<area>_<period>_<view>_<variant>_<YYYY-MM-DD><ext>".
// Empty parts become "all"; characters outside [A-Za-z0-9-] become "-".
func (n Name) Filename(ext string) string {
	parts := []string{n.Context, n.Area, n.Period, n.View, n.Variant, n.Date.Format(timecalc.DayLayout)}
	for i, p := range parts {
		parts[i] = slug(p)
	}
	return strings.Join(parts, "_") + ext
}

func slug(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "all"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '-'
	}, s)
}
