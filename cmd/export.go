package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/telesales-timesheet/internal/export"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

var (
	exportSchema string
	exportFormat string
	exportOut    string
)

var reviewExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the current view as CSV or an XLSX payroll workbook",
	Long: `Export writes the filtered rows of the current view. CSV files are UTF-8
with a byte-order mark, ";" separated and CRLF terminated, so spreadsheet
software opens them with accents intact. The default file name is derived
from the context, area, period, view and schema; --out - writes to stdout.`,
	Args: cobra.NoArgs,
	RunE: runReviewExport,
}

func init() {
	reviewExportCmd.Flags().StringVar(&exportSchema, "schema", string(export.SchemaDefault), "Column schema: default, payroll")
	reviewExportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv, xlsx")
	reviewExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file, directory or - for stdout")
}

func runReviewExport(cmd *cobra.Command, args []string) error {
	schema, err := export.ParseSchema(exportSchema)
	if err != nil {
		usage(err.Error())
	}
	format := strings.ToLower(exportFormat)
	if format != "csv" && format != "xlsx" {
		usage(fmt.Sprintf("unknown format %q (csv, xlsx)", exportFormat))
	}
	if format == "xlsx" {
		schema = export.SchemaPayroll
	}

	e := loadEnv()
	view := reviewView()
	agg, closeFn := loadView(cmd.Context(), e, view)
	defer closeFn()
	rows := agg.Rows(reviewFilter(e))

	data, err := render(rows, reviewPeriod, schema, format)
	if err != nil {
		fail(err)
	}

	name := export.Name{
		Context: e.cfg.Export.Context,
		Area:    reviewArea,
		Period:  reviewPeriod,
		View:    string(view),
		Variant: string(schema),
		Date:    time.Now(),
	}
	target := exportTarget(exportOut, e.cfg.Export.Dir, name.Filename("."+format))
	if target == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := writeFileAtomic(target, data); err != nil {
		fail(err)
	}
	fmt.Printf("Exported %d row(s) to %s\n", len(rows), target)
	return nil
}

func render(rows []model.SupervisorRow, period string, schema export.Schema, format string) ([]byte, error) {
	if format == "xlsx" {
		return export.Workbook(rows)
	}
	return export.CSV(rows, period, schema)
}

// exportTarget picks the output path: --out when it names a file or stdout,
// otherwise the generated file name inside --out or the configured directory.
func exportTarget(out, dir, filename string) string {
	switch {
	case out == "-":
		return out
	case out == "":
		if dir == "" {
			return filename
		}
		return filepath.Join(dir, filename)
	}
	if fi, err := os.Stat(out); err == nil && fi.IsDir() {
		return filepath.Join(out, filename)
	}
	return out
}

// writeFileAtomic writes data to path via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating export directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
