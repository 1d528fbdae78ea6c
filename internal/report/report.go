// Package report は出欠レポートのCSV出力とコンソール表示を提供する。
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/hitoshi/rollcall/internal/model"
)

// Header はCSVとコンソール表示で共通の列見出し。
var Header = []string{"Name", "Reg No", "Section", "Dept", "Year", "Date", "Time", "Status"}

func fields(r model.ReportRow) []string {
	return []string{r.Name, r.RegNo, r.Section, r.Department, r.Year, r.Date, r.Time, string(r.Status)}
}

// WriteCSV はヘッダー行とレポート行をCSVで書き出す。
func WriteCSV(w io.Writer, rows []model.ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(fields(r)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// ExportFileName はエクスポートファイル名 attendance_export_YYYYMMDD_HHMMSS.csv を返す。
func ExportFileName(now time.Time) string {
	return "attendance_export_" + now.Format("20060102_150405") + ".csv"
}

// WriteTable はレポート行を罫線付きの表として書き出す。
// 列幅は表示幅で揃えるため、全角文字を含んでも崩れない。
func WriteTable(w io.Writer, rows []model.ReportRow) error {
	widths := make([]int, len(Header))
	for i, h := range Header {
		widths[i] = runewidth.StringWidth(h)
	}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = fields(r)
		for j, c := range cells[i] {
			if cw := runewidth.StringWidth(c); cw > widths[j] {
				widths[j] = cw
			}
		}
	}

	var b strings.Builder
	b.WriteString(border(widths, "╒", "═", "╤", "╕"))
	b.WriteString(line(widths, Header))
	b.WriteString(border(widths, "╞", "═", "╪", "╡"))
	for i, c := range cells {
		if i > 0 {
			b.WriteString(border(widths, "├", "─", "┼", "┤"))
		}
		b.WriteString(line(widths, c))
	}
	b.WriteString(border(widths, "╘", "═", "╧", "╛"))

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	return nil
}

func border(widths []int, left, fill, sep, right string) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat(fill, w+2)
	}
	return left + strings.Join(parts, sep) + right + "\n"
}

func line(widths []int, cells []string) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = " " + runewidth.FillRight(cells[i], w) + " "
	}
	return "│" + strings.Join(parts, "│") + "│\n"
}
