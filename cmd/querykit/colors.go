package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dan-strohschein/querykit/client"
	"github.com/dan-strohschein/querykit/mapper"
)

// ANSI color codes (constants)
const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
)

var colorsEnabled = true

func init() {
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
	}
}

func colorize(color, text string) string {
	if !colorsEnabled {
		return text
	}
	return color + text + ansiReset
}

func colorRed(text string) string   { return colorize(ansiRed, text) }
func colorGreen(text string) string { return colorize(ansiGreen, text) }
func colorBold(text string) string  { return colorize(ansiBold, text) }
func colorDim(text string) string   { return colorize(ansiDim, text) }

func printSuccess(w io.Writer, message string) {
	fmt.Fprintln(w, colorGreen("✓")+" "+message)
}

func printError(w io.Writer, message string) {
	fmt.Fprintln(w, colorRed("✗")+" "+message)
}

// printRows renders a result set as an aligned table.
func printRows(w io.Writer, rs *client.ResultSet) {
	headers := rs.Columns
	if len(headers) == 0 && len(rs.Rows) > 0 {
		for k := range rs.Rows[0] {
			headers = append(headers, k)
		}
		sort.Strings(headers)
	}

	rows := make([][]string, len(rs.Rows))
	for i, r := range rs.Rows {
		rows[i] = make([]string, len(headers))
		for j, h := range headers {
			if v := r[h]; v == nil {
				rows[i][j] = "NULL"
			} else {
				rows[i][j] = mapper.ToString(v)
			}
		}
	}
	printTable(w, headers, rows)
	fmt.Fprintln(w, colorDim(fmt.Sprintf("(%d rows)", len(rows))))
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	// Pad before coloring so escape codes do not skew widths.
	for i, h := range headers {
		fmt.Fprint(w, colorBold(fmt.Sprintf("%-*s", widths[i], h))+"  ")
	}
	fmt.Fprintln(w)

	for _, width := range widths {
		fmt.Fprint(w, strings.Repeat("─", width)+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, cell := range row {
			fmt.Fprintf(w, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(w)
	}
}
