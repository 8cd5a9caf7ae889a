// Package main provides UI utilities for the querydeck CLI.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/intent"
	"github.com/querydeck/querydeck/internal/orchestrator"
	"github.com/querydeck/querydeck/internal/semcache"
)

// UI provides user-friendly output utilities.
type UI struct {
	out      io.Writer
	errOut   io.Writer
	jsonMode bool
	noColor  bool
}

// NewUI creates a new UI instance writing to out.
func NewUI(out, errOut io.Writer, jsonMode, noColor bool) *UI {
	return &UI{out: out, errOut: errOut, jsonMode: jsonMode, noColor: noColor}
}

func (ui *UI) paint(attr color.Attribute, s string) string {
	if ui.noColor {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out, ui.paint(color.FgGreen, "✓ "+fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func (ui *UI) Error(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.errOut, ui.paint(color.FgRed, "✗ "+fmt.Sprintf(format, args...)))
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out, ui.paint(color.FgCyan, "ℹ "+fmt.Sprintf(format, args...)))
}

// JSON writes v as indented JSON.
func (ui *UI) JSON(v any) error {
	enc := json.NewEncoder(ui.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Spinner is indeterminate progress on stderr. A nil Spinner is a no-op.
type Spinner struct {
	spinner *spinner.Spinner
}

// Spinner starts a spinner unless output is JSON or stderr is not a terminal.
func (ui *UI) Spinner(message string) *Spinner {
	if ui.jsonMode || !IsTerminal() {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return &Spinner{spinner: s}
}

// Stop stops the spinner animation and clears the line.
func (s *Spinner) Stop() {
	if s == nil {
		return
	}
	s.spinner.Stop()
}

func (ui *UI) sourceLabel(src domain.Source) string {
	switch src {
	case domain.SourceSemanticCache:
		return ui.paint(color.FgGreen, "semantic cache")
	case domain.SourcePatternMatch:
		return ui.paint(color.FgCyan, "pattern match")
	case domain.SourceLLMFallback:
		return ui.paint(color.FgYellow, "llm")
	default:
		return string(src)
	}
}

// Result renders an answered query.
func (ui *UI) Result(res *domain.Result) error {
	if ui.jsonMode {
		return ui.JSON(res)
	}

	header := fmt.Sprintf("Answered by %s from %s", ui.sourceLabel(res.Source), res.DB)
	switch res.Source {
	case domain.SourceSemanticCache:
		header += fmt.Sprintf(" (similarity %.3f to %q)", res.Similarity, res.OriginalQuery)
	case domain.SourcePatternMatch:
		header += fmt.Sprintf(" (confidence %.2f)", res.Confidence)
	}
	fmt.Fprintln(ui.out, header)

	if res.Action == domain.ActionListTables {
		for _, t := range asStrings(res.Data) {
			fmt.Fprintf(ui.out, "  %s\n", t)
		}
		return nil
	}

	fmt.Fprintln(ui.out, ui.paint(color.Faint, res.Statement))
	if err := ui.rows(asRows(res.Data)); err != nil {
		return err
	}
	if res.RowsReturned != nil {
		fmt.Fprintf(ui.out, "(%d rows)\n", *res.RowsReturned)
	}
	return nil
}

func (ui *UI) rows(rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	w := tabwriter.NewWriter(ui.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	for _, row := range rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			if v := row[c]; v != nil {
				vals[i] = fmt.Sprint(v)
			} else {
				vals[i] = "NULL"
			}
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
	return w.Flush()
}

// asStrings accepts data as built by the executor or as decoded from a
// cached record.
func asStrings(data any) []string {
	switch v := data.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}

func asRows(data any) []map[string]any {
	switch v := data.(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, x := range v {
			if row, ok := x.(map[string]any); ok {
				out = append(out, row)
			}
		}
		return out
	}
	return nil
}

// Stats renders cache statistics.
func (ui *UI) Stats(tenantID string, stats semcache.Stats) error {
	if ui.jsonMode {
		return ui.JSON(stats)
	}
	if !stats.Available {
		ui.Error("Semantic cache is unavailable")
		return nil
	}

	fmt.Fprintf(ui.out, "%d cached queries for %s\n", stats.TotalCachedQueries, tenantID)
	w := tabwriter.NewWriter(ui.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HITS\tTYPE\tCACHED\tQUERY")
	for _, e := range stats.Entries {
		at := time.Unix(int64(e.Timestamp), 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.HitCount, e.ResponseType, at, e.Query)
	}
	return w.Flush()
}

// Patterns renders the pattern library.
func (ui *UI) Patterns(patterns []intent.Info) error {
	if ui.jsonMode {
		return ui.JSON(patterns)
	}
	w := tabwriter.NewWriter(ui.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCONFIDENCE\tTEMPLATE")
	for _, p := range patterns {
		fmt.Fprintf(w, "%s\t%.2f\t%s\n", p.Name, p.Confidence, p.Statement)
	}
	return w.Flush()
}

// Similarity renders a query comparison.
func (ui *UI) Similarity(r *orchestrator.SimilarityReport) error {
	if ui.jsonMode {
		return ui.JSON(r)
	}
	verdict := ui.paint(color.FgYellow, "miss")
	if r.WouldCacheHit {
		verdict = ui.paint(color.FgGreen, "hit")
	}
	fmt.Fprintf(ui.out, "similarity %.4f (threshold %.2f): %s\n", r.Similarity, r.Threshold, verdict)
	return nil
}

// IsTerminal checks if stderr is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
