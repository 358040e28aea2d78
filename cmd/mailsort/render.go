package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/processor"
	"github.com/nhle/mailsort/internal/theme"
)

func renderResult(w io.Writer, conn model.Connection, r *processor.Result, runErr error) {
	fmt.Fprintln(w, theme.HeaderStyle.Render(conn.Name))

	lines := []string{
		fmt.Sprintf("processed  %d", r.MessagesProcessed),
		fmt.Sprintf("labeled    %s", theme.SuccessStyle.Render(fmt.Sprint(r.MessagesLabeled))),
		fmt.Sprintf("review     %s", theme.WarningStyle.Render(fmt.Sprint(r.MessagesReview))),
		fmt.Sprintf("errors     %s", errorCount(len(r.Errors))),
		fmt.Sprintf("duration   %s", time.Duration(r.DurationMs)*time.Millisecond),
	}
	fmt.Fprintln(w, theme.SummaryStyle.Render(strings.Join(lines, "\n")))

	if len(r.Errors) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "%s\t%s\n", theme.ColumnStyle.Render("MESSAGE"), theme.ColumnStyle.Render("ERROR"))
		for _, e := range r.Errors {
			fmt.Fprintf(tw, "%s\t%s\n", e.MessageID, e.Error)
		}
		tw.Flush()
	}
	if runErr != nil {
		fmt.Fprintln(w, theme.ErrorStyle.Render("run failed: "+runErr.Error()))
	}
}

func errorCount(n int) string {
	if n == 0 {
		return "0"
	}
	return theme.ErrorStyle.Render(fmt.Sprint(n))
}

func renderConnections(w io.Writer, conns []model.Connection, processed map[string]int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		theme.ColumnStyle.Render("ID"),
		theme.ColumnStyle.Render("NAME"),
		theme.ColumnStyle.Render("PROVIDER"),
		theme.ColumnStyle.Render("EMAIL"),
		theme.ColumnStyle.Render("STATUS"),
		theme.ColumnStyle.Render("LAST SYNC"),
		theme.ColumnStyle.Render("PROCESSED"))
	for _, conn := range conns {
		synced := theme.InfoStyle.Render("never")
		if conn.LastSyncAt != nil {
			synced = conn.LastSyncAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			conn.ID, conn.Name, conn.Provider, conn.Email,
			theme.StatusStyle(conn.Status).Render(string(conn.Status)),
			synced, processed[conn.ID])
	}
}

func renderCategories(w io.Writer, cats []model.Category, rules []model.Rule, withRules bool) {
	count := make(map[string]int)
	for _, r := range rules {
		count[r.CategoryCode]++
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
		theme.ColumnStyle.Render("CODE"),
		theme.ColumnStyle.Render("NAME"),
		theme.ColumnStyle.Render("RULES"),
		theme.ColumnStyle.Render("ACTIVE"))
	for _, cat := range cats {
		name := cat.Name
		if cat.IsSystem {
			name += theme.InfoStyle.Render(" (system)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", cat.Code, name, count[cat.Code], cat.IsActive)
	}

	if !withRules || len(rules) == 0 {
		return
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		theme.ColumnStyle.Render("CATEGORY"),
		theme.ColumnStyle.Render("RULE"),
		theme.ColumnStyle.Render("TYPE"),
		theme.ColumnStyle.Render("PATTERN"),
		theme.ColumnStyle.Render("PRIORITY"),
		theme.ColumnStyle.Render("CONFIDENCE"))
	for _, r := range rules {
		name := r.Name
		if !r.IsActive {
			name += theme.InfoStyle.Render(" (inactive)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%d\t%s\n",
			r.CategoryCode, name, r.Type, r.Field, r.Pattern, r.Priority, theme.Confidence(r.Confidence))
	}
}

func renderPending(w io.Writer, rows []model.ProcessedMessage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		theme.ColumnStyle.Render("ID"),
		theme.ColumnStyle.Render("SENDER"),
		theme.ColumnStyle.Render("SUBJECT"),
		theme.ColumnStyle.Render("SUGGESTED"),
		theme.ColumnStyle.Render("CONFIDENCE"),
		theme.ColumnStyle.Render("ORIGIN"))
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row.ID, row.Sender, clip(row.Subject, 50), deref(row.SuggestedCategory),
			theme.Confidence(row.Confidence),
			theme.OriginStyle(row.Origin).Render(string(row.Origin)))
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
