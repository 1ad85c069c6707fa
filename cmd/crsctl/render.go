package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/crs"
	"github.com/mind-engage/mindengage-crs/internal/grading"
	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
)

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func stars(n int) string {
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

func renderReport(w io.Writer, rep crs.Report) {
	heading.Fprintf(w, "\n%s (%s)\n", rep.Student.Name, rep.Student.RegisterNumber)
	fmt.Fprintf(w, "CRS %s  %s  (cached %s)\n", num(rep.FinalCRS), stars(rep.StarRating), num(rep.PreviousCRS))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Parameter", "Sub-parameter", "Mode", "Score", "Max", "%", "Contribution", "Last entry"})
	for _, p := range rep.Parameters {
		table.Append([]string{p.Name + " (" + num(p.Weightage) + ")", "", "", "", "", num(p.Percentage), num(p.Contribution), ""})
		for _, sp := range p.SubParameters {
			last := "-"
			if sp.LastEntryDate != nil {
				last = sp.LastEntryDate.Format(time.DateOnly)
			}
			table.Append([]string{"", sp.Name, sp.Mode, num(sp.Score), num(sp.MaxScore), num(sp.Percentage), "", last})
		}
	}
	table.Render()

	if len(rep.Violations) == 0 {
		return
	}
	warning.Fprintf(w, "\nViolations (-%s)\n", num(rep.TotalDeductions))
	vt := tablewriter.NewWriter(w)
	vt.SetHeader([]string{"Date", "Violation", "Severity", "Penalty", "Comment"})
	for _, v := range rep.Violations {
		vt.Append([]string{v.CreatedAt.Format(time.DateOnly), v.ViolationName, v.Severity, num(v.Penalty), v.Comment})
	}
	vt.Render()
}

func renderRubric(w io.Writer, f rubric.File) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Parameter", "Sub-parameter", "Weightage", "Max", "Scoring", "Calculation"})
	for _, p := range f.Rubric().Parameters {
		table.Append([]string{p.Name, "", num(p.Weightage), "", "", ""})
		for _, sp := range p.SubParameters {
			table.Append([]string{"", sp.Name, num(sp.Weightage), num(sp.MaxScore), string(sp.Mode()), string(sp.Calculation())})
		}
	}
	table.Render()
	success.Fprintf(w, "ok: %d parameters, %d violation types\n", len(f.Parameters), len(f.ViolationTypes))
}

func renderHistory(w io.Writer, pts []grading.Point) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Date", "CRS"})
	for _, p := range pts {
		table.Append([]string{p.Date, num(p.CRS)})
	}
	table.Render()
}

func renderChanges(w io.Writer, changes []ledger.CRSHistoryEntry) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "no changes recorded")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"When", "Previous", "New", "Change", "Reason"})
	for _, c := range changes {
		table.Append([]string{c.CreatedAt.Format(time.DateTime), num(c.PreviousScore), num(c.NewScore), num(c.ChangeAmount), c.Reason})
	}
	table.Render()
}

func renderAudit(w io.Writer, entries []audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit entries")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"When", "Action", "Actor", "Details"})
	for _, e := range entries {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, e.Details[k])
		}
		table.Append([]string{e.CreatedAt.Format(time.DateTime), e.Action, e.Actor, strings.Join(parts, " ")})
	}
	table.Render()
}

func renderBulk(w io.Writer, res crs.BulkResult) {
	if res.FailedCount == 0 {
		success.Fprintln(w, res.Summary())
		return
	}
	failure.Fprintln(w, res.Summary())
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Row", "Student", "Sub-parameter", "Score", "Error"})
	for _, e := range res.Errors {
		student := e.Item.StudentID
		if student == "" {
			student = e.Item.RegisterNumber
		}
		sub := e.Item.SubParameterID
		if sub == "" {
			sub = e.Item.SubParameterName
		}
		table.Append([]string{strconv.Itoa(e.Row), student, sub, string(e.Item.ObtainedScore), e.Error})
	}
	table.Render()
}
