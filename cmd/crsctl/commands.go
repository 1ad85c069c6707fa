package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/crs"
	"github.com/mind-engage/mindengage-crs/internal/grading"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

type app struct {
	store crs.Store
	svc   *crs.Service
	trail audit.Log
	out   io.Writer
}

var errUsage = errors.New("bad usage")

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "check":
		return a.check(args)
	case "seed":
		return a.seed(ctx, args)
	case "import":
		return a.importScores(ctx, args)
	case "report":
		return a.report(ctx, args)
	case "history":
		return a.history(ctx, args)
	case "changes":
		return a.changes(ctx, args)
	case "recompute":
		return a.recompute(ctx, args)
	case "audit":
		return a.auditTrail(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) check(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	file := fs.String("file", "", "rubric file (.yaml or .json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: -file is required", errUsage)
	}
	f, err := rubric.LoadFile(*file)
	if err != nil {
		return err
	}
	renderRubric(a.out, f)
	return nil
}

func (a *app) seed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "", "seed file (.yaml or .json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: -file is required", errUsage)
	}
	sf, err := crs.LoadSeedFile(*file)
	if err != nil {
		return err
	}
	if err := crs.Seed(ctx, a.store, sf); err != nil {
		return err
	}
	success.Fprintf(a.out, "seeded %d parameters, %d violation types, %d students\n",
		len(sf.Parameters), len(sf.ViolationTypes), len(sf.Students))
	return nil
}

func (a *app) importScores(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "", "CSV score sheet")
	actor := fs.String("actor", "crsctl", "recorded_by for every row")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: -file is required", errUsage)
	}
	fh, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer fh.Close()

	rows, err := crs.ParseBulkCSV(fh)
	if err != nil {
		return err
	}
	res, err := a.svc.BulkIngest(ctx, rows, *actor)
	renderBulk(a.out, res)
	return err
}

// studentFlags registers -student and -reg on fs.
func studentFlags(fs *flag.FlagSet) (id, reg *string) {
	return fs.String("student", "", "student id"), fs.String("reg", "", "student register number")
}

func (a *app) resolve(ctx context.Context, id, reg string) (string, error) {
	switch {
	case id != "":
		return id, nil
	case reg != "":
		st, err := a.store.FindStudentByRegisterNumber(ctx, reg)
		if err != nil {
			return "", err
		}
		return st.ID, nil
	default:
		return "", fmt.Errorf("%w: -student or -reg is required", errUsage)
	}
}

func (a *app) report(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	id, reg := studentFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sid, err := a.resolve(ctx, *id, *reg)
	if err != nil {
		return err
	}
	rep, err := a.svc.Report(ctx, sid)
	if err != nil {
		return err
	}
	renderReport(a.out, rep)
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	id, reg := studentFlags(fs)
	dense := fs.Bool("dense", false, "one point per calendar day")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sid, err := a.resolve(ctx, *id, *reg)
	if err != nil {
		return err
	}
	pts, err := a.svc.History(ctx, sid, grading.HistoryOptions{Dense: *dense})
	if err != nil {
		return err
	}
	renderHistory(a.out, pts)
	return nil
}

func (a *app) changes(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("changes", flag.ContinueOnError)
	id, reg := studentFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sid, err := a.resolve(ctx, *id, *reg)
	if err != nil {
		return err
	}
	changes, err := a.svc.Changes(ctx, sid)
	if err != nil {
		return err
	}
	renderChanges(a.out, changes)
	return nil
}

func (a *app) recompute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recompute", flag.ContinueOnError)
	id, reg := studentFlags(fs)
	workers := fs.Int("workers", 4, "concurrent recomputations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" && *reg == "" {
		n, err := a.svc.RecalculateAll(ctx, *workers)
		if err != nil {
			return err
		}
		success.Fprintf(a.out, "recomputed all students, %d changed\n", n)
		return nil
	}
	sid, err := a.resolve(ctx, *id, *reg)
	if err != nil {
		return err
	}
	out, err := a.svc.Recalculate(ctx, sid)
	if err != nil {
		return err
	}
	if out.Change == nil {
		fmt.Fprintf(a.out, "%s unchanged at %.2f\n", sid, out.Result.FinalCRS)
		return nil
	}
	success.Fprintf(a.out, "%s: %.2f -> %.2f (%s)\n", sid, out.Change.PreviousScore, out.Change.NewScore, out.Change.Reason)
	return nil
}

func (a *app) auditTrail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	id, reg := studentFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sid, err := a.resolve(ctx, *id, *reg)
	if err != nil {
		return err
	}
	entries, err := a.trail.List(ctx, "student", sid)
	if err != nil {
		return err
	}
	renderAudit(a.out, entries)
	return nil
}
