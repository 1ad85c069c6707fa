// Command crsctl is the operator CLI for the CRS engine: seed a rubric,
// import score sheets, inspect reports and history, and force recomputes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/config"
	"github.com/mind-engage/mindengage-crs/internal/crs"
	"github.com/mind-engage/mindengage-crs/internal/db"
)

const usage = `usage: crsctl <command> [flags]

commands:
  check      -file rubric.yaml          validate a rubric file without writing
  seed       -file seed.yaml            upsert rubric, violation types and students
  import     -file scores.csv [-actor]  bulk-ingest a score sheet
  report     -student ID | -reg NO      show the live CRS breakdown
  history    -student ID | -reg NO [-dense]
  changes    -student ID | -reg NO      show the persisted change trail
  recompute  [-student ID] [-workers N] recompute one or every student
  audit      -student ID | -reg NO      show the student's audit trail
`

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		color.Red("db open failed: %v", err)
		os.Exit(1)
	}
	defer dbh.Close()

	store := crs.NewSQLStore(dbh)
	trail := audit.NewSQLRecorder(dbh)
	svc := crs.NewService(store, crs.Options{
		Audit:    trail,
		Location: cfg.Location(),
	})
	app := &app{store: store, svc: svc, trail: trail, out: os.Stdout}

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		color.Red("error: %v", err)
		dbh.Close()
		os.Exit(1)
	}
}
