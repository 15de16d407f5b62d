package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/shadowtrace/internal/config"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/detect"
	"github.com/banshee-data/shadowtrace/internal/importer"
)

func printUsage() {
	fmt.Println(`shadowtrace - geospatial tracking-detection engine

Usage: shadowtrace [command] [options]

Commands:
  serve      Run the HTTP API and the enrichment worker (default)
  migrate    Manage the database schema (up|down|status|force <v>|baseline <v>)
  import     Bulk-import a wardriving backup (--file, --format wigle|kismet)
  enrich     Drain the enrichment queue once
  learn      Run one adaptive threshold adjustment pass
  threats    Evaluate and print current threat incidents
  anchor     Set the primary home anchor (--lat, --lon, --radius)
  rebuild-devices  Regenerate the device view from the observation store
  version    Print build identification
  help       Show this help message

Configuration is read from SHADOWTRACE_* environment variables; see
config/detection.defaults.json for the detection tuning knobs.`)
}

func handleMigrate(env *config.Env, args []string) {
	if len(args) < 1 {
		log.Fatal("migrate requires a subcommand: up, down, status, force <version> or baseline <version>")
	}

	// OpenDB, not NewDB: the point is explicit control over migrations.
	database, err := db.OpenDB(env.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	switch args[0] {
	case "up":
		if err := database.MigrateUp(); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		log.Print("migrations applied")
	case "down":
		if err := database.MigrateDown(); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		log.Print("rolled back one migration")
	case "status":
		version, dirty, err := database.MigrateVersion()
		if err != nil {
			log.Fatalf("failed to read migration version: %v", err)
		}
		log.Printf("schema version %d (dirty=%v)", version, dirty)
	case "force":
		if len(args) < 2 {
			log.Fatal("force requires a version number")
		}
		var version int
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			log.Fatalf("invalid version %q", args[1])
		}
		if err := database.MigrateForce(version); err != nil {
			log.Fatalf("force failed: %v", err)
		}
		log.Printf("forced schema version to %d", version)
	case "baseline":
		if len(args) < 2 {
			log.Fatal("baseline requires a version number")
		}
		var version int
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			log.Fatalf("invalid version %q", args[1])
		}
		if err := database.MigrateBaseline(version); err != nil {
			log.Fatalf("baseline failed: %v", err)
		}
		log.Printf("baselined schema at version %d", version)
	default:
		log.Fatalf("unknown migrate subcommand %q", args[0])
	}
}

func handleImport(env *config.Env, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "Path to the source database file")
	format := fs.String("format", "wigle", "Source format: wigle or kismet")
	fs.Parse(args)

	if *file == "" {
		log.Fatal("import requires --file")
	}

	a, err := newApp(env)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.db.Close()

	ctx := context.Background()
	var report *importer.Report
	switch *format {
	case "wigle":
		report, err = a.batcher.ImportWigleBackup(ctx, *file)
	case "kismet":
		report, err = a.batcher.ImportKismetLog(ctx, *file)
	default:
		log.Fatalf("unknown import format %q", *format)
	}
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}
	log.Printf("import complete: %s", report)
}

func handleEnrich(env *config.Env, args []string) {
	fs := flag.NewFlagSet("enrich", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Override the batch size for this run")
	fs.Parse(args)

	a, err := newApp(env)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.db.Close()

	if *limit > 0 {
		a.worker.BatchSize = *limit
	}

	summary, err := a.worker.RunOnce(context.Background())
	if err != nil {
		log.Fatalf("enrichment run failed: %v", err)
	}
	log.Printf("enrichment complete: %s", summary)
}

func handleLearn(env *config.Env, args []string) {
	a, err := newApp(env)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.db.Close()

	report, err := a.loop.Run(context.Background())
	if err != nil {
		log.Fatalf("adjustment run failed: %v", err)
	}
	for _, adj := range report.Adjustments {
		log.Printf("%s: %s (%s)", adj.RadioType, adj.Action, adj.Reason)
	}
}

func handleThreats(env *config.Env, args []string) {
	fs := flag.NewFlagSet("threats", flag.ExitOnError)
	radioType := fs.String("radio-type", "wifi", "Radio type to evaluate")
	limit := fs.Int("limit", 0, "Maximum incidents to print")
	fs.Parse(args)

	a, err := newApp(env)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.db.Close()

	result, err := a.scanner.ListIncidents(context.Background(), *radioType, detect.Overrides{Limit: *limit})
	if err != nil {
		log.Fatalf("failed to evaluate threats: %v", err)
	}
	if len(result.MissingConfig) > 0 {
		log.Fatalf("cannot evaluate threats, missing configuration: %v", result.MissingConfig)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("failed to encode incidents: %v", err)
	}
}

// handleRebuildDevices regenerates the materialized device view, for
// recovery after bulk deletes or schema repair.
func handleRebuildDevices(env *config.Env) {
	a, err := newApp(env)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.db.Close()

	rebuilt, err := a.db.RebuildDevices(context.Background())
	if err != nil {
		log.Fatalf("device rebuild failed: %v", err)
	}
	log.Printf("rebuilt %d devices from the observation store", rebuilt)
}

func handleAnchor(env *config.Env, args []string) {
	fs := flag.NewFlagSet("anchor", flag.ExitOnError)
	label := fs.String("label", "home", "Anchor label")
	lat := fs.Float64("lat", 0, "Anchor latitude")
	lon := fs.Float64("lon", 0, "Anchor longitude")
	radius := fs.Float64("radius", 100, "Home radius in meters")
	fs.Parse(args)

	a, err := newApp(env)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.db.Close()

	anchor, err := a.db.SetPrimaryAnchor(context.Background(), *label, *lat, *lon, *radius)
	if err != nil {
		log.Fatalf("failed to set anchor: %v", err)
	}
	log.Printf("primary anchor %q set at (%f, %f), radius %.0fm", anchor.Label, anchor.Lat, anchor.Lon, anchor.RadiusM)
}
