// clipper-admin is an operator CLI for database migrations, manual artifact
// sweeps, and queue inspection.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/bootstrap"
	"github.com/clipper-dl/clipper/internal/data"
	"github.com/clipper-dl/clipper/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"sweep": {
			name:        "sweep",
			description: "Remove expired download artifacts (supports --max-age and --dry-run)",
			run:         runSweep,
		},
		"stats": {
			name:        "stats",
			description: "Show download counts per status",
			run:         runStats,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stderr, "usage: clipper-admin <command> [flags]\n\ncommands:\n"); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	for _, c := range commands() {
		if _, err := fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func connectDB(ctx *commandContext) (*sql.DB, error) {
	return bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig:    ctx.Config.Postgres,
		RedisConfig: ctx.Config.Redis,
		Logger:      ctx.Logger,
	})
}

func closeDB(ctx *commandContext, db *sql.DB) {
	if err := db.Close(); err != nil {
		ctx.Logger.Error("close database failed", "error", err)
	}
}

func runMigrate(ctx *commandContext, _ []string) error {
	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	migrateCtx, cancel := context.WithTimeout(ctx.Ctx, defaultMigrationTimeout)
	defer cancel()
	return bootstrap.RunMigrations(migrateCtx, db, ctx.Logger)
}

func runSweep(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	maxAge := fs.Duration("max-age", ctx.Config.Sweeper.RetentionWindow,
		"remove artifacts older than this")
	dryRun := fs.Bool("dry-run", false, "report what would be removed without deleting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	repo := data.NewDownloadRepo(db, data.RepoConfig{Logger: ctx.Logger})
	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Repo:   repo,
		Config: ctx.Config.Sweeper,
		Logger: ctx.Logger,
	})
	if err != nil {
		return err
	}

	result, err := sweeper.Sweep(ctx.Ctx, *maxAge, *dryRun)
	if err != nil {
		return err
	}

	verb := "removed"
	if *dryRun {
		verb = "would remove"
	}
	return writef(os.Stdout, "%s %d artifact(s), %d byte(s)\n", verb, result.Count, result.BytesFreed)
}

func runStats(ctx *commandContext, args []string) error {
	if len(args) > 0 {
		return errors.New("stats takes no arguments")
	}

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	repo := data.NewDownloadRepo(db, data.RepoConfig{Logger: ctx.Logger})
	stats, err := repo.Stats(ctx.Ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "pending\t%d\ndownloading\t%d\ncompleted\t%d\nfailed\t%d\n",
		stats.Pending, stats.Downloading, stats.Completed, stats.Failed); err != nil {
		return err
	}
	return tw.Flush()
}
