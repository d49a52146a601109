package container

import (
	"context"
	"fmt"
	"time"

	"sheetarchiver/adapters/excel"
	"sheetarchiver/adapters/lockfile"
	"sheetarchiver/adapters/postgres"
	"sheetarchiver/adapters/sheets"
	"sheetarchiver/adapters/sqlite"
	"sheetarchiver/app"
	"sheetarchiver/domain/core"
	"sheetarchiver/internal"
	"sheetarchiver/internal/config"
	"sheetarchiver/internal/errors"
	"sheetarchiver/internal/metrics"
	"sheetarchiver/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB       *sqlx.DB
	Workbook ports.Workbook

	// Run bookkeeping; nil when not configured
	Journal ports.RunJournal
	Lock    ports.RunLock

	Archiver *app.ArchiverService
	Metrics  *metrics.Metrics

	closers []func() error
}

// New creates a dependency injection container from a loaded configuration
func New(ctx context.Context, cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}

	c := &Container{Config: cfg, Logger: logger, Metrics: metrics.New()}
	if err := c.init(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) init(ctx context.Context) error {
	if c.Config.Database.URL != "" {
		if err := c.InitWithDatabase(ctx); err != nil {
			return err
		}
	}

	if c.Journal == nil && c.Config.Journal.Path != "" {
		j, err := sqlite.Open(ctx, c.Config.Journal.Path)
		if err != nil {
			return errors.DatabaseError("failed to open journal", err)
		}
		c.Journal = j
		c.closers = append(c.closers, j.Close)
	}

	if err := c.initWorkbook(ctx); err != nil {
		return err
	}
	c.initLock()

	c.Archiver = app.NewArchiverService(app.ArchiverConfig{
		Resource:        c.Config.Resource(),
		LiveTable:       c.Config.Archive.LiveSheet,
		ArchiveTable:    c.Config.Archive.ArchiveSheet,
		TimestampColumn: c.Config.Archive.TimestampColumn,
		MaxAgeDays:      c.Config.Archive.MaxAgeDays,
		Location:        c.Config.Archive.Location,
		DryRun:          c.Config.Archive.DryRun,
	}, c.Workbook, c.Journal, c.Lock, core.SystemClock{}, c.Logger)

	c.Logger.Debug("Container initialized: backend=%s journal=%t lock=%t", c.Config.Backend, c.Journal != nil, c.Lock != nil)
	return nil
}

// InitWithDatabase connects to PostgreSQL, applies pending migrations and
// sets up the run journal and advisory lock
func (c *Container) InitWithDatabase(ctx context.Context) error {
	db, err := c.connect(ctx)
	if err != nil {
		return err
	}

	applied, err := postgres.NewMigrator(db).Up(ctx)
	if err != nil {
		return errors.DatabaseError("failed to migrate journal schema", err)
	}
	for _, v := range applied {
		c.Logger.Info("Applied migration: %s", v)
	}

	c.Journal = postgres.NewRunJournal(db)
	c.Lock = postgres.NewAdvisoryLock(db, c.Config.Resource())
	return nil
}

func (c *Container) connect(ctx context.Context) (*sqlx.DB, error) {
	if c.DB != nil {
		return c.DB, nil
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", c.Config.Database.URL)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to database", err)
	}
	c.DB = db
	c.closers = append(c.closers, db.Close)
	return db, nil
}

// Migrate applies pending journal migrations without opening a workbook
func Migrate(ctx context.Context, databaseURL string) ([]string, []postgres.MigrationStatus, error) {
	if databaseURL == "" {
		return nil, nil, errors.ConfigInvalid("DATABASE_URL is required to migrate")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, nil, errors.DatabaseError("failed to connect to database", err)
	}
	defer db.Close()

	m := postgres.NewMigrator(db)
	applied, err := m.Up(ctx)
	if err != nil {
		return applied, nil, errors.DatabaseError("failed to migrate journal schema", err)
	}
	status, err := m.Status(ctx)
	if err != nil {
		return applied, nil, errors.DatabaseError("failed to read migration status", err)
	}
	return applied, status, nil
}

// OpenJournal opens only the run journal, for commands that never touch a
// workbook. PostgreSQL wins when both are configured, as in New.
func OpenJournal(ctx context.Context, db config.DatabaseConfig, journal config.JournalConfig) (ports.RunJournal, func() error, error) {
	switch {
	case db.URL != "":
		conn, err := sqlx.ConnectContext(ctx, "postgres", db.URL)
		if err != nil {
			return nil, nil, errors.DatabaseError("failed to connect to database", err)
		}
		return postgres.NewRunJournal(conn), conn.Close, nil
	case journal.Path != "":
		j, err := sqlite.Open(ctx, journal.Path)
		if err != nil {
			return nil, nil, errors.DatabaseError("failed to open journal", err)
		}
		return j, j.Close, nil
	default:
		return nil, nil, errors.ConfigInvalid("journal requires DATABASE_URL or JOURNAL_PATH")
	}
}

func (c *Container) initWorkbook(ctx context.Context) error {
	switch c.Config.Backend {
	case config.BackendXLSX:
		wb, err := excel.Open(c.Config.Excel.File)
		if err != nil {
			return classify(err, "failed to open workbook")
		}
		c.Workbook = wb
		c.closers = append(c.closers, wb.Close)
	default:
		wb, err := sheets.Open(ctx, sheets.Config{
			SpreadsheetID:   c.Config.Sheets.SpreadsheetID,
			CredentialsFile: c.Config.Sheets.ServiceAccountJSON,
		})
		if err != nil {
			return classify(err, "failed to connect to Google Sheets")
		}
		c.Workbook = wb
	}
	return nil
}

func (c *Container) initLock() {
	switch {
	case c.Lock != nil:
	case c.Config.Lock.Dir != "":
		c.Lock = lockfile.New(c.Config.Lock.Dir, c.Config.Resource())
	default:
		c.Logger.Warn("No DATABASE_URL or LOCK_DIR configured; overlapping runs will not be detected")
	}
}

func classify(err error, msg string) error {
	if core.IsConfigurationError(err) {
		return errors.WithCode(errors.CodeConfigInvalid, errors.Wrap(err, msg))
	}
	return errors.ExternalServiceError("workbook", errors.Wrap(err, msg))
}

// RunOnce performs one archive pass and records it in the run metrics. When
// METRICS_TEXTFILE is set the metrics are written there after every pass.
func (c *Container) RunOnce(ctx context.Context) (*app.RunResult, error) {
	start := time.Now()
	result, err := c.Archiver.Run(ctx)
	finished := time.Now()
	c.Metrics.Observe(result, err, finished.Sub(start), finished)

	if path := c.Config.Metrics.Textfile; path != "" {
		if werr := c.Metrics.WriteTextfile(path); werr != nil {
			c.Logger.Error("failed to write metrics to %s: %v", path, werr)
		}
	}
	return result, err
}

// Close releases the workbook and database connection
func (c *Container) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}
