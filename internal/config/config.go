package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"sheetarchiver/domain/core"
	"sheetarchiver/internal/errors"
)

// Backend names
const (
	BackendSheets = "sheets"
	BackendXLSX   = "xlsx"
)

// Config represents the complete application configuration
type Config struct {
	Backend  string
	Sheets   SheetsConfig
	Excel    ExcelConfig
	Archive  ArchiveConfig
	Database DatabaseConfig
	Journal  JournalConfig
	Lock     LockConfig
	Schedule ScheduleConfig
	Metrics  MetricsConfig
	LogLevel string
}

// SheetsConfig holds Google Sheets access settings
type SheetsConfig struct {
	SpreadsheetID      string
	ServiceAccountJSON string
}

// ExcelConfig holds the local workbook used by the xlsx backend
type ExcelConfig struct {
	File string
}

// ArchiveConfig holds the archiving policy
type ArchiveConfig struct {
	LiveSheet       string
	ArchiveSheet    string
	TimestampColumn string
	MaxAgeDays      int
	Offset          string
	Location        *time.Location
	DryRun          bool
}

// DatabaseConfig enables the run journal and advisory lock when URL is set
type DatabaseConfig struct {
	URL string
}

// JournalConfig enables a local SQLite run journal when Path is set and no
// database is configured
type JournalConfig struct {
	Path string
}

// MetricsConfig controls where run metrics go
type MetricsConfig struct {
	Textfile string // node_exporter textfile written after each run
	Addr     string // listen address for /metrics in schedule mode
}

// LockConfig enables a lock file when Dir is set
type LockConfig struct {
	Dir string
}

// ScheduleConfig holds the cron expression used by the schedule command
type ScheduleConfig struct {
	Cron string
}

// Resource names the data source, for journal entries and lock keys.
func (c *Config) Resource() string {
	if c.Backend == BackendXLSX {
		return "xlsx:" + c.Excel.File
	}
	return c.Sheets.SpreadsheetID
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	archiveConfig, err := loadArchiveConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load archive configuration")
	}

	config := &Config{
		Backend:  strings.ToLower(getEnvOrDefault("BACKEND", BackendSheets)),
		Archive:  *archiveConfig,
		Database: LoadDatabase(),
		Journal:  LoadJournal(),
		Lock:     LockConfig{Dir: os.Getenv("LOCK_DIR")},
		Schedule: ScheduleConfig{Cron: getEnvOrDefault("SCHEDULE", "0 3 * * *")},
		Metrics: MetricsConfig{
			Textfile: os.Getenv("METRICS_TEXTFILE"),
			Addr:     os.Getenv("METRICS_ADDR"),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	switch config.Backend {
	case BackendSheets:
		sheetsConfig, err := loadSheetsConfig()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load sheets configuration")
		}
		config.Sheets = *sheetsConfig
	case BackendXLSX:
		excelConfig, err := loadExcelConfig()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load xlsx configuration")
		}
		config.Excel = *excelConfig
	default:
		return nil, errors.ConfigInvalidf("unknown BACKEND %q (want %q or %q)", config.Backend, BackendSheets, BackendXLSX)
	}

	return config, nil
}

// LoadDatabase reads only the database settings, for commands that do not
// touch a spreadsheet
func LoadDatabase() DatabaseConfig {
	return DatabaseConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
}

// LoadJournal reads the SQLite journal path alone
func LoadJournal() JournalConfig {
	return JournalConfig{Path: strings.TrimSpace(os.Getenv("JOURNAL_PATH"))}
}

func loadSheetsConfig() (*SheetsConfig, error) {
	id := strings.TrimSpace(os.Getenv("SPREADSHEET_ID"))
	if id == "" {
		return nil, errors.ConfigInvalid("Missing SPREADSHEET_ID environment variable")
	}

	creds := getEnvOrDefault("SERVICE_ACCOUNT_JSON", "service-account-creds.json")
	if err := requireFile(creds); err != nil {
		return nil, errors.ConfigInvalidf("SERVICE_ACCOUNT_JSON: %v", err)
	}

	return &SheetsConfig{
		SpreadsheetID:      id,
		ServiceAccountJSON: creds,
	}, nil
}

func loadExcelConfig() (*ExcelConfig, error) {
	file := os.Getenv("XLSX_FILE")
	if file == "" {
		return nil, errors.ConfigInvalid("XLSX_FILE is required when BACKEND=xlsx")
	}
	if err := requireFile(file); err != nil {
		return nil, errors.ConfigInvalidf("XLSX_FILE: %v", err)
	}
	return &ExcelConfig{File: file}, nil
}

func loadArchiveConfig() (*ArchiveConfig, error) {
	maxAge, err := getEnvInt("MAX_AGE_DAYS", 14)
	if err != nil {
		return nil, err
	}
	if maxAge < 0 {
		return nil, errors.ConfigInvalidf("MAX_AGE_DAYS must not be negative, got %d", maxAge)
	}

	offset := getEnvOrDefault("TZ_OFFSET", "+03:00")
	loc, err := core.ParseOffset(offset)
	if err != nil {
		return nil, errors.ConfigInvalidf("TZ_OFFSET: %v", err)
	}

	dryRun, err := getEnvBool("DRY_RUN", false)
	if err != nil {
		return nil, err
	}

	cfg := &ArchiveConfig{
		LiveSheet:       getEnvOrDefault("LIVE_SHEET", "Recent Changes"),
		ArchiveSheet:    getEnvOrDefault("ARCHIVE_SHEET", "Historical"),
		TimestampColumn: getEnvOrDefault("TIMESTAMP_COLUMN", "Change Timestamp"),
		MaxAgeDays:      maxAge,
		Offset:          offset,
		Location:        loc,
		DryRun:          dryRun,
	}
	if cfg.LiveSheet == cfg.ArchiveSheet {
		return nil, errors.ConfigInvalidf("LIVE_SHEET and ARCHIVE_SHEET must differ (both %q)", cfg.LiveSheet)
	}
	return cfg, nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New(errors.CodeConfigInvalid, path+" is a directory")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.ConfigInvalidf("%s must be an integer, got %q", key, value)
	}
	return intValue, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.ConfigInvalidf("%s must be a boolean, got %q", key, value)
	}
	return boolValue, nil
}
