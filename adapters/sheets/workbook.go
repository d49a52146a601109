package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"sheetarchiver/domain/archive"
	"sheetarchiver/domain/core"
	"sheetarchiver/ports"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const (
	valueInputRaw    = "RAW"
	insertRows       = "INSERT_ROWS"
	renderFormatted  = "FORMATTED_VALUE"
	sheetTitlesField = "sheets.properties.title"
)

// SheetsAPI is the part of the Sheets v4 API the workbook needs.
type SheetsAPI interface {
	Configure(ctx context.Context, credentialsJSON []byte) error
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	GetValues(ctx context.Context, spreadsheetID, ref string) ([][]interface{}, error)
	AppendValues(ctx context.Context, spreadsheetID, ref string, rows [][]interface{}) error
	ClearValues(ctx context.Context, spreadsheetID, ref string) error
	UpdateValues(ctx context.Context, spreadsheetID, ref string, rows [][]interface{}) error
}

// Config holds what is needed to open a spreadsheet.
type Config struct {
	SpreadsheetID   string
	CredentialsFile string
	// Should be nil for production
	API SheetsAPI
}

// LowLevelAPI talks to the Sheets service over HTTP.
type LowLevelAPI struct {
	service *sheetsapi.Service
}

// Configure creates a Sheets service authenticated as the service account in credentialsJSON.
func (api *LowLevelAPI) Configure(ctx context.Context, credentialsJSON []byte) error {
	conf, err := google.JWTConfigFromJSON(credentialsJSON, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return fmt.Errorf("%w: invalid service account credentials: %v", core.ErrConfiguration, err)
	}
	client := conf.Client(ctx)
	service, err := sheetsapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return err
	}
	api.service = service
	return nil
}

func (api *LowLevelAPI) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	ss, err := api.service.Spreadsheets.Get(spreadsheetID).Fields(sheetTitlesField).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, sheet := range ss.Sheets {
		if sheet.Properties != nil {
			titles = append(titles, sheet.Properties.Title)
		}
	}
	return titles, nil
}

func (api *LowLevelAPI) GetValues(ctx context.Context, spreadsheetID, ref string) ([][]interface{}, error) {
	resp, err := api.service.Spreadsheets.Values.Get(spreadsheetID, ref).
		ValueRenderOption(renderFormatted).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (api *LowLevelAPI) AppendValues(ctx context.Context, spreadsheetID, ref string, rows [][]interface{}) error {
	_, err := api.service.Spreadsheets.Values.Append(spreadsheetID, ref, &sheetsapi.ValueRange{Values: rows}).
		ValueInputOption(valueInputRaw).InsertDataOption(insertRows).Context(ctx).Do()
	return err
}

func (api *LowLevelAPI) ClearValues(ctx context.Context, spreadsheetID, ref string) error {
	_, err := api.service.Spreadsheets.Values.Clear(spreadsheetID, ref, &sheetsapi.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (api *LowLevelAPI) UpdateValues(ctx context.Context, spreadsheetID, ref string, rows [][]interface{}) error {
	_, err := api.service.Spreadsheets.Values.Update(spreadsheetID, ref, &sheetsapi.ValueRange{Values: rows}).
		ValueInputOption(valueInputRaw).Context(ctx).Do()
	return err
}

// Workbook is a Google spreadsheet seen as a set of tabs.
type Workbook struct {
	id  string
	api SheetsAPI
}

// Open reads the service account file and connects to the spreadsheet.
func Open(ctx context.Context, cfg Config) (*Workbook, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet ID is empty", core.ErrConfiguration)
	}
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading service account file: %v", core.ErrConfiguration, err)
	}
	api := cfg.API
	if api == nil {
		api = &LowLevelAPI{}
	}
	if err := api.Configure(ctx, data); err != nil {
		return nil, err
	}
	return &Workbook{id: cfg.SpreadsheetID, api: api}, nil
}

// Table returns the tab with the given title.
func (w *Workbook) Table(ctx context.Context, name string) (ports.Table, error) {
	titles, err := w.api.SheetTitles(ctx, w.id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: spreadsheet %q not found or not shared with the service account", core.ErrConfiguration, w.id)
		}
		return nil, err
	}
	for _, title := range titles {
		if title == name {
			return &Table{id: w.id, name: name, api: w.api}, nil
		}
	}
	return nil, core.NewTableNotFoundError(name)
}

// Table is one tab addressed with A1 references.
type Table struct {
	id   string
	name string
	api  SheetsAPI
}

func (t *Table) Name() string { return t.name }

func (t *Table) Header(ctx context.Context) ([]string, error) {
	values, err := t.api.GetValues(ctx, t.id, archive.Qualify(t.name, "1:1"))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return toStrings(values[0]), nil
}

func (t *Table) Values(ctx context.Context) ([][]string, error) {
	values, err := t.api.GetValues(ctx, t.id, archive.Qualify(t.name, ""))
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(values))
	for i, v := range values {
		rows[i] = toStrings(v)
	}
	return rows, nil
}

func (t *Table) AppendRows(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	return t.api.AppendValues(ctx, t.id, archive.Qualify(t.name, "A1"), toValues(rows))
}

func (t *Table) ClearRange(ctx context.Context, r archive.Range) error {
	if r.Empty() {
		return nil
	}
	return t.api.ClearValues(ctx, t.id, archive.Qualify(t.name, r.A1()))
}

func (t *Table) WriteRange(ctx context.Context, topLeft archive.Cell, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	return t.api.UpdateValues(ctx, t.id, archive.Qualify(t.name, topLeft.A1()), toValues(rows))
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		switch s := v.(type) {
		case string:
			out[i] = s
		case nil:
		default:
			out[i] = fmt.Sprint(s)
		}
	}
	return out
}

func toValues(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		vals := make([]interface{}, len(row))
		for j, cell := range row {
			vals[j] = cell
		}
		out[i] = vals
	}
	return out
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var ae *googleapi.Error
	ok := errors.As(err, &ae)
	return ok && ae.Code == http.StatusNotFound
}
