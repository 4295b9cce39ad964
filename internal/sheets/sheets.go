// Package sheets exports captured leads to a tenant's Google Spreadsheet.
// Each export lands on a worksheet named for the reporting period, so repeated
// exports of the same period overwrite rather than duplicate.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// DateFormat is the accepted input format for explicit export periods.
const DateFormat = "2006-01-02"

var headerRow = []interface{}{
	"Created at", "User ID", "Name", "Debt amount", "Income source", "Region", "UTM source",
}

// LeadExporter writes a batch of leads to one worksheet.
type LeadExporter interface {
	ExportLeads(ctx context.Context, spreadsheetID, title string, leads []models.Lead) (int, error)
}

// Exporter implements LeadExporter over the Google Sheets API.
type Exporter struct {
	svc *sheets.Service
}

// NewExporter authenticates with service account credentials JSON.
func NewExporter(ctx context.Context, credentialsJSON []byte) (*Exporter, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	return &Exporter{svc: svc}, nil
}

// ExportLeads writes the header and one row per lead to the worksheet named
// title, creating or clearing it first. Returns the number of exported leads.
func (e *Exporter) ExportLeads(ctx context.Context, spreadsheetID, title string, leads []models.Lead) (int, error) {
	sheetID, err := e.ensureWorksheet(ctx, spreadsheetID, title)
	if err != nil {
		return 0, err
	}

	valueRange := &sheets.ValueRange{Values: buildRows(leads)}
	_, err = e.svc.Spreadsheets.Values.
		Update(spreadsheetID, fmt.Sprintf("'%s'!A1", title), valueRange).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to write leads to worksheet %q: %w", title, err)
	}

	if err := e.formatHeader(ctx, spreadsheetID, sheetID); err != nil {
		// Cosmetic only; the data is already in place.
		slog.Warn("Sheets header formatting failed", "spreadsheet_id", spreadsheetID, "error", err)
	}

	slog.Info("Sheets export completed", "spreadsheet_id", spreadsheetID, "worksheet", title, "leads", len(leads))
	return len(leads), nil
}

// ensureWorksheet finds the worksheet by title, clearing it when present and
// creating it otherwise. Returns the numeric sheet ID.
func (e *Exporter) ensureWorksheet(ctx context.Context, spreadsheetID, title string) (int64, error) {
	spreadsheet, err := e.svc.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to open spreadsheet %s: %w", spreadsheetID, err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == title {
			_, err := e.svc.Spreadsheets.Values.
				Clear(spreadsheetID, fmt.Sprintf("'%s'", title), &sheets.ClearValuesRequest{}).
				Context(ctx).Do()
			if err != nil {
				return 0, fmt.Errorf("failed to clear worksheet %q: %w", title, err)
			}
			return sheet.Properties.SheetId, nil
		}
	}

	reply, err := e.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to add worksheet %q: %w", title, err)
	}
	return reply.Replies[0].AddSheet.Properties.SheetId, nil
}

// formatHeader bolds and freezes the first row.
func (e *Exporter) formatHeader(ctx context.Context, spreadsheetID string, sheetID int64) error {
	_, err := e.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							TextFormat: &sheets.TextFormat{Bold: true},
						},
					},
					Fields: "userEnteredFormat.textFormat.bold",
				},
			},
			{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        sheetID,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
		},
	}).Context(ctx).Do()
	return err
}

// buildRows renders the header plus one row per lead. An empty batch still
// gets the header and a placeholder line.
func buildRows(leads []models.Lead) [][]interface{} {
	rows := [][]interface{}{headerRow}
	if len(leads) == 0 {
		rows = append(rows, []interface{}{"No leads for this period."})
		return rows
	}
	for _, lead := range leads {
		utm := lead.UTMSource
		if utm == "" {
			utm = "N/A"
		}
		rows = append(rows, []interface{}{
			lead.CreatedAt.Format("2006-01-02 15:04:05"),
			lead.UserID,
			lead.Name,
			lead.DebtAmount,
			lead.IncomeSource,
			lead.Region,
			utm,
		})
	}
	return rows
}

// ResolvePeriod turns optional YYYY-MM-DD bounds into a half-open [from, to)
// query range and a worksheet title. With no bounds it reports the previous
// full week, Monday through Sunday.
func ResolvePeriod(now time.Time, fromStr, toStr string) (from, to time.Time, title string, err error) {
	if fromStr != "" || toStr != "" {
		from, err = time.ParseInLocation(DateFormat, fromStr, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, "", fmt.Errorf("invalid start date %q, use YYYY-MM-DD", fromStr)
		}
		var last time.Time
		last, err = time.ParseInLocation(DateFormat, toStr, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, "", fmt.Errorf("invalid end date %q, use YYYY-MM-DD", toStr)
		}
		if last.Before(from) {
			return time.Time{}, time.Time{}, "", fmt.Errorf("end date %q precedes start date %q", toStr, fromStr)
		}
		title = from.Format("02.01.2006") + "-" + last.Format("02.01.2006")
		return from, last.AddDate(0, 0, 1), title, nil
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	// Monday-based offset into the current week.
	offset := (int(now.Weekday()) + 6) % 7
	thisWeek := midnight.AddDate(0, 0, -offset)
	from = thisWeek.AddDate(0, 0, -7)
	to = thisWeek
	_, week := from.ISOWeek()
	title = fmt.Sprintf("Week %d (%s-%s)", week, from.Format("02.01"), from.AddDate(0, 0, 6).Format("02.01"))
	return from, to, title, nil
}
