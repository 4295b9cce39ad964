package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/leadpilot/leadpilot/internal/messaging"
	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/sheets"
)

const adminHelpText = `<b>Admin panel</b>

/health - bot status
/stats - analytics summary
/get_prompt - show the system prompt
/set_prompt &lt;text&gt; - replace the system prompt
/quiz_view - show the quiz schema
/quiz_upload - upload a new quiz schema (.json)
/quiz_delete - remove the quiz schema
/broadcast - send a message to all leads
/export_leads [from to] - export leads to the spreadsheet (YYYY-MM-DD)
/last_answer - debug the last generated answer

Send /start to return to the normal dialog.`

// handleAdminCommand serves the manager-only command surface. Callers have
// already verified the sender against the tenant's manager contact.
func (d *Dispatcher) handleAdminCommand(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	from := event.From
	switch event.Command {
	case "admin":
		return transport.SendMessage(ctx, from, adminHelpText)

	case "health":
		return transport.SendMessage(ctx, from,
			fmt.Sprintf("Bot is online. Tenant: %s (ID %d).", tenant.Name, tenant.ID))

	case "stats":
		report, err := d.deps.Store.Analytics(tenant.ID)
		if err != nil {
			slog.Error("Dispatcher analytics failed", "tenant_id", tenant.ID, "error", err)
			return transport.SendMessage(ctx, from, "Could not build the analytics report: "+err.Error())
		}
		return transport.SendMessage(ctx, from, formatAnalytics(report))

	case "get_prompt":
		return d.sendCurrentPrompt(ctx, tenant, from, transport)

	case "set_prompt":
		return d.setPrompt(ctx, tenant, event, transport)

	case "export_leads":
		return d.exportLeads(ctx, tenant, event, transport)

	case "last_answer":
		return d.sendLastAnswer(ctx, tenant, from, transport)

	case "broadcast":
		return d.startFlow(ctx, tenant, from, models.FlowTypeBroadcastWizard, transport)

	case "quiz_view":
		return d.sendQuizSchema(ctx, tenant, from, transport)

	case "quiz_upload":
		d.setUploadPending(tenant.ID, from)
		return transport.SendMessage(ctx, from,
			"Send me a .json file with the quiz structure, or /cancel to stop.")

	case "quiz_delete":
		if err := d.deps.Registry.ClearQuizSchema(tenant.ID); err != nil {
			return transport.SendMessage(ctx, from, "Could not delete the quiz schema: "+err.Error())
		}
		return transport.SendMessage(ctx, from, "Quiz schema deleted.")

	default:
		return transport.SendMessage(ctx, from, unknownCommandText)
	}
}

func (d *Dispatcher) sendCurrentPrompt(ctx context.Context, tenant models.Tenant, to string, transport messaging.Service) error {
	current, ok := d.deps.Registry.Get(tenant.ID)
	if !ok || current.SystemPrompt == "" {
		return transport.SendMessage(ctx, to, "No system prompt is configured.")
	}
	text := fmt.Sprintf("<b>Current system prompt (tenant %d):</b>\n\n<pre>%s</pre>",
		tenant.ID, html.EscapeString(current.SystemPrompt))
	return transport.SendMessage(ctx, to, text)
}

func (d *Dispatcher) setPrompt(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	newPrompt := strings.TrimSpace(event.Args)
	if newPrompt == "" {
		return transport.SendMessage(ctx, event.From,
			"<b>Error:</b> no prompt text given.\n\n<b>Example:</b> /set_prompt You are a friendly consultant.")
	}
	if err := d.deps.Registry.UpdateSystemPrompt(tenant.ID, newPrompt); err != nil {
		if errors.Is(err, models.ErrSystemPromptTooLong) {
			return transport.SendMessage(ctx, event.From,
				fmt.Sprintf("The prompt is too long (limit %d characters).", models.MaxSystemPromptLength))
		}
		slog.Error("Dispatcher prompt update failed", "tenant_id", tenant.ID, "error", err)
		return transport.SendMessage(ctx, event.From, "Could not update the prompt: "+err.Error())
	}
	if err := transport.SendMessage(ctx, event.From, "System prompt updated."); err != nil {
		return err
	}
	return d.sendCurrentPrompt(ctx, tenant, event.From, transport)
}

// exportLeads runs the spreadsheet export for an explicit or default period.
func (d *Dispatcher) exportLeads(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	from := event.From
	if d.deps.Sheets == nil {
		return transport.SendMessage(ctx, from, "Spreadsheet export is not configured on this server.")
	}
	if tenant.SheetID == "" {
		return transport.SendMessage(ctx, from, "No spreadsheet is configured for this tenant.")
	}

	var fromStr, toStr string
	if args := strings.Fields(event.Args); len(args) == 2 {
		fromStr, toStr = args[0], args[1]
	} else if len(args) != 0 {
		return transport.SendMessage(ctx, from, "Usage: /export_leads or /export_leads 2026-08-01 2026-08-31")
	}

	start, end, title, err := sheets.ResolvePeriod(time.Now(), fromStr, toStr)
	if err != nil {
		return transport.SendMessage(ctx, from, "Export failed: "+err.Error())
	}

	if err := transport.SendMessage(ctx, from, "Starting the export, this can take up to a minute..."); err != nil {
		return err
	}

	leads, err := d.deps.Store.ListLeads(tenant.ID, &start, &end)
	if err != nil {
		slog.Error("Dispatcher lead export query failed", "tenant_id", tenant.ID, "error", err)
		return transport.SendMessage(ctx, from, "Export failed: "+err.Error())
	}
	count, err := d.deps.Sheets.ExportLeads(ctx, tenant.SheetID, title, leads)
	if err != nil {
		slog.Error("Dispatcher sheet export failed", "tenant_id", tenant.ID, "error", err)
		return transport.SendMessage(ctx, from, "Export failed: "+err.Error())
	}
	return transport.SendMessage(ctx, from,
		fmt.Sprintf("Exported %d leads to worksheet %q.", count, title))
}

func (d *Dispatcher) sendLastAnswer(ctx context.Context, tenant models.Tenant, to string, transport messaging.Service) error {
	debug := d.getDebug(tenant.ID)
	if debug == nil {
		return transport.SendMessage(ctx, to, "No debug information recorded yet.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Last answer debug (tenant %d)</b>\n\n", tenant.ID)
	fmt.Fprintf(&b, "<b>Question:</b> %s\n", html.EscapeString(debug.Question))
	fmt.Fprintf(&b, "<b>Elapsed:</b> %s, <b>facts used:</b> %d\n", debug.Elapsed.Round(time.Millisecond), len(debug.Facts))
	if debug.Err != "" {
		fmt.Fprintf(&b, "<b>Generation error:</b> %s\n", html.EscapeString(debug.Err))
	}
	b.WriteString("\n<b>History used:</b>\n")
	if len(debug.History) == 0 {
		b.WriteString("<i>empty</i>\n")
	}
	for _, m := range debug.History {
		fmt.Fprintf(&b, "<b>%s:</b> %s\n", m.Role, html.EscapeString(m.Content))
	}
	return transport.SendMessage(ctx, to, b.String())
}

func (d *Dispatcher) sendQuizSchema(ctx context.Context, tenant models.Tenant, to string, transport messaging.Service) error {
	current, ok := d.deps.Registry.Get(tenant.ID)
	if !ok || !current.HasQuiz() {
		return transport.SendMessage(ctx, to, "No quiz schema is configured yet.")
	}
	pretty, err := json.MarshalIndent(current.QuizSchema, "", "  ")
	if err != nil {
		return transport.SendMessage(ctx, to, "Could not render the quiz schema.")
	}
	text := fmt.Sprintf("<b>Current quiz schema (tenant %d):</b>\n\n<pre>%s</pre>",
		tenant.ID, html.EscapeString(string(pretty)))
	return transport.SendMessage(ctx, to, text)
}

// receiveQuizSchema handles the .json document the manager uploads after
// /quiz_upload. The stored schema is untouched unless the file fully
// validates; on rejection the upload stays pending so they can retry.
func (d *Dispatcher) receiveQuizSchema(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	from := event.From
	data, err := transport.DownloadFile(ctx, event.Document.FileID)
	if err != nil {
		slog.Error("Dispatcher quiz file download failed", "tenant_id", tenant.ID, "error", err)
		return transport.SendMessage(ctx, from, "Could not download the file. Please send it again.")
	}

	schema, err := models.ParseQuizSchema(data)
	if err != nil {
		return transport.SendMessage(ctx, from,
			"Invalid quiz schema: "+err.Error()+"\n\nFix the file and send it again, or /cancel.")
	}

	if err := d.deps.Registry.UpdateQuizSchema(tenant.ID, schema); err != nil {
		slog.Error("Dispatcher quiz schema update failed", "tenant_id", tenant.ID, "error", err)
		return transport.SendMessage(ctx, from, "Could not save the quiz schema: "+err.Error())
	}
	d.clearUploadPending(tenant.ID, from)
	return transport.SendMessage(ctx, from,
		fmt.Sprintf("Quiz schema saved: %d questions.", len(schema)))
}

// formatAnalytics renders the /stats report.
func formatAnalytics(report *models.AnalyticsReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Analytics summary</b>\n\n")
	fmt.Fprintf(&b, "Total users: %d\nTotal leads: %d\n", report.TotalUsers, report.TotalLeads)
	writeBuckets(&b, "Leads by source:", report.LeadsBySource)
	writeBuckets(&b, "Leads by region:", report.LeadsByRegion)
	writeBuckets(&b, "Leads by weekday:", report.LeadsByWeekday)
	writeBuckets(&b, "Users by category:", report.UsersByCategory)
	return strings.TrimRight(b.String(), "\n")
}

func writeBuckets(b *strings.Builder, title string, buckets []models.AnalyticsBucket) {
	if len(buckets) == 0 {
		return
	}
	fmt.Fprintf(b, "\n<b>%s</b>\n", title)
	for _, bucket := range buckets {
		fmt.Fprintf(b, "- %s: %d\n", html.EscapeString(bucket.Name), bucket.Count)
	}
}
