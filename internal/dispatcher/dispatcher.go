// Package dispatcher routes inbound transport events to the right tenant and
// the right handler: guided flows, admin commands, or the free-text answer
// pipeline. One goroutine handles one conversation turn.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leadpilot/leadpilot/internal/events"
	"github.com/leadpilot/leadpilot/internal/flow"
	"github.com/leadpilot/leadpilot/internal/genai"
	"github.com/leadpilot/leadpilot/internal/messaging"
	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/prompt"
	"github.com/leadpilot/leadpilot/internal/registry"
	"github.com/leadpilot/leadpilot/internal/retrieval"
	"github.com/leadpilot/leadpilot/internal/sheets"
	"github.com/leadpilot/leadpilot/internal/store"
	"github.com/openai/openai-go"
)

// Inline option texts. Transports use the text itself as callback data.
const (
	OptionFillForm   = "Fill out the form"
	OptionTakeQuiz   = "Take the quiz"
	OptionContactHum = "Contact a manager"
)

const (
	welcomeText = "Hello! I am your legal AI assistant.\n\n" +
		"Fill out the form to get a personal consultation, or just type your question."
	contactRequestedText = "Your request has been passed to a manager. They will reach out shortly."
	quizCompletedText    = "You have already completed the quiz. Thank you!"
	unknownCommandText   = "I do not know that command. Just type your question and I will try to help."
)

// Generator produces chat completions. Satisfied by genai.Client.
type Generator interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Broadcaster launches broadcast jobs. Satisfied by broadcast.Executor.
type Broadcaster interface {
	Start(job models.BroadcastJob, transport messaging.Service) (string, error)
}

// Deps is the dispatcher's explicit dependency set.
type Deps struct {
	Registry  *registry.Registry
	Store     store.Store
	States    flow.StateManager
	Retriever *retrieval.Retriever
	GenAI     Generator
	Broadcast Broadcaster
	Events    events.Publisher
	Sheets    sheets.LeadExporter // optional; /export_leads reports when absent
}

// turnDebug captures what went into the last generated answer for one tenant.
type turnDebug struct {
	Question string
	History  []models.Message
	Facts    []models.RetrievedFact
	Reply    string
	Err      string
	Elapsed  time.Duration
	At       time.Time
}

// Dispatcher routes events for all tenants.
type Dispatcher struct {
	deps Deps

	leadForm flow.LeadForm
	quiz     flow.Quiz
	wizard   flow.BroadcastWizard

	mu             sync.Mutex
	lastDebug      map[int64]*turnDebug
	awaitingUpload map[string]bool // "tenantID:userID" -> quiz schema upload pending
}

// New creates a dispatcher over the given dependency set.
func New(deps Deps) *Dispatcher {
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	return &Dispatcher{
		deps:           deps,
		lastDebug:      make(map[int64]*turnDebug),
		awaitingUpload: make(map[string]bool),
	}
}

// Serve consumes a transport's event channel until the context ends. Each
// event is handled in its own goroutine.
func (d *Dispatcher) Serve(ctx context.Context, botToken string, transport messaging.Service) {
	slog.Info("Dispatcher.Serve starting", "token_set", botToken != "")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Dispatcher.Serve stopping due to context cancellation")
			return
		case event, ok := <-transport.Events():
			if !ok {
				slog.Debug("Dispatcher.Serve transport event channel closed")
				return
			}
			go func(event models.InboundEvent) {
				if err := d.HandleEvent(ctx, botToken, event, transport); err != nil {
					slog.Error("Dispatcher turn failed", "from", event.From, "error", err)
				}
			}(event)
		}
	}
}

// HandleEvent resolves the tenant and processes one inbound event. Unknown
// tokens are dropped with a warning; the transport has already acknowledged.
func (d *Dispatcher) HandleEvent(ctx context.Context, botToken string, event models.InboundEvent, transport messaging.Service) error {
	tenant, ok := d.deps.Registry.Resolve(botToken)
	if !ok {
		slog.Warn("Dispatcher dropping event for unknown bot token", "from", event.From)
		return nil
	}
	return d.handle(ctx, tenant, event, transport)
}

func (d *Dispatcher) handle(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	from := event.From
	if from == "" {
		return nil
	}
	isManager := tenant.IsManager(from)

	if event.IsCommand() {
		return d.handleCommand(ctx, tenant, event, transport, isManager)
	}

	// Pending quiz schema upload takes the next document from the manager.
	if isManager && event.Document != nil && d.uploadPending(tenant.ID, from) {
		return d.receiveQuizSchema(ctx, tenant, event, transport)
	}

	// An active flow consumes any non-command input.
	active, err := d.deps.States.Active(tenant.ID, from)
	if err != nil {
		return fmt.Errorf("failed to load flow state for %s: %w", from, err)
	}
	if active != nil {
		return d.advanceFlow(ctx, tenant, *active, event, transport, isManager)
	}

	if event.Callback != "" {
		return d.handleCallback(ctx, tenant, event, transport)
	}

	if strings.TrimSpace(event.Text) == "" {
		return nil
	}
	return d.answerTurn(ctx, tenant, event, transport)
}

// handleCallback routes inline button presses outside of any active flow.
func (d *Dispatcher) handleCallback(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	switch event.Callback {
	case OptionFillForm:
		return d.startFlow(ctx, tenant, event.From, models.FlowTypeLeadForm, transport)
	case OptionTakeQuiz:
		return d.startQuiz(ctx, tenant, event.From, transport)
	case OptionContactHum:
		return d.contactManager(ctx, tenant, event, transport)
	default:
		slog.Debug("Dispatcher ignoring stray callback", "data", event.Callback, "from", event.From)
		return nil
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service, isManager bool) error {
	switch event.Command {
	case "start":
		return d.handleStart(ctx, tenant, event, transport)
	case "form":
		return d.startFlow(ctx, tenant, event.From, models.FlowTypeLeadForm, transport)
	case "quiz":
		return d.startQuiz(ctx, tenant, event.From, transport)
	case "cancel":
		return d.handleCancel(ctx, tenant, event, transport, isManager)
	}

	// Flow-local commands like /skip go to the active flow first.
	active, err := d.deps.States.Active(tenant.ID, event.From)
	if err != nil {
		return fmt.Errorf("failed to load flow state for %s: %w", event.From, err)
	}
	if active != nil && (!isManager || event.Command == "skip") {
		return d.advanceFlow(ctx, tenant, *active, event, transport, isManager)
	}
	if isManager {
		return d.handleAdminCommand(ctx, tenant, event, transport)
	}
	return transport.SendMessage(ctx, event.From, unknownCommandText)
}

// handleStart upserts the user (capturing the UTM tag from the deep link
// argument) and sends the welcome menu. Any active flow is discarded.
func (d *Dispatcher) handleStart(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	utm := strings.TrimSpace(event.Args)
	if err := d.deps.Store.SaveUser(models.User{
		TenantID:   tenant.ID,
		ExternalID: event.From,
		Username:   event.Username,
		FirstName:  event.FirstName,
		UTMSource:  utm,
	}); err != nil {
		slog.Error("Dispatcher user save failed", "tenant_id", tenant.ID, "from", event.From, "error", err)
	}

	for _, ft := range []models.FlowType{models.FlowTypeLeadForm, models.FlowTypeQuiz, models.FlowTypeBroadcastWizard} {
		if err := d.deps.States.Reset(tenant.ID, event.From, ft); err != nil {
			slog.Warn("Dispatcher flow reset failed", "flow", ft, "error", err)
		}
	}
	d.clearUploadPending(tenant.ID, event.From)

	options := []string{OptionFillForm}
	if tenant.HasQuiz() {
		options = append(options, OptionTakeQuiz)
	}
	options = append(options, OptionContactHum)
	return transport.SendOptions(ctx, event.From, welcomeText, options)
}

func (d *Dispatcher) handleCancel(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service, isManager bool) error {
	if isManager && d.uploadPending(tenant.ID, event.From) {
		d.clearUploadPending(tenant.ID, event.From)
		return transport.SendMessage(ctx, event.From, "Quiz upload cancelled.")
	}
	active, err := d.deps.States.Active(tenant.ID, event.From)
	if err != nil {
		return fmt.Errorf("failed to load flow state for %s: %w", event.From, err)
	}
	if active == nil {
		return transport.SendMessage(ctx, event.From, "Nothing to cancel. Just type your question.")
	}
	return d.advanceFlow(ctx, tenant, *active, event, transport, isManager)
}

// startFlow begins a flow for the user and performs its opening effects.
// Flows are mutually exclusive per user, so any other in-flight flow is
// dropped first; otherwise its stale state would capture this flow's input.
func (d *Dispatcher) startFlow(ctx context.Context, tenant models.Tenant, userID string, flowType models.FlowType, transport messaging.Service) error {
	for _, ft := range []models.FlowType{models.FlowTypeLeadForm, models.FlowTypeQuiz, models.FlowTypeBroadcastWizard} {
		if ft == flowType {
			continue
		}
		if err := d.deps.States.Reset(tenant.ID, userID, ft); err != nil {
			slog.Warn("Dispatcher flow reset failed", "flow", ft, "error", err)
		}
	}

	var res flow.Result
	switch flowType {
	case models.FlowTypeLeadForm:
		res = d.leadForm.Start(tenant, userID)
	case models.FlowTypeQuiz:
		res = d.quiz.Start(tenant, userID)
	case models.FlowTypeBroadcastWizard:
		res = d.wizard.Start(tenant, userID)
	default:
		return fmt.Errorf("unknown flow type %q", flowType)
	}
	return d.applyResult(ctx, tenant, userID, flowType, res, transport)
}

// startQuiz gates quiz entry on availability and prior completion.
func (d *Dispatcher) startQuiz(ctx context.Context, tenant models.Tenant, userID string, transport messaging.Service) error {
	user, err := d.deps.Store.GetUser(tenant.ID, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user != nil && user.QuizDone() {
		return transport.SendMessage(ctx, userID, quizCompletedText)
	}
	return d.startFlow(ctx, tenant, userID, models.FlowTypeQuiz, transport)
}

// advanceFlow applies one input to the user's active flow. The broadcast
// wizard only moves for the tenant's manager; anyone else is bounced out.
func (d *Dispatcher) advanceFlow(ctx context.Context, tenant models.Tenant, state models.FlowState, event models.InboundEvent, transport messaging.Service, isManager bool) error {
	var res flow.Result
	switch state.FlowType {
	case models.FlowTypeLeadForm:
		res = d.leadForm.Advance(tenant, state, event)
	case models.FlowTypeQuiz:
		res = d.quiz.Advance(tenant, state, event)
	case models.FlowTypeBroadcastWizard:
		if !isManager {
			if err := d.deps.States.Reset(tenant.ID, event.From, state.FlowType); err != nil {
				slog.Warn("Dispatcher wizard reset failed", "error", err)
			}
			return nil
		}
		res = d.wizard.Advance(tenant, state, event)
	default:
		return d.deps.States.Reset(tenant.ID, event.From, state.FlowType)
	}
	return d.applyResult(ctx, tenant, event.From, state.FlowType, res, transport)
}

// applyResult persists the next state (or deletes a finished one) and then
// performs the transition's effects in order.
func (d *Dispatcher) applyResult(ctx context.Context, tenant models.Tenant, userID string, flowType models.FlowType, res flow.Result, transport messaging.Service) error {
	if res.Next != nil {
		if err := d.deps.States.Save(*res.Next); err != nil {
			return fmt.Errorf("failed to save flow state: %w", err)
		}
	} else {
		if err := d.deps.States.Reset(tenant.ID, userID, flowType); err != nil {
			return fmt.Errorf("failed to reset flow state: %w", err)
		}
	}
	return d.performEffects(ctx, tenant, userID, res.Effects, transport)
}

func (d *Dispatcher) performEffects(ctx context.Context, tenant models.Tenant, userID string, effects []flow.Effect, transport messaging.Service) error {
	for _, effect := range effects {
		switch effect.Kind {
		case flow.EffectSendText:
			var err error
			if len(effect.Options) > 0 {
				err = transport.SendOptions(ctx, userID, effect.Text, effect.Options)
			} else {
				err = transport.SendMessage(ctx, userID, effect.Text)
			}
			if err != nil {
				return fmt.Errorf("failed to deliver flow reply: %w", err)
			}

		case flow.EffectSendMedia:
			if effect.Media == nil {
				continue
			}
			if err := transport.SendMedia(ctx, userID, *effect.Media, effect.Text); err != nil {
				slog.Warn("Dispatcher media delivery failed", "to", userID, "error", err)
			}

		case flow.EffectSaveLead:
			if effect.Lead == nil {
				continue
			}
			lead := *effect.Lead
			if user, err := d.deps.Store.GetUser(tenant.ID, userID); err == nil && user != nil {
				lead.UTMSource = user.UTMSource
			}
			if err := d.deps.Store.AddLead(lead); err != nil {
				return fmt.Errorf("failed to save lead: %w", err)
			}
			if err := d.deps.Events.LeadCreated(ctx, events.LeadCreatedEvent{
				TenantID:  tenant.ID,
				UserID:    userID,
				Lead:      lead,
				CreatedAt: time.Now(),
			}); err != nil {
				slog.Warn("Dispatcher lead event publish failed", "tenant_id", tenant.ID, "error", err)
			}

		case flow.EffectSaveQuizResults:
			if err := d.deps.Store.SaveQuizResults(tenant.ID, userID, effect.QuizResults); err != nil {
				return fmt.Errorf("failed to save quiz results: %w", err)
			}

		case flow.EffectNotifyManager:
			if tenant.ManagerContact == "" {
				slog.Warn("Dispatcher manager notification skipped, no contact configured", "tenant_id", tenant.ID)
				continue
			}
			if err := transport.SendMessage(ctx, tenant.ManagerContact, effect.Text); err != nil {
				slog.Warn("Dispatcher manager notification failed", "tenant_id", tenant.ID, "error", err)
			}

		case flow.EffectStartBroadcast:
			if effect.Broadcast == nil {
				continue
			}
			jobID, err := d.deps.Broadcast.Start(*effect.Broadcast, transport)
			if err != nil {
				if sendErr := transport.SendMessage(ctx, userID, "Could not start the broadcast: "+err.Error()); sendErr != nil {
					slog.Warn("Dispatcher broadcast error report failed", "error", sendErr)
				}
				continue
			}
			slog.Info("Dispatcher broadcast launched", "tenant_id", tenant.ID, "job_id", jobID)
		}
	}
	return nil
}

// contactManager forwards a human-contact request to the tenant's manager.
func (d *Dispatcher) contactManager(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	who := event.From
	if event.Username != "" {
		who = "@" + event.Username + " (" + event.From + ")"
	}
	if tenant.ManagerContact != "" {
		text := fmt.Sprintf("<b>Contact request from %s</b>\n\nPlease reach out to this user.", who)
		if err := transport.SendMessage(ctx, tenant.ManagerContact, text); err != nil {
			slog.Warn("Dispatcher contact request delivery failed", "tenant_id", tenant.ID, "error", err)
		}
	} else {
		slog.Warn("Dispatcher contact request with no manager configured", "tenant_id", tenant.ID)
	}
	return transport.SendMessage(ctx, event.From, contactRequestedText)
}

// answerTurn runs the free-text pipeline: classify once, persist, retrieve,
// generate, sanitize, persist, reply. A generation failure degrades to the
// fixed fallback text for this turn only.
func (d *Dispatcher) answerTurn(ctx context.Context, tenant models.Tenant, event models.InboundEvent, transport messaging.Service) error {
	from := event.From
	question := strings.TrimSpace(event.Text)

	user, err := d.deps.Store.GetUser(tenant.ID, from)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", from, err)
	}
	if user == nil {
		user = &models.User{
			TenantID:   tenant.ID,
			ExternalID: from,
			Username:   event.Username,
			FirstName:  event.FirstName,
		}
		if err := d.deps.Store.SaveUser(*user); err != nil {
			slog.Error("Dispatcher user save failed", "tenant_id", tenant.ID, "from", from, "error", err)
		}
	}

	if user.Category == "" {
		if category := d.classify(ctx, question); category != "" {
			if err := d.deps.Store.SetUserCategory(tenant.ID, from, category); err != nil {
				slog.Warn("Dispatcher category save failed", "tenant_id", tenant.ID, "error", err)
			}
		}
	}

	// History is read before the new question lands so the prompt does not
	// carry it twice.
	history, err := d.deps.Store.RecentMessages(tenant.ID, from, prompt.DefaultHistoryWindow)
	if err != nil {
		slog.Warn("Dispatcher history load failed", "tenant_id", tenant.ID, "error", err)
	}
	if err := d.deps.Store.AddMessage(models.Message{
		TenantID: tenant.ID, UserID: from, Role: models.RoleUser, Content: question,
	}); err != nil {
		slog.Error("Dispatcher message save failed", "tenant_id", tenant.ID, "error", err)
	}

	facts := d.deps.Retriever.Retrieve(ctx, tenant.ID, question)

	var quizResults []models.QuizResult
	if user.QuizDone() {
		quizResults = user.QuizResults
	}
	messages := prompt.Build(tenant.SystemPrompt, history, quizResults, facts, question)

	started := time.Now()
	reply, genErr := d.deps.GenAI.Complete(ctx, messages)
	elapsed := time.Since(started)

	debug := &turnDebug{
		Question: question,
		History:  history,
		Facts:    facts,
		Elapsed:  elapsed,
		At:       time.Now(),
	}
	if genErr != nil {
		debug.Err = genErr.Error()
		slog.Error("Dispatcher generation failed", "tenant_id", tenant.ID, "from", from,
			"elapsed", elapsed, "facts", len(facts), "error", genErr)
		reply = genai.FallbackReply
	} else {
		reply = prompt.Sanitize(reply)
		if err := d.deps.Store.AddMessage(models.Message{
			TenantID: tenant.ID, UserID: from, Role: models.RoleAssistant, Content: reply,
		}); err != nil {
			slog.Error("Dispatcher reply save failed", "tenant_id", tenant.ID, "error", err)
		}
	}
	debug.Reply = reply
	d.setDebug(tenant.ID, debug)

	// Nudge toward the quiz until the user completes it.
	if tenant.HasQuiz() && !user.QuizDone() {
		return transport.SendOptions(ctx, from, reply, []string{OptionTakeQuiz})
	}
	return transport.SendMessage(ctx, from, reply)
}

// Classification categories assigned from the user's first message.
var categories = []string{"bankruptcy", "debt", "collectors", "other"}

// classify assigns a coarse topic to the user's first question. Best effort;
// an empty result means no category is recorded this turn.
func (d *Dispatcher) classify(ctx context.Context, question string) string {
	instruction := "Classify the user's message into exactly one of these categories: " +
		strings.Join(categories, ", ") +
		". Reply with the single category word and nothing else."
	reply, err := d.deps.GenAI.Complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(instruction),
		openai.UserMessage(question),
	})
	if err != nil {
		slog.Warn("Dispatcher classification failed", "error", err)
		return ""
	}
	got := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(reply)), ".")
	for _, c := range categories {
		if got == c {
			return c
		}
	}
	slog.Debug("Dispatcher classification returned unknown category", "reply", reply)
	return "other"
}

func (d *Dispatcher) setDebug(tenantID int64, debug *turnDebug) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastDebug[tenantID] = debug
}

func (d *Dispatcher) getDebug(tenantID int64) *turnDebug {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDebug[tenantID]
}

func uploadKey(tenantID int64, userID string) string {
	return fmt.Sprintf("%d:%s", tenantID, userID)
}

func (d *Dispatcher) uploadPending(tenantID int64, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.awaitingUpload[uploadKey(tenantID, userID)]
}

func (d *Dispatcher) setUploadPending(tenantID int64, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.awaitingUpload[uploadKey(tenantID, userID)] = true
}

func (d *Dispatcher) clearUploadPending(tenantID int64, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.awaitingUpload, uploadKey(tenantID, userID))
}
