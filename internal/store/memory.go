// Package store provides storage backends for LeadPilot.
//
// This file implements an in-memory store used by tests and small demos.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
)

type flowKey struct {
	tenantID int64
	userID   string
	flowType models.FlowType
}

type userKey struct {
	tenantID   int64
	externalID string
}

// InMemoryStore keeps everything in maps guarded by one mutex. It implements
// the full Store interface.
type InMemoryStore struct {
	mu         sync.Mutex
	tenants    map[int64]models.Tenant
	users      map[userKey]models.User
	messages   []models.Message
	leads      []models.Lead
	chunks     []models.KnowledgeChunk
	flowStates map[flowKey]models.FlowState
	nextMsgID  int64
	nextLeadID int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tenants:    make(map[int64]models.Tenant),
		users:      make(map[userKey]models.User),
		flowStates: make(map[flowKey]models.FlowState),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// AddTenant seeds a tenant. Not part of the Store interface; tenants are
// provisioned out of band in persistent backends.
func (s *InMemoryStore) AddTenant(t models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.tenants[t.ID] = t
}

// AddChunk seeds a knowledge chunk. Not part of the Store interface; chunks
// are written by the external ingestion process in persistent backends.
func (s *InMemoryStore) AddChunk(c models.KnowledgeChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = int64(len(s.chunks) + 1)
	s.chunks = append(s.chunks, c)
}

func (s *InMemoryStore) ListTenants() ([]models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenants := make([]models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants, nil
}

func (s *InMemoryStore) UpdateTenantSystemPrompt(tenantID int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return models.ErrUnknownTenant
	}
	t.SystemPrompt = prompt
	s.tenants[tenantID] = t
	return nil
}

func (s *InMemoryStore) UpdateTenantQuizSchema(tenantID int64, schema models.QuizSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return models.ErrUnknownTenant
	}
	t.QuizSchema = schema
	s.tenants[tenantID] = t
	return nil
}

func (s *InMemoryStore) GetUser(tenantID int64, externalID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userKey{tenantID, externalID}]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *InMemoryStore) SaveUser(u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey{u.TenantID, u.ExternalID}
	if existing, ok := s.users[key]; ok {
		existing.Username = u.Username
		existing.FirstName = u.FirstName
		s.users[key] = existing
		return nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[key] = u
	return nil
}

func (s *InMemoryStore) SetUserCategory(tenantID int64, externalID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey{tenantID, externalID}
	if u, ok := s.users[key]; ok {
		u.Category = category
		s.users[key] = u
	}
	return nil
}

func (s *InMemoryStore) SaveQuizResults(tenantID int64, externalID string, results []models.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey{tenantID, externalID}
	u, ok := s.users[key]
	if !ok || u.QuizCompletedAt != nil {
		return nil
	}
	now := time.Now()
	u.QuizResults = results
	u.QuizCompletedAt = &now
	s.users[key] = u
	return nil
}

func (s *InMemoryStore) ClearQuizResults(tenantID int64, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey{tenantID, externalID}
	if u, ok := s.users[key]; ok {
		u.QuizResults = nil
		u.QuizCompletedAt = nil
		s.users[key] = u
	}
	return nil
}

func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	m.ID = s.nextMsgID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) RecentMessages(tenantID int64, userID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var msgs []models.Message
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.UserID == userID {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *InMemoryStore) AddLead(l models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLeadID++
	l.ID = s.nextLeadID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	s.leads = append(s.leads, l)
	return nil
}

func (s *InMemoryStore) ListLeads(tenantID int64, from, to *time.Time) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var leads []models.Lead
	for _, l := range s.leads {
		if l.TenantID != tenantID {
			continue
		}
		if from != nil && l.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && !l.CreatedAt.Before(*to) {
			continue
		}
		leads = append(leads, l)
	}
	return leads, nil
}

func (s *InMemoryStore) LeadRecipients(tenantID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, l := range s.leads {
		if l.TenantID == tenantID && !seen[l.UserID] {
			seen[l.UserID] = true
			ids = append(ids, l.UserID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) SearchChunks(tenantID int64, embedding []float64, limit int, minScore float64) ([]models.RetrievedFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	var facts []models.RetrievedFact
	for _, c := range s.chunks {
		if c.TenantID != tenantID || len(c.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(embedding, c.Embedding)
		if score >= minScore {
			facts = append(facts, models.RetrievedFact{Content: c.Content, Score: score})
		}
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].Score > facts[j].Score })
	if len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

func (s *InMemoryStore) SaveFlowState(state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[flowKey{state.TenantID, state.UserID, state.FlowType}] = state
	return nil
}

func (s *InMemoryStore) GetFlowState(tenantID int64, userID string, flowType models.FlowType) (*models.FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.flowStates[flowKey{tenantID, userID, flowType}]
	if !ok {
		return nil, nil
	}
	// Copy state data so callers cannot mutate the stored map.
	if state.StateData != nil {
		data := make(map[string]string, len(state.StateData))
		for k, v := range state.StateData {
			data[k] = v
		}
		state.StateData = data
	}
	return &state, nil
}

func (s *InMemoryStore) DeleteFlowState(tenantID int64, userID string, flowType models.FlowType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowKey{tenantID, userID, flowType})
	return nil
}

func (s *InMemoryStore) Analytics(tenantID int64) (*models.AnalyticsReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := &models.AnalyticsReport{TenantID: tenantID, GeneratedAt: time.Now()}
	bySource := make(map[string]int)
	byRegion := make(map[string]int)
	byWeekday := make(map[string]int)
	for _, l := range s.leads {
		if l.TenantID != tenantID {
			continue
		}
		report.TotalLeads++
		bySource[orUnknown(l.UTMSource, "unknown")]++
		byRegion[orUnknown(l.Region, "unknown")]++
		byWeekday[l.CreatedAt.Weekday().String()]++
	}
	byCategory := make(map[string]int)
	for key, u := range s.users {
		if key.tenantID != tenantID {
			continue
		}
		report.TotalUsers++
		byCategory[orUnknown(u.Category, "unclassified")]++
	}
	report.LeadsBySource = bucketize(bySource)
	report.LeadsByRegion = bucketize(byRegion)
	report.LeadsByWeekday = bucketize(byWeekday)
	report.UsersByCategory = bucketize(byCategory)
	return report, nil
}

func orUnknown(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func bucketize(m map[string]int) []models.AnalyticsBucket {
	var buckets []models.AnalyticsBucket
	for name, count := range m {
		buckets = append(buckets, models.AnalyticsBucket{Name: name, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Name < buckets[j].Name
	})
	return buckets
}
