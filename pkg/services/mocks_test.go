package services

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/config"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/repositories"
)

// memState is the full contents of the in-memory backing store.
type memState struct {
	suggestions   map[uuid.UUID]models.Suggestion
	entities      map[uuid.UUID]models.Entity
	relationships map[uuid.UUID]models.Relationship
	memories      map[uuid.UUID]models.Memory
	documents     map[uuid.UUID]models.Document
	// relOrder keeps relationship insertion order for deterministic listings.
	relOrder []uuid.UUID
}

func (s memState) clone() memState {
	c := memState{
		suggestions:   make(map[uuid.UUID]models.Suggestion, len(s.suggestions)),
		entities:      make(map[uuid.UUID]models.Entity, len(s.entities)),
		relationships: make(map[uuid.UUID]models.Relationship, len(s.relationships)),
		memories:      make(map[uuid.UUID]models.Memory, len(s.memories)),
		documents:     make(map[uuid.UUID]models.Document, len(s.documents)),
		relOrder:      slices.Clone(s.relOrder),
	}
	for k, v := range s.suggestions {
		c.suggestions[k] = v
	}
	for k, v := range s.entities {
		c.entities[k] = v
	}
	for k, v := range s.relationships {
		c.relationships[k] = v
	}
	for k, v := range s.memories {
		c.memories[k] = v
	}
	for k, v := range s.documents {
		c.documents[k] = v
	}
	return c
}

// memStore implements every repository over memState. Reads return copies.
type memStore struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time

	// failWrite, when set, is returned by the next backing-store write.
	failWrite error
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			suggestions:   map[uuid.UUID]models.Suggestion{},
			entities:      map[uuid.UUID]models.Entity{},
			relationships: map[uuid.UUID]models.Relationship{},
			memories:      map[uuid.UUID]models.Memory{},
			documents:     map[uuid.UUID]models.Document{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (m *memStore) takeFailure() error {
	err := m.failWrite
	m.failWrite = nil
	return err
}

// memTxRunner serializes transactions and restores the pre-transaction state on error.
type memTxRunner struct {
	txMu  sync.Mutex
	store *memStore
}

func (r *memTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.store.mu.Lock()
	snapshot := r.store.state.clone()
	r.store.mu.Unlock()

	if err := fn(ctx); err != nil {
		r.store.mu.Lock()
		r.store.state = snapshot
		r.store.mu.Unlock()
		return err
	}
	return nil
}

// suggestions

type memSuggestionRepo struct{ *memStore }

var _ repositories.SuggestionRepository = memSuggestionRepo{}

func cloneSuggestion(s models.Suggestion) *models.Suggestion {
	c := s
	c.ApprovalReasons = slices.Clone(s.ApprovalReasons)
	if s.Resolution != nil {
		r := *s.Resolution
		c.Resolution = &r
	}
	if s.TargetID != nil {
		id := *s.TargetID
		c.TargetID = &id
	}
	if s.BaseRevision != nil {
		b := *s.BaseRevision
		c.BaseRevision = &b
	}
	if s.Preflight != nil {
		pf := *s.Preflight
		c.Preflight = &pf
	}
	if s.Result != nil {
		res := *s.Result
		c.Result = &res
	}
	return &c
}

func (r memSuggestionRepo) Create(_ context.Context, s *models.Suggestion) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.state.suggestions {
		if existing.ProjectID == s.ProjectID && existing.ToolCallID == s.ToolCallID {
			*s = *cloneSuggestion(existing)
			return false, nil
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := r.now()
	s.Status = models.StatusProposed
	s.CreatedAt, s.UpdatedAt = now, now
	if s.ApprovalReasons == nil {
		s.ApprovalReasons = []string{}
	}
	r.state.suggestions[s.ID] = *cloneSuggestion(*s)
	return true, nil
}

func (r memSuggestionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.suggestions[id]
	if !ok {
		return nil, nil
	}
	return cloneSuggestion(s), nil
}

func (r memSuggestionRepo) GetByToolCallID(_ context.Context, projectID uuid.UUID, toolCallID string) (*models.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.state.suggestions {
		if s.ProjectID == projectID && s.ToolCallID == toolCallID {
			return cloneSuggestion(s), nil
		}
	}
	return nil, nil
}

// newestFirst orders by (created_at, id) descending, as the SQL listing does.
func newestFirst(items []*models.Suggestion) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return bytes.Compare(items[i].ID[:], items[j].ID[:]) > 0
	})
}

func before(s *models.Suggestion, c *models.SuggestionCursor) bool {
	if !s.CreatedAt.Equal(c.CreatedAt) {
		return s.CreatedAt.Before(c.CreatedAt)
	}
	return bytes.Compare(s.ID[:], c.ID[:]) < 0
}

func (r memSuggestionRepo) List(_ context.Context, projectID uuid.UUID, filter models.SuggestionFilter) ([]*models.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*models.Suggestion
	for _, s := range r.state.suggestions {
		if s.ProjectID != projectID {
			continue
		}
		if filter.Status != "" && filter.Status != models.StatusAll && s.Status != filter.Status {
			continue
		}
		c := cloneSuggestion(s)
		if filter.After != nil && !before(c, filter.After) {
			continue
		}
		items = append(items, c)
	}
	newestFirst(items)
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (r memSuggestionRepo) ListByTarget(_ context.Context, projectID, targetID uuid.UUID, limit int) ([]*models.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*models.Suggestion
	for _, s := range r.state.suggestions {
		if s.ProjectID == projectID && s.TargetID != nil && *s.TargetID == targetID {
			items = append(items, cloneSuggestion(s))
		}
	}
	newestFirst(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r memSuggestionRepo) CountByStatus(_ context.Context, projectID uuid.UUID) (models.StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := models.StatusCounts{}
	for _, s := range r.state.suggestions {
		if s.ProjectID == projectID {
			counts[s.Status]++
		}
	}
	return counts, nil
}

func (r memSuggestionRepo) RecordPreflight(_ context.Context, id uuid.UUID, pf *models.Preflight, baseRevision *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.suggestions[id]
	if !ok {
		return nil
	}
	c := *pf
	s.Preflight = &c
	if baseRevision != nil {
		b := *baseRevision
		s.BaseRevision = &b
	}
	if s.TargetID == nil && pf.ResolvedTargetID != nil {
		tid := *pf.ResolvedTargetID
		s.TargetID = &tid
	}
	s.UpdatedAt = r.now()
	r.state.suggestions[id] = s
	return nil
}

func (r memSuggestionRepo) Transition(_ context.Context, id uuid.UUID, from, to models.SuggestionStatus, resolution models.Resolution, reviewedBy string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.suggestions[id]
	if !ok || s.Status != from {
		return false, nil
	}
	if s.Resolution != nil && *s.Resolution != models.ResolutionExecutionFailed {
		return false, nil
	}
	now := r.now()
	s.Status = to
	s.Resolution = &resolution
	if reviewedBy != "" {
		s.ReviewedBy = &reviewedBy
	}
	s.ResolvedAt = &now
	s.UpdatedAt = now
	r.state.suggestions[id] = s
	return true, nil
}

func (r memSuggestionRepo) SaveResult(_ context.Context, id uuid.UUID, result *models.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state.suggestions[id]
	res := *result
	s.Result = &res
	if s.TargetID == nil && result.TargetID != nil {
		tid := *result.TargetID
		s.TargetID = &tid
	}
	s.UpdatedAt = r.now()
	r.state.suggestions[id] = s
	return nil
}

func (r memSuggestionRepo) RecordExecutionFailure(_ context.Context, id uuid.UUID, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.suggestions[id]
	if !ok || s.Status != models.StatusProposed {
		return false, nil
	}
	res := models.ResolutionExecutionFailed
	s.Resolution = &res
	s.ErrorMessage = &message
	s.UpdatedAt = r.now()
	r.state.suggestions[id] = s
	return true, nil
}

func (r memSuggestionRepo) MarkRolledBack(_ context.Context, id uuid.UUID, actor string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.suggestions[id]
	if !ok || s.Status != models.StatusAccepted || s.CurrentResolution() != models.ResolutionExecuted {
		return false, nil
	}
	res := models.ResolutionRolledBack
	s.Status = models.StatusResolved
	s.Resolution = &res
	s.RolledBackBy = &actor
	s.RolledBackAt = &at
	s.UpdatedAt = r.now()
	r.state.suggestions[id] = s
	return true, nil
}

// entities

type memEntityRepo struct{ *memStore }

var _ repositories.EntityRepository = memEntityRepo{}

func cloneEntity(e models.Entity) *models.Entity {
	e.Aliases = slices.Clone(e.Aliases)
	return &e
}

func (r memEntityRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.state.entities[id]
	if !ok {
		return nil, nil
	}
	return cloneEntity(e), nil
}

// sortedEntities returns project entities ordered by name.
func (m *memStore) sortedEntities(projectID uuid.UUID) []models.Entity {
	var out []models.Entity
	for _, e := range m.state.entities {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r memEntityRepo) GetByName(_ context.Context, projectID uuid.UUID, name string) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.sortedEntities(projectID) {
		if strings.EqualFold(e.Name, name) {
			return cloneEntity(e), nil
		}
	}
	return nil, nil
}

func (r memEntityRepo) GetByAlias(_ context.Context, projectID uuid.UUID, alias string) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.sortedEntities(projectID) {
		for _, a := range e.Aliases {
			if strings.EqualFold(a, alias) {
				return cloneEntity(e), nil
			}
		}
	}
	return nil, nil
}

func (r memEntityRepo) Search(_ context.Context, projectID uuid.UUID, terms []string, limit int) ([]*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Entity
	for _, e := range r.sortedEntities(projectID) {
		haystack := strings.ToLower(e.Name + " " + strings.Join(e.Aliases, " "))
		for _, term := range terms {
			if strings.Contains(haystack, strings.ToLower(term)) {
				out = append(out, cloneEntity(e))
				break
			}
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) nameTaken(projectID, self uuid.UUID, name string) bool {
	for _, e := range m.state.entities {
		if e.ProjectID == projectID && e.ID != self && strings.EqualFold(e.Name, name) {
			return true
		}
	}
	return false
}

func (r memEntityRepo) Create(_ context.Context, e *models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	if r.nameTaken(e.ProjectID, e.ID, e.Name) {
		return apperrors.Conflict("an entity named %q already exists", e.Name)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := r.now()
	e.Revision, e.CreatedAt, e.UpdatedAt = 1, now, now
	r.state.entities[e.ID] = *cloneEntity(*e)
	return nil
}

func (r memEntityRepo) Update(_ context.Context, e *models.Entity, expectedRevision int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	stored, ok := r.state.entities[e.ID]
	if !ok || stored.Revision != expectedRevision {
		return apperrors.Conflict("entity %q changed since revision %d", e.Name, expectedRevision)
	}
	if r.nameTaken(e.ProjectID, e.ID, e.Name) {
		return apperrors.Conflict("an entity named %q already exists", e.Name)
	}
	e.Revision = stored.Revision + 1
	e.UpdatedAt = r.now()
	e.CreatedAt = stored.CreatedAt
	r.state.entities[e.ID] = *cloneEntity(*e)
	return nil
}

func (r memEntityRepo) Delete(_ context.Context, id uuid.UUID, expectedRevision int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	for _, rel := range r.state.relationships {
		if rel.SourceEntityID == id || rel.TargetEntityID == id {
			return apperrors.New(apperrors.ErrCascadeRequired, "entity is still referenced by relationships")
		}
	}
	stored, ok := r.state.entities[id]
	if !ok || stored.Revision != expectedRevision {
		return apperrors.Conflict("entity %s changed or was removed since revision %d", id, expectedRevision)
	}
	delete(r.state.entities, id)
	return nil
}

// relationships

type memRelationshipRepo struct{ *memStore }

var _ repositories.RelationshipRepository = memRelationshipRepo{}

// named fills the joined endpoint names.
func (m *memStore) named(rel models.Relationship) models.Relationship {
	rel.SourceName = m.state.entities[rel.SourceEntityID].Name
	rel.TargetName = m.state.entities[rel.TargetEntityID].Name
	return rel
}

func (r memRelationshipRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Relationship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.state.relationships[id]
	if !ok {
		return nil, nil
	}
	rel = r.named(rel)
	return &rel, nil
}

func (r memRelationshipRepo) FindByEndpoints(_ context.Context, sourceID, targetID uuid.UUID, relType string) (*models.Relationship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.state.relOrder {
		rel, ok := r.state.relationships[id]
		if ok && rel.SourceEntityID == sourceID && rel.TargetEntityID == targetID && strings.EqualFold(rel.Type, relType) {
			rel = r.named(rel)
			return &rel, nil
		}
	}
	return nil, nil
}

func (m *memStore) touching(entityID uuid.UUID) []models.Relationship {
	var out []models.Relationship
	for _, id := range m.state.relOrder {
		rel, ok := m.state.relationships[id]
		if ok && (rel.SourceEntityID == entityID || rel.TargetEntityID == entityID) {
			out = append(out, m.named(rel))
		}
	}
	return out
}

func (r memRelationshipRepo) ListByEntity(_ context.Context, entityID uuid.UUID, limit int) ([]models.Relationship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.touching(entityID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memRelationshipRepo) CountByEntity(_ context.Context, entityID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.touching(entityID)), nil
}

func (r memRelationshipRepo) Create(_ context.Context, rel *models.Relationship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	_, srcOK := r.state.entities[rel.SourceEntityID]
	_, dstOK := r.state.entities[rel.TargetEntityID]
	if !srcOK || !dstOK {
		return apperrors.NotFound("relationship endpoint no longer exists")
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	now := r.now()
	rel.Revision, rel.CreatedAt, rel.UpdatedAt = 1, now, now
	stored := *rel
	stored.SourceName, stored.TargetName = "", ""
	r.state.relationships[rel.ID] = stored
	r.state.relOrder = append(r.state.relOrder, rel.ID)
	return nil
}

func (r memRelationshipRepo) Update(_ context.Context, rel *models.Relationship, expectedRevision int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	stored, ok := r.state.relationships[rel.ID]
	if !ok || stored.Revision != expectedRevision {
		return apperrors.Conflict("relationship changed since revision %d", expectedRevision)
	}
	stored.Type, stored.Description = rel.Type, rel.Description
	stored.Revision++
	stored.UpdatedAt = r.now()
	r.state.relationships[rel.ID] = stored
	rel.Revision, rel.UpdatedAt = stored.Revision, stored.UpdatedAt
	return nil
}

func (r memRelationshipRepo) Delete(_ context.Context, id uuid.UUID, expectedRevision int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	stored, ok := r.state.relationships[id]
	if !ok || stored.Revision != expectedRevision {
		return apperrors.Conflict("relationship changed or was removed since revision %d", expectedRevision)
	}
	delete(r.state.relationships, id)
	return nil
}

func (r memRelationshipRepo) DeleteByEntity(_ context.Context, entityID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rel := range r.state.relationships {
		if rel.SourceEntityID == entityID || rel.TargetEntityID == entityID {
			delete(r.state.relationships, id)
			n++
		}
	}
	return n, nil
}

// memories and documents

type memMemoryRepo struct{ *memStore }

var _ repositories.MemoryRepository = memMemoryRepo{}

func (r memMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem, ok := r.state.memories[id]
	if !ok {
		return nil, nil
	}
	return &mem, nil
}

func (r memMemoryRepo) Create(_ context.Context, mem *models.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	now := r.now()
	mem.Revision, mem.CreatedAt, mem.UpdatedAt = 1, now, now
	r.state.memories[mem.ID] = *mem
	return nil
}

func (r memMemoryRepo) Update(_ context.Context, mem *models.Memory, expectedRevision int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	stored, ok := r.state.memories[mem.ID]
	if !ok || stored.Revision != expectedRevision {
		return apperrors.Conflict("memory changed since revision %d", expectedRevision)
	}
	stored.Content, stored.Pinned = mem.Content, mem.Pinned
	stored.Revision++
	stored.UpdatedAt = r.now()
	r.state.memories[mem.ID] = stored
	mem.Revision, mem.UpdatedAt = stored.Revision, stored.UpdatedAt
	return nil
}

type memDocumentRepo struct{ *memStore }

var _ repositories.DocumentRepository = memDocumentRepo{}

func (r memDocumentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.state.documents[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r memDocumentRepo) Create(_ context.Context, d *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := r.now()
	d.Revision, d.CreatedAt, d.UpdatedAt = 1, now, now
	r.state.documents[d.ID] = *d
	return nil
}

func (r memDocumentRepo) UpdateContent(_ context.Context, d *models.Document, expectedRevision int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	stored, ok := r.state.documents[d.ID]
	if !ok || stored.Revision != expectedRevision {
		return apperrors.Conflict("document changed since revision %d", expectedRevision)
	}
	stored.Content = d.Content
	stored.Revision++
	stored.UpdatedAt = r.now()
	r.state.documents[d.ID] = stored
	d.Revision, d.UpdatedAt = stored.Revision, stored.UpdatedAt
	return nil
}

// harness

// testEnv wires every service over one in-memory store.
type testEnv struct {
	projectID uuid.UUID
	store     *memStore

	entities      memEntityRepo
	relationships memRelationshipRepo
	memories      memMemoryRepo
	documents     memDocumentRepo

	suggestions SuggestionService
	decisions   DecisionService
	rollbacks   RollbackService
	previews    PreviewService
}

func newTestEnv() *testEnv {
	store := newMemStore()
	logger := zap.NewNop()
	suggestionRepo := memSuggestionRepo{store}

	targets := NewTargetStore(&TargetStoreDeps{
		EntityRepo:       memEntityRepo{store},
		RelationshipRepo: memRelationshipRepo{store},
		MemoryRepo:       memMemoryRepo{store},
		DocumentRepo:     memDocumentRepo{store},
		Logger:           logger,
	})
	validator := NewPreflightValidator(targets)
	tx := &memTxRunner{store: store}

	return &testEnv{
		projectID:     uuid.New(),
		store:         store,
		entities:      memEntityRepo{store},
		relationships: memRelationshipRepo{store},
		memories:      memMemoryRepo{store},
		documents:     memDocumentRepo{store},
		suggestions: NewSuggestionService(&SuggestionServiceDeps{
			SuggestionRepo: suggestionRepo,
			Store:          targets,
			Validator:      validator,
			Config:         testSuggestionsConfig(),
			Logger:         logger,
		}),
		decisions: NewDecisionService(&DecisionServiceDeps{
			SuggestionRepo: suggestionRepo,
			Store:          targets,
			Validator:      validator,
			TxRunner:       tx,
			Logger:         logger,
		}),
		rollbacks: NewRollbackService(&RollbackServiceDeps{
			SuggestionRepo: suggestionRepo,
			Store:          targets,
			TxRunner:       tx,
			PreviewLimit:   2,
			Logger:         logger,
		}),
		previews: NewPreviewService(&PreviewServiceDeps{
			SuggestionRepo: suggestionRepo,
			Store:          targets,
			Logger:         logger,
		}),
	}
}

func testSuggestionsConfig() config.SuggestionsConfig {
	return config.SuggestionsConfig{
		DefaultPageSize:      50,
		MaxPageSize:          200,
		RollbackPreviewLimit: 2,
		PreviewContextChars:  160,
		PreviewTailChars:     400,
	}
}

// reviewer returns a context carrying manual reviewer provenance.
func reviewer() context.Context {
	return models.WithManualProvenance(context.Background(), "reviewer-1")
}

func (e *testEnv) seedEntity(t *testing.T, name, kind string, aliases ...string) *models.Entity {
	t.Helper()
	ent := &models.Entity{ProjectID: e.projectID, Name: name, Kind: kind, Aliases: aliases}
	require.NoError(t, e.entities.Create(context.Background(), ent))
	return ent
}

func (e *testEnv) seedRelationship(t *testing.T, source, target *models.Entity, relType string) *models.Relationship {
	t.Helper()
	rel := &models.Relationship{
		ProjectID:      e.projectID,
		SourceEntityID: source.ID,
		TargetEntityID: target.ID,
		Type:           relType,
	}
	require.NoError(t, e.relationships.Create(context.Background(), rel))
	return rel
}

func (e *testEnv) seedDocument(t *testing.T, title, content string) *models.Document {
	t.Helper()
	doc := &models.Document{ProjectID: e.projectID, Title: title, Content: content}
	require.NoError(t, e.documents.Create(context.Background(), doc))
	return doc
}

func (e *testEnv) seedMemory(t *testing.T, content string, pinned bool) *models.Memory {
	t.Helper()
	mem := &models.Memory{ProjectID: e.projectID, Content: content, Pinned: pinned}
	require.NoError(t, e.memories.Create(context.Background(), mem))
	return mem
}

// entity returns the stored entity, or nil.
func (e *testEnv) entity(t *testing.T, id uuid.UUID) *models.Entity {
	t.Helper()
	ent, err := e.entities.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ent
}

func (e *testEnv) document(t *testing.T, id uuid.UUID) *models.Document {
	t.Helper()
	doc, err := e.documents.GetByID(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (e *testEnv) suggestion(t *testing.T, id uuid.UUID) *models.Suggestion {
	t.Helper()
	sug, err := e.suggestions.Get(context.Background(), e.projectID, id)
	require.NoError(t, err)
	return sug
}

// propose records a suggestion from an agent tool call and requires that it was created.
func (e *testEnv) propose(t *testing.T, op models.Operation, targetID *uuid.UUID, patch string) *models.Suggestion {
	t.Helper()
	sug, created, err := e.suggestions.Create(context.Background(), e.projectID, &models.NewSuggestionRequest{
		ToolCallID:    "call-" + uuid.NewString(),
		ToolName:      "propose_change",
		TargetType:    op.TargetType(),
		TargetID:      targetID,
		Operation:     op,
		ProposedPatch: json.RawMessage(patch),
	})
	require.NoError(t, err)
	require.True(t, created)
	return sug
}

// decide applies one decision to one suggestion as the test reviewer.
func (e *testEnv) decide(t *testing.T, id uuid.UUID, decision models.Decision) models.DecisionOutcome {
	t.Helper()
	outcomes, err := e.decisions.ApplyDecisions(reviewer(), e.projectID, []uuid.UUID{id}, decision)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	return outcomes[0]
}
