package category

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/vector"
)

// initialConfidence is where a freshly created profile starts. The counters
// stay at zero (the creation itself is neither an auto assignment nor a
// correction), so the confidence invariant holds vacuously until evidence
// arrives.
const initialConfidence = 0.5

// refreshWindow caps how many member cards feed one keyword/snippet refresh.
const refreshWindow = 50

// MemberSource lists the stored content of a category's member cards.
// The knowledge-graph state implements this; the manager uses it to
// refresh keywords and snippets from what the category actually holds.
type MemberSource interface {
	MemberContents(ctx context.Context, category string, limit int) ([]string, error)
}

// Manager owns the profile set and both retrieval indexes. All mutation
// funnels through one mutex: profile updates are cheap and rare relative
// to classification, and a single writer keeps the centroid math and the
// indexes trivially consistent. The mutex is released during LLM calls.
type Manager struct {
	cfg        *config.ClassifierConfig
	classifier *Classifier // nil runs stage B as the deterministic fallback
	store      *Store
	logger     *slog.Logger

	mu           sync.Mutex
	members      MemberSource
	profiles     map[string]*models.CategoryProfile
	byName       map[string]string // lowercased name -> id
	vec          *VectorIndex
	kw           *KeywordIndex
	sinceRefresh map[string]int
}

// NewManager wires the classifier and store into a manager. Call Load
// before first use.
func NewManager(cfg *config.ClassifierConfig, classifier *Classifier, store *Store, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		classifier:   classifier,
		store:        store,
		logger:       logger.With("component", "category"),
		profiles:     make(map[string]*models.CategoryProfile),
		byName:       make(map[string]string),
		vec:          NewVectorIndex(),
		kw:           NewKeywordIndex(cfg.BM25K1, cfg.BM25B),
		sinceRefresh: make(map[string]int),
	}
}

// SetMemberSource attaches the knowledge-graph state. Wired after
// construction because the graph layer is built independently; without a
// source, keyword/snippet refreshes are skipped.
func (m *Manager) SetMemberSource(src MemberSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = src
}

// Load restores profiles from the store, seeding the three starter
// categories when the store is empty.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profiles, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load category profiles: %w", err)
	}
	if len(profiles) == 0 {
		profiles = SeedProfiles(m.cfg.SeedLowConfScore)
		m.logger.Info("seeded starter categories", "count", len(profiles))
	}
	for _, p := range profiles {
		m.profiles[p.ID] = p
		m.registerLocked(p)
	}
	m.persistLocked()
	return nil
}

// Persist saves the profile set now, independent of the mutation path.
func (m *Manager) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Save(m.snapshotLocked())
}

// Classify runs both stages for a piece of content. Stage A retrieves
// candidates under the lock; stage B (the LLM) runs with the lock
// released. With zero profiles the answer is uncategorized without a
// model call.
func (m *Manager) Classify(ctx context.Context, text string, embedding []float32) (*Decision, []Candidate, error) {
	m.mu.Lock()
	if len(m.profiles) == 0 {
		m.mu.Unlock()
		return &Decision{Action: ActionUncategorized}, nil, nil
	}
	candidates := retrieve(m.vec, m.kw, embedding, text, m.cfg.Alpha, m.cfg.RetrieveTopK, m.cfg.CandidateTopK)
	snapshot := make(map[string]*models.CategoryProfile, len(candidates))
	for _, c := range candidates {
		if p := m.profiles[c.ID]; p != nil {
			snapshot[c.ID] = cloneProfile(p)
		}
	}
	m.mu.Unlock()

	if m.classifier == nil {
		return Fallback(candidates, m.cfg.FallbackScore), candidates, nil
	}
	decision, err := m.classifier.Decide(ctx, text, candidates, snapshot)
	if err != nil {
		return nil, nil, err
	}
	return decision, candidates, nil
}

// Assign applies a decision for one card and returns the category name the
// card ends up with. Match decisions fold the embedding into the profile
// centroid and bump the auto counter; create_new builds a profile seeded
// from this card (folding into an existing profile on a name collision).
func (m *Manager) Assign(ctx context.Context, text string, embedding []float32, decision *Decision) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch decision.Action {
	case ActionUncategorized:
		return models.UncategorizedName, nil

	case ActionMatch:
		p := m.profiles[decision.CategoryID]
		if p == nil {
			// The profile vanished between stages (merge or remove).
			m.logger.Warn("matched category no longer exists", "category_id", decision.CategoryID)
			return models.UncategorizedName, nil
		}
		m.addMemberLocked(ctx, p, embedding, true)
		m.persistLocked()
		return p.Name, nil

	case ActionCreateNew:
		name := strings.TrimSpace(decision.NewCategory.Name)
		if id, ok := m.byName[strings.ToLower(name)]; ok {
			p := m.profiles[id]
			m.addMemberLocked(ctx, p, embedding, true)
			m.persistLocked()
			return p.Name, nil
		}
		p := m.buildProfileLocked(name, decision.NewCategory.Description, decision.NewCategory.Keywords, text, embedding)
		m.persistLocked()
		return p.Name, nil

	default:
		return "", fmt.Errorf("assign: invalid action %q", decision.Action)
	}
}

// Correct moves a card between categories at the user's request. The old
// profile loses a member and gains a correction (the classifier had it
// wrong); the new profile gains the member and also a correction (the
// classifier failed to pick it). An unknown target name creates a bare
// user-named profile seeded from the card.
func (m *Manager) Correct(ctx context.Context, text string, embedding []float32, fromName, toName string) (string, error) {
	toName = strings.TrimSpace(toName)
	if toName == "" {
		return "", fmt.Errorf("correct: target category name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if from := m.profileByNameLocked(fromName); from != nil {
		if from.CardCount > 0 {
			from.CardCount--
		}
		from.UserCorrections++
		from.RecomputeConfidence()
		from.UpdatedAt = time.Now().UTC()
	}

	to := m.profileByNameLocked(toName)
	if to == nil {
		to = m.buildProfileLocked(toName, "", nil, text, embedding)
	} else {
		to.Centroid = vector.RunningMean(to.Centroid, to.CardCount, embedding)
		to.CardCount++
		to.UserCorrections++
		to.RecomputeConfidence()
		to.UpdatedAt = time.Now().UTC()
		m.vec.Upsert(to.ID, to.Centroid)
		m.maybeRefreshLocked(ctx, to)
	}
	m.persistLocked()
	return to.Name, nil
}

// RemoveMember decrements a category's card count when a member card is
// deleted. Unknown or sentinel names are ignored.
func (m *Manager) RemoveMember(categoryName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.profileByNameLocked(categoryName)
	if p == nil {
		return
	}
	if p.CardCount > 0 {
		p.CardCount--
	}
	p.UpdatedAt = time.Now().UTC()
	m.persistLocked()
}

// Merge folds fromID into toID: count-weighted centroid, keyword union
// truncated to the cap, snippets truncated to the cap, counters summed.
// The absorbed profile is unregistered from both indexes and deleted.
func (m *Manager) Merge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("merge: source and target are the same profile")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	from, to := m.profiles[fromID], m.profiles[toID]
	if from == nil || to == nil {
		return fmt.Errorf("merge: unknown profile")
	}

	to.Centroid = vector.WeightedMean(to.Centroid, to.CardCount, from.Centroid, from.CardCount)
	to.CardCount += from.CardCount
	to.Keywords = mergeKeywords(to.Keywords, from.Keywords, m.cfg.MaxKeywords)
	to.Snippets = append(to.Snippets, from.Snippets...)
	if len(to.Snippets) > m.cfg.MaxSnippets {
		to.Snippets = to.Snippets[:m.cfg.MaxSnippets]
	}
	to.AutoAssignments += from.AutoAssignments
	to.UserCorrections += from.UserCorrections
	to.RecomputeConfidence()
	to.UpdatedAt = time.Now().UTC()

	m.unregisterLocked(from)
	delete(m.profiles, from.ID)
	delete(m.sinceRefresh, from.ID)
	m.registerLocked(to)
	m.persistLocked()

	m.logger.Info("merged categories", "from", from.Name, "to", to.Name, "card_count", to.CardCount)
	return nil
}

// SemanticMatch returns the profile whose centroid best matches the
// embedding, with its cosine score. Nil when nothing scores positive.
func (m *Manager) SemanticMatch(embedding []float32) (*models.CategoryProfile, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hits := m.vec.Search(embedding, 1)
	if len(hits) == 0 {
		return nil, 0
	}
	p := m.profiles[hits[0].ID]
	if p == nil {
		return nil, 0
	}
	return cloneProfile(p), hits[0].Score
}

// Profiles returns detached copies of every profile, sorted by name.
func (m *Manager) Profiles() []*models.CategoryProfile {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.CategoryProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, cloneProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a detached copy of one profile.
func (m *Manager) Get(id string) (*models.CategoryProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[id]
	if p == nil {
		return nil, false
	}
	return cloneProfile(p), true
}

// ByName returns a detached copy of the profile with the given name.
func (m *Manager) ByName(name string) (*models.CategoryProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profileByNameLocked(name)
	if p == nil {
		return nil, false
	}
	return cloneProfile(p), true
}

func (m *Manager) addMemberLocked(ctx context.Context, p *models.CategoryProfile, embedding []float32, auto bool) {
	p.Centroid = vector.RunningMean(p.Centroid, p.CardCount, embedding)
	p.CardCount++
	if auto {
		p.AutoAssignments++
	} else {
		p.UserCorrections++
	}
	p.RecomputeConfidence()
	p.UpdatedAt = time.Now().UTC()
	m.vec.Upsert(p.ID, p.Centroid)
	m.maybeRefreshLocked(ctx, p)
}

// buildProfileLocked creates and registers a profile seeded from one card:
// centroid is the card's embedding, keywords come from the given list plus
// extracted terms, snippets from the leading content.
func (m *Manager) buildProfileLocked(name, description string, seedKeywords []string, text string, embedding []float32) *models.CategoryProfile {
	now := time.Now().UTC()
	seeded := make([]models.KeywordScore, 0, len(seedKeywords))
	for _, kw := range seedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			seeded = append(seeded, models.KeywordScore{Term: kw, Score: 1})
		}
	}
	centroid := make([]float32, len(embedding))
	copy(centroid, embedding)

	p := &models.CategoryProfile{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Centroid:    centroid,
		Keywords:    mergeKeywords(seeded, ExtractKeywords([]string{text}, m.cfg.MaxKeywords), m.cfg.MaxKeywords),
		Snippets:    MakeSnippets([]string{text}, m.cfg.MaxSnippets, m.cfg.SnippetLength),
		CardCount:   1,
		Confidence:  initialConfidence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.profiles[p.ID] = p
	m.registerLocked(p)
	m.logger.Info("created category", "name", p.Name, "id", p.ID)
	return p
}

// maybeRefreshLocked rebuilds keywords and snippets from current member
// cards once every RefreshEvery assignments to this profile.
func (m *Manager) maybeRefreshLocked(ctx context.Context, p *models.CategoryProfile) {
	m.sinceRefresh[p.ID]++
	if m.cfg.RefreshEvery <= 0 || m.sinceRefresh[p.ID] < m.cfg.RefreshEvery {
		return
	}
	m.sinceRefresh[p.ID] = 0
	if m.members == nil {
		return
	}
	contents, err := m.members.MemberContents(ctx, p.Name, refreshWindow)
	if err != nil {
		m.logger.Warn("keyword refresh failed", "category", p.Name, "error", err)
		return
	}
	if len(contents) == 0 {
		return
	}
	p.Keywords = ExtractKeywords(contents, m.cfg.MaxKeywords)
	p.Snippets = MakeSnippets(contents, m.cfg.MaxSnippets, m.cfg.SnippetLength)
	m.kw.Upsert(p.ID, p.Keywords)
	m.logger.Debug("refreshed category profile", "category", p.Name, "members", len(contents))
}

func (m *Manager) registerLocked(p *models.CategoryProfile) {
	m.vec.Upsert(p.ID, p.Centroid)
	m.kw.Upsert(p.ID, p.Keywords)
	m.byName[strings.ToLower(p.Name)] = p.ID
}

func (m *Manager) unregisterLocked(p *models.CategoryProfile) {
	m.vec.Remove(p.ID)
	m.kw.Remove(p.ID)
	if m.byName[strings.ToLower(p.Name)] == p.ID {
		delete(m.byName, strings.ToLower(p.Name))
	}
}

func (m *Manager) profileByNameLocked(name string) *models.CategoryProfile {
	id, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil
	}
	return m.profiles[id]
}

func (m *Manager) snapshotLocked() []*models.CategoryProfile {
	out := make([]*models.CategoryProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	return out
}

// persistLocked saves best-effort: a failed write is logged, not returned,
// because losing a checkpoint must not fail the assignment that caused it.
func (m *Manager) persistLocked() {
	if err := m.store.Save(m.snapshotLocked()); err != nil {
		m.logger.Warn("profile save failed", "error", err)
	}
}

func cloneProfile(p *models.CategoryProfile) *models.CategoryProfile {
	c := *p
	c.Centroid = append([]float32(nil), p.Centroid...)
	c.Keywords = append([]models.KeywordScore(nil), p.Keywords...)
	c.Snippets = append([]string(nil), p.Snippets...)
	c.SiblingIDs = append([]string(nil), p.SiblingIDs...)
	c.ChildIDs = append([]string(nil), p.ChildIDs...)
	return &c
}
