package category

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultClassifierConfig()
	cfg.ProfilesPath = filepath.Join(t.TempDir(), "profiles.json")
	// nil classifier: stage B is the deterministic fallback, which is what
	// most flows here exercise.
	return NewManager(cfg, nil, NewStore(cfg.ProfilesPath), slog.Default())
}

func TestManager_LoadSeedsWhenEmpty(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())

	profiles := m.Profiles()
	require.Len(t, profiles, 3)
	names := []string{profiles[0].Name, profiles[1].Name, profiles[2].Name}
	assert.Equal(t, []string{"Documentation", "Programming", "Research"}, names)
	for _, p := range profiles {
		assert.Equal(t, 0.3, p.Confidence)
		assert.Empty(t, p.Centroid)
		assert.NotEmpty(t, p.Keywords)
	}

	// A second manager over the same path loads the seeds, not new ones.
	m2 := NewManager(m.cfg, nil, NewStore(m.cfg.ProfilesPath), slog.Default())
	require.NoError(t, m2.Load())
	again := m2.Profiles()
	require.Len(t, again, 3)
	assert.Equal(t, profiles[0].ID, again[0].ID)
}

func TestManager_ClassifyWithZeroProfiles(t *testing.T) {
	m := newTestManager(t)
	// No Load: the profile set is genuinely empty.
	d, cands, err := m.Classify(context.Background(), "anything", []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, ActionUncategorized, d.Action)
	assert.Empty(t, cands)
}

func TestManager_CreateThenReclassifySameCardMatches(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	ctx := context.Background()

	text := "sourdough starter hydration and fermentation schedules"
	emb := []float32{0.2, 0.9}

	name, err := m.Assign(ctx, text, emb, &Decision{
		Action: ActionCreateNew,
		NewCategory: &NewCategory{
			Name:        "Baking",
			Description: "Bread and pastry technique.",
			Keywords:    []string{"sourdough", "fermentation"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Baking", name)

	p, ok := m.ByName("Baking")
	require.True(t, ok)
	assert.Equal(t, 1, p.CardCount)
	assert.Equal(t, 0.5, p.Confidence)
	assert.Zero(t, p.AutoAssignments)
	assert.Zero(t, p.UserCorrections)
	assert.Equal(t, emb, p.Centroid)
	assert.NotEmpty(t, p.Snippets)

	// The same card classified again must match the new profile with a
	// combined score comfortably above the fallback floor.
	d, cands, err := m.Classify(ctx, text, emb)
	require.NoError(t, err)
	require.Equal(t, ActionMatch, d.Action)
	assert.Equal(t, p.ID, d.CategoryID)
	assert.GreaterOrEqual(t, d.Confidence, 0.6)
	assert.NotEmpty(t, cands)
}

func TestManager_AssignMatchUpdatesProfile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	ctx := context.Background()

	_, err := m.Assign(ctx, "alpha text", []float32{1, 0}, &Decision{
		Action:      ActionCreateNew,
		NewCategory: &NewCategory{Name: "Topic", Description: "d", Keywords: []string{"alpha"}},
	})
	require.NoError(t, err)
	created, _ := m.ByName("Topic")

	name, err := m.Assign(ctx, "more alpha", []float32{0, 1}, &Decision{
		Action:     ActionMatch,
		CategoryID: created.ID,
		Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, "Topic", name)

	p, _ := m.ByName("Topic")
	assert.Equal(t, 2, p.CardCount)
	assert.Equal(t, 1, p.AutoAssignments)
	assert.Equal(t, 1.0, p.Confidence)
	// Running mean of [1,0] and [0,1].
	assert.InDelta(t, 0.5, float64(p.Centroid[0]), 1e-6)
	assert.InDelta(t, 0.5, float64(p.Centroid[1]), 1e-6)
}

func TestManager_AssignCreateNameCollisionFoldsIn(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	ctx := context.Background()

	create := &Decision{
		Action:      ActionCreateNew,
		NewCategory: &NewCategory{Name: "programming", Description: "d", Keywords: []string{"code"}},
	}
	name, err := m.Assign(ctx, "writing go code", []float32{1, 0}, create)
	require.NoError(t, err)
	// Case-insensitive collision with the seeded "Programming".
	assert.Equal(t, "Programming", name)

	p, _ := m.ByName("Programming")
	assert.Equal(t, 1, p.CardCount)
	assert.Equal(t, 1, p.AutoAssignments)
	assert.Len(t, m.Profiles(), 3)
}

func TestManager_AssignMatchOnVanishedProfile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())

	name, err := m.Assign(context.Background(), "text", []float32{1, 0}, &Decision{
		Action:     ActionMatch,
		CategoryID: "gone",
	})
	require.NoError(t, err)
	assert.Equal(t, models.UncategorizedName, name)
}

func TestManager_CorrectMovesCardBetweenProfiles(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	ctx := context.Background()

	_, err := m.Assign(ctx, "alpha", []float32{1, 0}, &Decision{
		Action:      ActionCreateNew,
		NewCategory: &NewCategory{Name: "Wrong", Description: "d", Keywords: []string{"alpha"}},
	})
	require.NoError(t, err)

	name, err := m.Correct(ctx, "alpha", []float32{1, 0}, "Wrong", "Programming")
	require.NoError(t, err)
	assert.Equal(t, "Programming", name)

	wrong, _ := m.ByName("Wrong")
	assert.Equal(t, 0, wrong.CardCount)
	assert.Equal(t, 1, wrong.UserCorrections)
	assert.Equal(t, 0.0, wrong.Confidence)

	prog, _ := m.ByName("Programming")
	assert.Equal(t, 1, prog.CardCount)
	assert.Equal(t, 1, prog.UserCorrections)
	assert.Equal(t, []float32{1, 0}, prog.Centroid)
}

func TestManager_CorrectIntoUnknownNameCreatesProfile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())

	name, err := m.Correct(context.Background(), "carbon capture methods", []float32{0.7, 0.7}, "", "Climate")
	require.NoError(t, err)
	assert.Equal(t, "Climate", name)

	p, ok := m.ByName("Climate")
	require.True(t, ok)
	assert.Equal(t, 1, p.CardCount)
	assert.Equal(t, 0.5, p.Confidence)
}

func TestManager_RemoveMember(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	ctx := context.Background()

	_, err := m.Assign(ctx, "alpha", []float32{1, 0}, &Decision{
		Action:      ActionCreateNew,
		NewCategory: &NewCategory{Name: "Topic", Description: "d", Keywords: []string{"alpha"}},
	})
	require.NoError(t, err)

	m.RemoveMember("Topic")
	p, _ := m.ByName("Topic")
	assert.Equal(t, 0, p.CardCount)

	// Floor at zero; unknown names are ignored.
	m.RemoveMember("Topic")
	m.RemoveMember("NoSuch")
	p, _ = m.ByName("Topic")
	assert.Equal(t, 0, p.CardCount)
}

func TestManager_Merge(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	ctx := context.Background()

	_, err := m.Assign(ctx, "alpha alpha", []float32{1, 0}, &Decision{
		Action:      ActionCreateNew,
		NewCategory: &NewCategory{Name: "A", Description: "d", Keywords: []string{"alpha"}},
	})
	require.NoError(t, err)
	_, err = m.Assign(ctx, "beta beta", []float32{0, 1}, &Decision{
		Action:      ActionCreateNew,
		NewCategory: &NewCategory{Name: "B", Description: "d", Keywords: []string{"beta"}},
	})
	require.NoError(t, err)

	a, _ := m.ByName("A")
	b, _ := m.ByName("B")
	require.NoError(t, m.Merge(a.ID, b.ID))

	_, ok := m.ByName("A")
	assert.False(t, ok)
	merged, ok := m.ByName("B")
	require.True(t, ok)
	assert.Equal(t, 2, merged.CardCount)
	// Count-weighted mean of [1,0] and [0,1] with equal counts.
	assert.InDelta(t, 0.5, float64(merged.Centroid[0]), 1e-6)
	assert.InDelta(t, 0.5, float64(merged.Centroid[1]), 1e-6)

	terms := make(map[string]bool)
	for _, kwScore := range merged.Keywords {
		terms[kwScore.Term] = true
	}
	assert.True(t, terms["alpha"])
	assert.True(t, terms["beta"])

	assert.Error(t, m.Merge(a.ID, b.ID), "merging a removed profile must fail")
	assert.Error(t, m.Merge(b.ID, b.ID))
}

func TestManager_SemanticMatch(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	ctx := context.Background()

	_, err := m.Assign(ctx, "alpha", []float32{1, 0}, &Decision{
		Action:      ActionCreateNew,
		NewCategory: &NewCategory{Name: "Topic", Description: "d", Keywords: []string{"alpha"}},
	})
	require.NoError(t, err)

	p, score := m.SemanticMatch([]float32{1, 0})
	require.NotNil(t, p)
	assert.Equal(t, "Topic", p.Name)
	assert.InDelta(t, 1.0, score, 1e-6)

	// Seeds have no centroid yet, so an orthogonal query finds nothing.
	p, score = m.SemanticMatch([]float32{-1, 0})
	assert.Nil(t, p)
	assert.Zero(t, score)
}

func TestManager_RefreshUsesMemberSource(t *testing.T) {
	m := newTestManager(t)
	m.cfg.RefreshEvery = 2
	require.NoError(t, m.Load())
	ctx := context.Background()

	m.SetMemberSource(staticMembers{
		"Topic": {"refreshed corpus keywords everywhere", "keywords keywords keywords"},
	})

	_, err := m.Assign(ctx, "alpha", []float32{1, 0}, &Decision{
		Action:      ActionCreateNew,
		NewCategory: &NewCategory{Name: "Topic", Description: "d", Keywords: []string{"alpha"}},
	})
	require.NoError(t, err)
	created, _ := m.ByName("Topic")

	// First member addition after create; second triggers the refresh.
	for i := 0; i < 2; i++ {
		_, err = m.Assign(ctx, "alpha again", []float32{1, 0}, &Decision{
			Action:     ActionMatch,
			CategoryID: created.ID,
		})
		require.NoError(t, err)
	}

	p, _ := m.ByName("Topic")
	require.NotEmpty(t, p.Keywords)
	assert.Equal(t, "keywords", p.Keywords[0].Term)
}

// staticMembers is a canned MemberSource.
type staticMembers map[string][]string

func (s staticMembers) MemberContents(_ context.Context, category string, _ int) ([]string, error) {
	return s[category], nil
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	store := NewStore(path)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	in := SeedProfiles(0.3)
	in[0].Centroid = []float32{0.25, -0.5}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out, 3)
	byName := make(map[string]*models.CategoryProfile)
	for _, p := range out {
		byName[p.Name] = p
	}
	assert.Equal(t, []float32{0.25, -0.5}, byName["Programming"].Centroid)
	assert.Equal(t, 0.3, byName["Research"].Confidence)
}

func TestStore_EmptyPathIsNoOp(t *testing.T) {
	store := NewStore("")
	require.NoError(t, store.Save(SeedProfiles(0.3)))
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
