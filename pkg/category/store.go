package category

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/models"
)

const storeVersion = 1

// profileFile is the on-disk envelope. Profiles are ordered by id so the
// file diffs cleanly across saves.
type profileFile struct {
	Version  int                       `json:"version"`
	Profiles []*models.CategoryProfile `json:"profiles"`
}

// Store persists category profiles to a single JSON file with the same
// temp-file-plus-rename discipline as the graph snapshot, so a crash
// mid-save never corrupts the loaded state.
type Store struct {
	path string
}

// NewStore creates a store writing to path. An empty path disables
// persistence: Load returns nothing and Save is a no-op.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the profile file. A missing file returns (nil, nil).
func (s *Store) Load() ([]*models.CategoryProfile, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var file profileFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	if file.Version != storeVersion {
		return nil, fmt.Errorf("unsupported profile file version %d", file.Version)
	}
	return file.Profiles, nil
}

// Save writes all profiles atomically.
func (s *Store) Save(profiles []*models.CategoryProfile) error {
	if s.path == "" {
		return nil
	}
	sorted := make([]*models.CategoryProfile, len(profiles))
	copy(sorted, profiles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := json.MarshalIndent(profileFile{Version: storeVersion, Profiles: sorted}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profiles dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename profiles: %w", err)
	}
	return nil
}

// SeedProfiles are the starter categories registered when the store is
// empty. Centroids are nil (scoring zero against everything) until the
// first member card teaches them a position; confidence starts low so the
// classifier treats seed matches skeptically.
func SeedProfiles(confidence float64) []*models.CategoryProfile {
	now := time.Now().UTC()
	mk := func(name, description string, keywords ...string) *models.CategoryProfile {
		scores := make([]models.KeywordScore, len(keywords))
		for i, kw := range keywords {
			scores[i] = models.KeywordScore{Term: kw, Score: 1}
		}
		return &models.CategoryProfile{
			ID:          uuid.NewString(),
			Name:        name,
			Description: description,
			Keywords:    scores,
			Confidence:  confidence,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return []*models.CategoryProfile{
		mk("Programming", "Source code, software design, APIs, and development tooling.",
			"code", "function", "api", "software", "library", "debug", "implementation"),
		mk("Documentation", "Guides, references, tutorials, and how-to material.",
			"docs", "guide", "tutorial", "reference", "manual", "howto", "usage"),
		mk("Research", "Papers, studies, analyses, and open questions.",
			"paper", "study", "research", "analysis", "theory", "experiment", "findings"),
	}
}
