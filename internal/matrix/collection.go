package matrix

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"creative-matrix/internal/models"
)

// Collection holds every combination in memory and is the single write path
// for status, progress, and preview URL. All lifecycle transitions go through
// its methods; the generating state doubles as a per-id writer lock.
type Collection struct {
	mu    sync.Mutex
	byID  map[string]*models.Combination
	order []string
	seq   int64
}

// NewCollection builds an empty collection.
func NewCollection() *Collection {
	return &Collection{byID: make(map[string]*models.Combination)}
}

// Create validates the assignments and registers a new pending combination.
func (c *Collection) Create(assignments []models.Assignment) (*models.Combination, error) {
	if len(assignments) == 0 {
		return nil, &ValidationError{Reason: "no variables assigned"}
	}
	assets := make(map[string]*models.Asset, len(assignments))
	for _, a := range assignments {
		if a.Variable == "" {
			return nil, &ValidationError{Reason: "variable name is empty"}
		}
		if _, dup := assets[a.Variable]; dup {
			return nil, &ValidationError{Reason: "duplicate variable " + a.Variable}
		}
		assets[a.Variable] = a.Asset
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	now := time.Now().UTC()
	combo := &models.Combination{
		ID:        uuid.New().String(),
		Assets:    assets,
		Status:    models.StatusPending,
		Progress:  0,
		Seq:       c.seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.byID[combo.ID] = combo
	c.order = append(c.order, combo.ID)
	return combo.Clone(), nil
}

// Load seeds the collection from persisted rows, preserving their creation
// sequence. Rows persisted mid-generation come back as failed since the
// render attempt did not survive the restart.
func (c *Collection) Load(combos []*models.Combination) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, combo := range combos {
		cp := combo.Clone()
		if cp.Status == models.StatusGenerating {
			cp.Status = models.StatusFailed
			cp.Progress = 0
			cp.PreviewURL = ""
			cp.FailReason = "interrupted by restart"
		}
		c.byID[cp.ID] = cp
		c.order = append(c.order, cp.ID)
		if cp.Seq > c.seq {
			c.seq = cp.Seq
		}
	}
}

// Get returns a copy of one combination.
func (c *Collection) Get(id string) (*models.Combination, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	combo, ok := c.byID[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return combo.Clone(), nil
}

// Snapshot returns copies of every combination in insertion order.
func (c *Collection) Snapshot() []*models.Combination {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Combination, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id].Clone())
	}
	return out
}

// Len returns the number of combinations held.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

// ToggleFavourite flips the favourite flag and returns the new value.
func (c *Collection) ToggleFavourite(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	combo, ok := c.byID[id]
	if !ok {
		return false, &NotFoundError{ID: id}
	}
	combo.Favourite = !combo.Favourite
	combo.UpdatedAt = time.Now().UTC()
	return combo.Favourite, nil
}

// AttachScore records an externally computed engagement score.
func (c *Collection) AttachScore(id string, score float64) error {
	if score < 0 || score > 1 {
		return &RangeError{Score: score}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	combo, ok := c.byID[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	combo.EngagementScore = &score
	combo.UpdatedAt = time.Now().UTC()
	return nil
}

// BeginGeneration moves a combination into generating, resetting progress and
// clearing any previous preview. Legal from pending, failed, and completed
// (regeneration). Returns ConflictError while a render is already in flight.
func (c *Collection) BeginGeneration(id string) (*models.Combination, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	combo, ok := c.byID[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if combo.Status == models.StatusGenerating {
		return nil, &ConflictError{ID: id}
	}
	combo.Status = models.StatusGenerating
	combo.Progress = 0
	combo.PreviewURL = ""
	combo.FailReason = ""
	combo.UpdatedAt = time.Now().UTC()
	return combo.Clone(), nil
}

// RecordProgress applies a progress callback. Callbacks for combinations not
// generating and callbacks carrying a lower percentage than already recorded
// are ignored; at-least-once delivery makes both expected, not errors.
// Reports whether the update was applied.
func (c *Collection) RecordProgress(id string, pct float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	combo, ok := c.byID[id]
	if !ok {
		return false, &NotFoundError{ID: id}
	}
	if combo.Status != models.StatusGenerating {
		return false, nil
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= combo.Progress {
		return false, nil
	}
	combo.Progress = pct
	combo.UpdatedAt = time.Now().UTC()
	return true, nil
}

// CompleteGeneration moves generating into completed and attaches the preview
// URL. A duplicate or late delivery against a non-generating combination is a
// no-op; the caller may log it as a warning.
func (c *Collection) CompleteGeneration(id, previewURL string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	combo, ok := c.byID[id]
	if !ok {
		return false, &NotFoundError{ID: id}
	}
	if combo.Status != models.StatusGenerating {
		return false, nil
	}
	combo.Status = models.StatusCompleted
	combo.PreviewURL = previewURL
	combo.FailReason = ""
	combo.UpdatedAt = time.Now().UTC()
	return true, nil
}

// FailGeneration moves generating into failed, retaining the reason for
// display. The preview URL stays absent. No-op outside generating.
func (c *Collection) FailGeneration(id, reason string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	combo, ok := c.byID[id]
	if !ok {
		return false, &NotFoundError{ID: id}
	}
	if combo.Status != models.StatusGenerating {
		return false, nil
	}
	combo.Status = models.StatusFailed
	combo.PreviewURL = ""
	combo.FailReason = reason
	combo.UpdatedAt = time.Now().UTC()
	return true, nil
}
