package models

import (
	"time"
)

// Combination lifecycle states held in memory and persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Asset media types accepted in a variable slot.
const (
	AssetImage = "image"
	AssetVideo = "video"
	AssetText  = "text"
)

// Asset references a single creative asset assigned to a variable slot.
type Asset struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// Assignment binds a variable name to an asset. A nil Asset is an empty slot.
type Assignment struct {
	Variable string `json:"variable"`
	Asset    *Asset `json:"asset"`
}

// Combination is one assignment of assets to template variables plus its
// render lifecycle. The assets mapping is fixed at creation; regeneration
// re-renders but never changes it.
type Combination struct {
	ID              string            `json:"id"`
	Assets          map[string]*Asset `json:"assets"`
	Status          string            `json:"status"`
	Progress        float64           `json:"progress"`
	PreviewURL      string            `json:"preview_url,omitempty"`
	EngagementScore *float64          `json:"engagement_score,omitempty"`
	Favourite       bool              `json:"favourite"`
	FailReason      string            `json:"fail_reason,omitempty"`
	Seq             int64             `json:"seq"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasVideo reports whether any filled slot holds a video asset.
func (c *Combination) HasVideo() bool {
	for _, a := range c.Assets {
		if a != nil && a.Type == AssetVideo {
			return true
		}
	}
	return false
}

// AssetIDs returns the ids of all filled slots.
func (c *Combination) AssetIDs() []string {
	ids := make([]string, 0, len(c.Assets))
	for _, a := range c.Assets {
		if a != nil && a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// Clone returns a deep copy safe to read outside the collection lock.
func (c *Combination) Clone() *Combination {
	cp := *c
	cp.Assets = make(map[string]*Asset, len(c.Assets))
	for name, a := range c.Assets {
		if a == nil {
			cp.Assets[name] = nil
			continue
		}
		ac := *a
		cp.Assets[name] = &ac
	}
	if c.EngagementScore != nil {
		score := *c.EngagementScore
		cp.EngagementScore = &score
	}
	return &cp
}

// RenderEvent is a lifecycle audit row.
type RenderEvent struct {
	CombinationID string    `json:"combination_id"`
	Event         string    `json:"event"`
	Detail        string    `json:"detail"`
	Recorded      time.Time `json:"recorded_at"`
}
