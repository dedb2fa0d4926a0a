package matrix

import (
	"errors"
	"testing"

	"creative-matrix/internal/models"
)

func heroAssignments() []models.Assignment {
	return []models.Assignment{
		{Variable: "hero", Asset: &models.Asset{ID: "imageX", Type: models.AssetImage, URL: "https://assets/x.png"}},
		{Variable: "headline", Asset: &models.Asset{ID: "copy1", Type: models.AssetText}},
	}
}

func TestCreateValidation(t *testing.T) {
	col := NewCollection()

	if _, err := col.Create(nil); err == nil {
		t.Fatalf("expected validation error for empty assignment list")
	}

	dup := []models.Assignment{
		{Variable: "hero", Asset: &models.Asset{ID: "a", Type: models.AssetImage}},
		{Variable: "hero", Asset: &models.Asset{ID: "b", Type: models.AssetImage}},
	}
	_, err := col.Create(dup)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate variable, got %v", err)
	}

	blank := []models.Assignment{{Variable: "", Asset: nil}}
	if _, err := col.Create(blank); err == nil {
		t.Fatalf("expected validation error for blank variable name")
	}

	combo, err := col.Create(heroAssignments())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if combo.Status != models.StatusPending || combo.Progress != 0 || combo.PreviewURL != "" {
		t.Fatalf("unexpected initial state: %+v", combo)
	}
}

func TestEmptySlotAllowed(t *testing.T) {
	col := NewCollection()
	combo, err := col.Create([]models.Assignment{{Variable: "hero", Asset: nil}})
	if err != nil {
		t.Fatalf("create with empty slot: %v", err)
	}
	if a, ok := combo.Assets["hero"]; !ok || a != nil {
		t.Fatalf("expected nil asset slot, got %+v", combo.Assets)
	}
}

func TestAttachScoreRange(t *testing.T) {
	col := NewCollection()
	combo, _ := col.Create(heroAssignments())

	var rerr *RangeError
	if err := col.AttachScore(combo.ID, 1.2); !errors.As(err, &rerr) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if err := col.AttachScore(combo.ID, -0.1); !errors.As(err, &rerr) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if err := col.AttachScore(combo.ID, 0.73); err != nil {
		t.Fatalf("attach score: %v", err)
	}

	got, _ := col.Get(combo.ID)
	if got.EngagementScore == nil || *got.EngagementScore != 0.73 {
		t.Fatalf("score not attached: %+v", got)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("attachScore must not touch status, got %s", got.Status)
	}
}

func TestGenerateConflict(t *testing.T) {
	col := NewCollection()
	combo, _ := col.Create(heroAssignments())

	if _, err := col.BeginGeneration(combo.ID); err != nil {
		t.Fatalf("first generation: %v", err)
	}
	_, err := col.BeginGeneration(combo.ID)
	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConflictError on second generation, got %v", err)
	}
}

// Progress 40 then a stale 30 then completion: the stale callback must not
// lower progress and completion must attach the preview URL.
func TestProgressMonotonicScenario(t *testing.T) {
	col := NewCollection()
	combo, _ := col.Create(heroAssignments())
	_, _ = col.BeginGeneration(combo.ID)

	if applied, _ := col.RecordProgress(combo.ID, 40); !applied {
		t.Fatalf("expected progress 40 to apply")
	}
	if applied, _ := col.RecordProgress(combo.ID, 30); applied {
		t.Fatalf("stale progress 30 must be ignored")
	}
	if applied, _ := col.CompleteGeneration(combo.ID, "https://x/y.jpg"); !applied {
		t.Fatalf("expected completion to apply")
	}

	got, _ := col.Get(combo.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Progress != 40 {
		t.Fatalf("expected progress 40, got %v", got.Progress)
	}
	if got.PreviewURL != "https://x/y.jpg" {
		t.Fatalf("expected preview url, got %q", got.PreviewURL)
	}
}

func TestDuplicateCompletionIsNoOp(t *testing.T) {
	col := NewCollection()
	combo, _ := col.Create(heroAssignments())
	_, _ = col.BeginGeneration(combo.ID)
	_, _ = col.CompleteGeneration(combo.ID, "https://x/1.jpg")

	applied, err := col.CompleteGeneration(combo.ID, "https://x/2.jpg")
	if err != nil || applied {
		t.Fatalf("duplicate completion should be a silent no-op, applied=%v err=%v", applied, err)
	}
	got, _ := col.Get(combo.ID)
	if got.PreviewURL != "https://x/1.jpg" {
		t.Fatalf("duplicate completion must not overwrite preview, got %q", got.PreviewURL)
	}
}

func TestRegenerationResetsState(t *testing.T) {
	col := NewCollection()
	combo, _ := col.Create(heroAssignments())

	// Fail once, regenerate, then complete and regenerate again.
	_, _ = col.BeginGeneration(combo.ID)
	_, _ = col.RecordProgress(combo.ID, 55)
	_, _ = col.FailGeneration(combo.ID, "render backend unavailable")

	got, _ := col.Get(combo.ID)
	if got.Status != models.StatusFailed || got.PreviewURL != "" {
		t.Fatalf("unexpected failed state: %+v", got)
	}
	if got.FailReason == "" {
		t.Fatalf("fail reason should be retained")
	}

	if _, err := col.BeginGeneration(combo.ID); err != nil {
		t.Fatalf("regenerate after failure: %v", err)
	}
	got, _ = col.Get(combo.ID)
	if got.Progress != 0 || got.PreviewURL != "" || got.FailReason != "" {
		t.Fatalf("regeneration must reset stale state: %+v", got)
	}

	_, _ = col.CompleteGeneration(combo.ID, "https://x/y.jpg")
	if _, err := col.BeginGeneration(combo.ID); err != nil {
		t.Fatalf("re-render of completed combination: %v", err)
	}
	got, _ = col.Get(combo.ID)
	if got.Status != models.StatusGenerating || got.PreviewURL != "" || got.Progress != 0 {
		t.Fatalf("re-render must clear preview and progress: %+v", got)
	}
}

// previewUrl present iff completed, checked after every transition.
func TestPreviewURLInvariant(t *testing.T) {
	col := NewCollection()
	combo, _ := col.Create(heroAssignments())

	check := func(stage string) {
		got, _ := col.Get(combo.ID)
		hasPreview := got.PreviewURL != ""
		completed := got.Status == models.StatusCompleted
		if hasPreview != completed {
			t.Fatalf("%s: previewUrl present=%v but status=%s", stage, hasPreview, got.Status)
		}
	}

	check("created")
	_, _ = col.BeginGeneration(combo.ID)
	check("generating")
	_, _ = col.FailGeneration(combo.ID, "boom")
	check("failed")
	_, _ = col.BeginGeneration(combo.ID)
	check("regenerating")
	_, _ = col.CompleteGeneration(combo.ID, "https://x/y.jpg")
	check("completed")
	_, _ = col.BeginGeneration(combo.ID)
	check("re-render")
}

func TestProgressIgnoredOutsideGeneration(t *testing.T) {
	col := NewCollection()
	combo, _ := col.Create(heroAssignments())

	if applied, err := col.RecordProgress(combo.ID, 10); err != nil || applied {
		t.Fatalf("progress before generation should be ignored, applied=%v err=%v", applied, err)
	}
	if _, err := col.RecordProgress("missing", 10); err == nil {
		t.Fatalf("expected NotFoundError for unknown id")
	}
}

func TestLoadRecoversInterruptedGeneration(t *testing.T) {
	col := NewCollection()
	seed := []*models.Combination{
		{ID: "a", Assets: map[string]*models.Asset{"hero": nil}, Status: models.StatusGenerating, Progress: 40, Seq: 1},
		{ID: "b", Assets: map[string]*models.Asset{"hero": nil}, Status: models.StatusCompleted, PreviewURL: "https://x/b.jpg", Seq: 2},
	}
	col.Load(seed)

	a, _ := col.Get("a")
	if a.Status != models.StatusFailed || a.Progress != 0 {
		t.Fatalf("interrupted generation should come back failed: %+v", a)
	}
	b, _ := col.Get("b")
	if b.Status != models.StatusCompleted || b.PreviewURL == "" {
		t.Fatalf("completed row should survive reload: %+v", b)
	}

	// New combinations must continue the persisted sequence.
	combo, _ := col.Create(heroAssignments())
	if combo.Seq <= 2 {
		t.Fatalf("sequence must continue past loaded rows, got %d", combo.Seq)
	}
}
