package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"creative-matrix/internal/models"
	"creative-matrix/internal/platformspec"
	"creative-matrix/internal/telemetry"
)

const archiveFolder = "matrix_export"

// NotCompletedError reports an export attempted against a combination that
// has not finished rendering.
type NotCompletedError struct {
	ID     string
	Status string
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("combination %s is %s, not completed", e.ID, e.Status)
}

// Outcome is the per-combination result of an export call.
type Outcome struct {
	CombinationID string `json:"combination_id"`
	Status        string `json:"status"` // exported | published | skipped | failed
	Reason        string `json:"reason,omitempty"`
	Location      string `json:"location,omitempty"`
	Published     bool   `json:"published,omitempty"`
}

// Pipeline packages completed combinations for download or dispatches them
// to a distribution target. It is strictly read-only with respect to the
// combinations it exports; re-running an export never mutates their state.
type Pipeline struct {
	specs    *platformspec.Registry
	media    MediaFetcher
	dist     Distributor
	uploader Uploader
	now      func() time.Time
}

// NewPipeline wires the export pipeline and its collaborators.
func NewPipeline(specs *platformspec.Registry, media MediaFetcher, dist Distributor, uploader Uploader) *Pipeline {
	return &Pipeline{
		specs:    specs,
		media:    media,
		dist:     dist,
		uploader: uploader,
		now:      time.Now,
	}
}

// ExportOne exports a single completed combination. Unlike the batch path it
// fails fast: precondition violations, unknown platforms, and fetch errors
// surface as errors to the caller.
func (p *Pipeline) ExportOne(ctx context.Context, combo *models.Combination, target Target, overrides map[string][]string) (Outcome, error) {
	if combo.Status != models.StatusCompleted {
		telemetry.ExportsSkipped.Inc()
		return Outcome{CombinationID: combo.ID, Status: "skipped", Reason: "not completed"},
			&NotCompletedError{ID: combo.ID, Status: combo.Status}
	}
	if target.Download {
		return p.downloadOne(ctx, combo)
	}
	return p.publishOne(ctx, combo, target, overrides)
}

// ExportMany exports a batch. Every combination yields exactly one outcome:
// non-completed items are reported as skipped and per-item failures never
// abort their siblings. Download batches are bundled into one zip archive.
func (p *Pipeline) ExportMany(ctx context.Context, combos []*models.Combination, target Target, overrides map[string][]string) []Outcome {
	if target.Download {
		return p.downloadMany(ctx, combos)
	}

	outcomes := make([]Outcome, 0, len(combos))
	for _, combo := range combos {
		out, err := p.ExportOne(ctx, combo, target, overrides)
		if err != nil && out.Status != "skipped" {
			out = Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()}
			telemetry.ExportsFailed.Inc()
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// downloadOne fetches the preview media and writes a single file named from
// the combination id.
func (p *Pipeline) downloadOne(ctx context.Context, combo *models.Combination) (Outcome, error) {
	body, contentType, err := p.media.Fetch(ctx, combo.PreviewURL)
	if err != nil {
		telemetry.ExportsFailed.Inc()
		return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()},
			fmt.Errorf("fetch media for %s: %w", combo.ID, err)
	}

	name := exportFileName(combo)
	location, err := p.uploader.Upload(ctx, name, body, contentTypeFor(combo, contentType))
	if err != nil {
		telemetry.ExportsFailed.Inc()
		return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()},
			fmt.Errorf("write export for %s: %w", combo.ID, err)
	}

	telemetry.ExportsCompleted.Inc()
	return Outcome{CombinationID: combo.ID, Status: "exported", Location: location}, nil
}

// downloadMany fetches each item independently and bundles the successes
// into one timestamped archive under a fixed folder name.
func (p *Pipeline) downloadMany(ctx context.Context, combos []*models.Combination) []Outcome {
	outcomes := make([]Outcome, len(combos))
	type entry struct {
		outcome int
		name    string
		body    []byte
	}
	var entries []entry

	for i, combo := range combos {
		if combo.Status != models.StatusCompleted {
			outcomes[i] = Outcome{CombinationID: combo.ID, Status: "skipped", Reason: "not completed"}
			telemetry.ExportsSkipped.Inc()
			continue
		}
		body, _, err := p.media.Fetch(ctx, combo.PreviewURL)
		if err != nil {
			outcomes[i] = Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()}
			telemetry.ExportsFailed.Inc()
			continue
		}
		outcomes[i] = Outcome{CombinationID: combo.ID, Status: "exported"}
		entries = append(entries, entry{outcome: i, name: exportFileName(combo), body: body})
	}
	if len(entries) == 0 {
		return outcomes
	}

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		w, err := zw.Create(archiveFolder + "/" + e.name)
		if err == nil {
			_, err = w.Write(e.body)
		}
		if err != nil {
			// An unwriteable entry spoils only itself, not the archive.
			outcomes[e.outcome] = Outcome{CombinationID: outcomes[e.outcome].CombinationID, Status: "failed", Reason: err.Error()}
		}
	}
	bodies := make([][]byte, len(entries))
	for i, e := range entries {
		bodies[i] = e.body
	}
	if sheet := buildContactSheet(bodies); sheet != nil {
		if w, err := zw.Create(archiveFolder + "/contact_sheet.jpg"); err == nil {
			_, _ = w.Write(sheet)
		}
	}
	if err := zw.Close(); err != nil {
		for _, e := range entries {
			outcomes[e.outcome] = Outcome{CombinationID: combos[e.outcome].ID, Status: "failed", Reason: err.Error()}
		}
		return outcomes
	}

	location, err := p.uploader.Upload(ctx, p.archiveName(), buf.Bytes(), "application/zip")
	if err != nil {
		for _, e := range entries {
			outcomes[e.outcome] = Outcome{CombinationID: combos[e.outcome].ID, Status: "failed", Reason: err.Error()}
			telemetry.ExportsFailed.Inc()
		}
		return outcomes
	}
	for _, e := range entries {
		if outcomes[e.outcome].Status == "exported" {
			outcomes[e.outcome].Location = location
			telemetry.ExportsCompleted.Inc()
		}
	}
	return outcomes
}

// publishOne validates against the platform spec, uploads aspect-ratio
// renditions for image creatives, and hands the combination to the
// distribution service.
func (p *Pipeline) publishOne(ctx context.Context, combo *models.Combination, target Target, overrides map[string][]string) (Outcome, error) {
	formats, err := p.specs.RequiredFormats(target.Platform, target.Placement, overrides)
	if err != nil {
		telemetry.ExportsFailed.Inc()
		return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()}, err
	}
	spec, err := p.specs.Resolve(target.Platform, target.Placement)
	if err != nil {
		telemetry.ExportsFailed.Inc()
		return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()}, err
	}

	body, _, err := p.media.Fetch(ctx, combo.PreviewURL)
	if err != nil {
		telemetry.ExportsFailed.Inc()
		return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()},
			fmt.Errorf("fetch media for %s: %w", combo.ID, err)
	}
	if spec.MaxFileSizeMB > 0 && len(body) > spec.MaxFileSizeMB*1024*1024 {
		err := fmt.Errorf("media exceeds %s/%s file size ceiling (%dMB)", target.Platform, target.Placement, spec.MaxFileSizeMB)
		telemetry.ExportsFailed.Inc()
		return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()}, err
	}

	if !combo.HasVideo() {
		renditions, err := buildRenditions(body, formats)
		if err != nil {
			telemetry.ExportsFailed.Inc()
			return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()}, err
		}
		for ratio, rendition := range renditions {
			key := fmt.Sprintf("renditions/%s/%s.jpg", shortID(combo.ID), ratioKey(ratio))
			if _, err := p.uploader.Upload(ctx, key, rendition, "image/jpeg"); err != nil {
				telemetry.ExportsFailed.Inc()
				return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()},
					fmt.Errorf("upload %s rendition for %s: %w", ratio, combo.ID, err)
			}
		}
	}

	ok, err := p.dist.Publish(ctx, combo.ID, target.Platform, target.Placement, combo.AssetIDs())
	if err != nil {
		telemetry.ExportsFailed.Inc()
		return Outcome{CombinationID: combo.ID, Status: "failed", Reason: err.Error()},
			fmt.Errorf("distribute %s: %w", combo.ID, err)
	}
	if !ok {
		telemetry.ExportsFailed.Inc()
		return Outcome{CombinationID: combo.ID, Status: "failed", Reason: "distribution rejected", Published: false}, nil
	}
	telemetry.ExportsCompleted.Inc()
	return Outcome{CombinationID: combo.ID, Status: "published", Published: true}, nil
}

// archiveName builds the timestamped zip name; colons and dots in the ISO
// timestamp are replaced so the name is filesystem-safe everywhere.
func (p *Pipeline) archiveName() string {
	stamp := p.now().UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return "matrix_export_" + stamp + ".zip"
}

// exportFileName derives the single-file name: mp4 when any slot holds a
// video asset, jpg otherwise.
func exportFileName(combo *models.Combination) string {
	ext := "jpg"
	if combo.HasVideo() {
		ext = "mp4"
	}
	return fmt.Sprintf("matrix_%s.%s", shortID(combo.ID), ext)
}

func contentTypeFor(combo *models.Combination, fallback string) string {
	if combo.HasVideo() {
		return "video/mp4"
	}
	if fallback != "" {
		return fallback
	}
	return "image/jpeg"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
