package service

import (
	"context"
	"fmt"

	"annotation-engine/internal/detector"
	"annotation-engine/internal/geometry"
	"annotation-engine/internal/imageio"
	"annotation-engine/internal/merge"
	"annotation-engine/internal/models"
	"annotation-engine/internal/repository"

	"go.uber.org/zap"
)

// Annotator orchestrates auto-annotation: load project images, invoke
// the detector, normalize coordinates, apply the class filter, merge
// with existing annotations and persist the result as one batch.
type Annotator struct {
	repo   *repository.ProjectRepository
	det    detector.Detector
	logger *zap.Logger
}

// NewAnnotator creates the annotation engine.
func NewAnnotator(repo *repository.ProjectRepository, det detector.Detector, logger *zap.Logger) *Annotator {
	return &Annotator{
		repo:   repo,
		det:    det,
		logger: logger,
	}
}

// AutoAnnotate runs the detector over every image of the project and
// merges the results under the given mode. A detector failure on one
// image is recorded in the report and never aborts the run; a missing
// project fails the whole call. The reconciled annotation map is
// persisted in a single batch at the end, so a crash mid-run leaves
// prior state untouched.
func (a *Annotator) AutoAnnotate(ctx context.Context, projectID string, opts detector.Options, filterClasses []string, mode models.MergeMode) (*models.AutoAnnotateReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := models.ParseMergeMode(string(mode)); err != nil {
		return nil, err
	}

	proj, err := a.repo.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	// A provided class filter becomes the class list of the run; export
	// resolves indices by label, so stale annotations keep their labels
	// but fall back to index 0 if their class was filtered away.
	classes := proj.Classes
	if len(filterClasses) > 0 {
		classes = filterClasses
	}

	var allow map[string]bool
	if len(filterClasses) > 0 {
		allow = make(map[string]bool, len(filterClasses))
		for _, c := range filterClasses {
			allow[c] = true
		}
	}

	report := &models.AutoAnnotateReport{
		ProjectID:   projectID,
		ClassCounts: make(map[string]int),
		Classes:     classes,
		MergeMode:   mode,
	}

	annotations := cloneAnnotations(proj.Annotations)
	opts.Classes = classes

	for _, img := range proj.Images {
		if err := ctx.Err(); err != nil {
			// Nothing has been persisted yet; a cancelled run leaves
			// prior state untouched.
			return nil, err
		}

		incoming, err := a.annotateImage(ctx, img, opts, allow, classes, report)
		if err != nil {
			report.Failures = append(report.Failures, models.ImageFailure{
				Image:  img.Name,
				Reason: err.Error(),
			})
			a.logger.Warn("Image annotation failed",
				zap.String("project_id", projectID),
				zap.String("image", img.Name),
				zap.Error(err))
			continue
		}

		merged, err := merge.Apply(mode, annotations[img.Name], incoming, merge.DefaultIoUThreshold)
		if err != nil {
			return nil, err
		}
		annotations[img.Name] = merged
		report.ImagesProcessed++
	}

	if err := a.repo.SaveAnnotations(projectID, annotations, classes); err != nil {
		return nil, fmt.Errorf("failed to persist annotations: %w", err)
	}

	a.logger.Info("Auto-annotation completed",
		zap.String("project_id", projectID),
		zap.String("mode", string(mode)),
		zap.Int("images", report.ImagesProcessed),
		zap.Int("detections", report.DetectionsKept),
		zap.Int("skipped", report.SkippedByFilter),
		zap.Int("failures", len(report.Failures)))
	return report, nil
}

// BatchAnnotate runs the detector over an explicit subset of image
// names, overwriting only those images' entries in the existing
// annotation map. Names without a file on disk are silently skipped.
func (a *Annotator) BatchAnnotate(ctx context.Context, projectID string, imageNames []string, opts detector.Options) (*models.AutoAnnotateReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	proj, err := a.repo.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	report := &models.AutoAnnotateReport{
		ProjectID:   projectID,
		ClassCounts: make(map[string]int),
		Classes:     proj.Classes,
		MergeMode:   models.MergeReplace,
	}

	byName := make(map[string]models.ImageRecord, len(proj.Images))
	for _, img := range proj.Images {
		byName[img.Name] = img
	}

	annotations := cloneAnnotations(proj.Annotations)
	opts.Classes = proj.Classes

	for _, name := range imageNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, ok := byName[name]
		if !ok {
			continue
		}

		incoming, err := a.annotateImage(ctx, img, opts, nil, proj.Classes, report)
		if err != nil {
			report.Failures = append(report.Failures, models.ImageFailure{
				Image:  name,
				Reason: err.Error(),
			})
			continue
		}
		annotations[name] = incoming
		report.ImagesProcessed++
	}

	if err := a.repo.SaveAnnotations(projectID, annotations, proj.Classes); err != nil {
		return nil, fmt.Errorf("failed to persist annotations: %w", err)
	}
	return report, nil
}

// annotateImage detects on one image and converts kept detections into
// normalized machine annotations, updating the report counters.
func (a *Annotator) annotateImage(ctx context.Context, img models.ImageRecord, opts detector.Options, allow map[string]bool, classes []string, report *models.AutoAnnotateReport) ([]models.Annotation, error) {
	detections, err := a.det.Detect(ctx, img.Path, opts)
	if err != nil {
		return nil, err
	}

	width, height, err := imageio.Dimensions(img.Path)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image %s has empty dimensions", img.Name)
	}

	incoming := make([]models.Annotation, 0, len(detections))
	for _, det := range detections {
		if allow != nil && !allow[det.Class] {
			report.SkippedByFilter++
			continue
		}

		box := pixelToNormalized(det.Box, float64(width), float64(height))
		classID := det.ClassID
		for i, c := range classes {
			if c == det.Class {
				classID = i
				break
			}
		}

		incoming = append(incoming, models.Annotation{
			Class:      det.Class,
			ClassID:    classID,
			X:          box.X,
			Y:          box.Y,
			Width:      box.Width,
			Height:     box.Height,
			Confidence: det.Confidence,
			Auto:       true,
		})
		report.DetectionsKept++
		report.ClassCounts[det.Class]++
	}
	return incoming, nil
}

// SaveAnnotations persists a hand-edited annotation map, reporting a
// success flag and message to the caller.
func (a *Annotator) SaveAnnotations(projectID string, annotations map[string][]models.Annotation, classes []string) (*models.OpResult, error) {
	if err := a.repo.SaveAnnotations(projectID, annotations, classes); err != nil {
		if repository.IsNotFound(err) {
			return &models.OpResult{Success: false, Message: "Project not found"}, err
		}
		return &models.OpResult{Success: false, Message: err.Error()}, err
	}
	return &models.OpResult{Success: true, Message: "Annotations saved successfully"}, nil
}

// Statistics aggregates per-class and per-origin annotation counts for
// a project. Labels missing from the current class list are excluded
// from ClassCounts but still count toward the auto/manual totals.
func (a *Annotator) Statistics(projectID string) (*models.Stats, error) {
	proj, err := a.repo.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	stats := &models.Stats{
		TotalImages: len(proj.Images),
		ClassCounts: make(map[string]int, len(proj.Classes)),
		Completion:  "0%",
	}
	for _, c := range proj.Classes {
		stats.ClassCounts[c] = 0
	}

	known := make(map[string]bool, len(proj.Classes))
	for _, c := range proj.Classes {
		known[c] = true
	}

	for _, img := range proj.Images {
		anns := proj.Annotations[img.Name]
		if len(anns) > 0 {
			stats.AnnotatedImages++
		}
		for _, ann := range anns {
			stats.TotalAnnotations++
			if known[ann.Class] {
				stats.ClassCounts[ann.Class]++
			}
			if ann.Auto {
				stats.AutoCount++
			} else {
				stats.ManualCount++
			}
		}
	}
	stats.UnannotatedImages = stats.TotalImages - stats.AnnotatedImages

	if stats.TotalImages > 0 {
		rate := float64(stats.AnnotatedImages) / float64(stats.TotalImages) * 100
		stats.Completion = fmt.Sprintf("%.1f%%", rate)
	}
	return stats, nil
}

// pixelToNormalized converts a pixel-space (x1,y1,x2,y2) box into a
// normalized top-left box clamped into the unit square.
func pixelToNormalized(box [4]float64, width, height float64) geometry.Box {
	b := geometry.Box{
		X:      box[0] / width,
		Y:      box[1] / height,
		Width:  (box[2] - box[0]) / width,
		Height: (box[3] - box[1]) / height,
	}
	return b.ClampUnit()
}

func cloneAnnotations(in map[string][]models.Annotation) map[string][]models.Annotation {
	out := make(map[string][]models.Annotation, len(in))
	for k, v := range in {
		out[k] = append([]models.Annotation(nil), v...)
	}
	return out
}
