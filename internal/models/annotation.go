package models

import (
	"fmt"
	"time"

	"annotation-engine/internal/geometry"
)

// DefaultClasses is the class list assumed for projects that have never
// saved one.
var DefaultClasses = []string{"person", "car", "dog", "cat"}

// MergeMode selects how newly detected annotations combine with the
// annotations already stored for an image.
type MergeMode string

const (
	// MergeReplace discards existing annotations in favour of the new ones.
	MergeReplace MergeMode = "replace"
	// MergeAppend concatenates existing then new, no deduplication.
	MergeAppend MergeMode = "append"
	// MergeSmart deduplicates same-class overlapping boxes by IoU.
	MergeSmart MergeMode = "smart_merge"
)

// ParseMergeMode validates a mode string coming from the outside.
func ParseMergeMode(s string) (MergeMode, error) {
	switch MergeMode(s) {
	case MergeReplace, MergeAppend, MergeSmart:
		return MergeMode(s), nil
	}
	return "", fmt.Errorf("%w: unknown merge mode %q", ErrInvalidInput, s)
}

// Annotation is one labelled bounding box on one image. Coordinates are
// normalized to [0,1] relative to the image dimensions, (X, Y) being the
// top-left corner. The JSON field names match the on-disk
// annotations.json format.
type Annotation struct {
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Auto       bool    `json:"auto"`
}

// Box returns the annotation's bounding box.
func (a Annotation) Box() geometry.Box {
	return geometry.Box{X: a.X, Y: a.Y, Width: a.Width, Height: a.Height}
}

// Validate checks box geometry and confidence range.
func (a Annotation) Validate() error {
	if err := a.Box().Validate(); err != nil {
		return err
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidInput, a.Confidence)
	}
	return nil
}

// Detection is a raw detector result in pixel space. Box holds
// (x1, y1, x2, y2) corner coordinates. ClassID comes from the detector's
// own label space, not the project class list.
type Detection struct {
	Class      string     `json:"class"`
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// ImageRecord is one image file owned by a project.
type ImageRecord struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ProjectSummary is the metadata stored in project.json and in the
// global projects.json index.
type ProjectSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Path        string    `json:"path"`
}

// Project is a fully loaded project: metadata plus image listing,
// annotation map and class list.
type Project struct {
	ProjectSummary
	Images      []ImageRecord           `json:"images"`
	Annotations map[string][]Annotation `json:"annotations"`
	Classes     []string                `json:"classes"`
}

// ImageFailure records a per-image error during a batch operation.
// Failures are data in the report, they never abort the batch.
type ImageFailure struct {
	Image  string `json:"image"`
	Reason string `json:"reason"`
}

// AutoAnnotateReport summarizes one auto-annotation run.
type AutoAnnotateReport struct {
	ProjectID       string         `json:"project_id"`
	ImagesProcessed int            `json:"images_processed"`
	DetectionsKept  int            `json:"detections_kept"`
	SkippedByFilter int            `json:"skipped_by_filter"`
	ClassCounts     map[string]int `json:"class_counts"`
	Classes         []string       `json:"classes"`
	MergeMode       MergeMode      `json:"merge_mode"`
	Failures        []ImageFailure `json:"failures,omitempty"`
}

// OpResult is the success flag plus human-readable message returned by
// mutating operations at the service boundary.
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Stats aggregates annotation counts for a project. ClassCounts uses the
// project's current class list as its universe; annotations with labels
// outside that list still count toward the auto/manual totals.
type Stats struct {
	TotalImages       int            `json:"total_images"`
	AnnotatedImages   int            `json:"annotated_images"`
	UnannotatedImages int            `json:"unannotated_images"`
	TotalAnnotations  int            `json:"total_annotations"`
	ClassCounts       map[string]int `json:"class_counts"`
	AutoCount         int            `json:"auto_count"`
	ManualCount       int            `json:"manual_count"`
	Completion        string         `json:"completion"`
}
