// Package merge reconciles machine-generated annotations against the
// annotations already stored for an image.
package merge

import (
	"fmt"

	"annotation-engine/internal/geometry"
	"annotation-engine/internal/models"
)

// DefaultIoUThreshold is the overlap above which two same-class boxes
// are treated as the same physical object.
const DefaultIoUThreshold = 0.5

// Apply combines existing and incoming annotations under the given
// merge mode. The mode switch is exhaustive; an unknown mode is an
// input error, never a silent no-op.
func Apply(mode models.MergeMode, existing, incoming []models.Annotation, iouThreshold float64) ([]models.Annotation, error) {
	switch mode {
	case models.MergeReplace:
		return append([]models.Annotation(nil), incoming...), nil
	case models.MergeAppend:
		out := append([]models.Annotation(nil), existing...)
		return append(out, incoming...), nil
	case models.MergeSmart:
		return Smart(existing, incoming, iouThreshold), nil
	}
	return nil, fmt.Errorf("%w: unknown merge mode %q", models.ErrInvalidInput, mode)
}

// Smart deduplicates incoming annotations against the existing set.
// For each incoming annotation the evolving result is scanned in order
// for the first same-class annotation with IoU above the threshold;
// that one is replaced in place only when the incoming confidence is
// strictly higher, otherwise the incoming annotation is dropped.
// Unmatched annotations are appended. The first-match scan (rather than
// best-match) means same-class boxes overlapping below the threshold
// remain distinct objects, and boxes of different classes are never
// merged.
func Smart(existing, incoming []models.Annotation, iouThreshold float64) []models.Annotation {
	result := append([]models.Annotation(nil), existing...)

	for _, n := range incoming {
		matched := false
		for i, e := range result {
			if e.Class != n.Class {
				continue
			}
			iou, err := geometry.IoU(e.Box(), n.Box())
			if err != nil || iou <= iouThreshold {
				continue
			}
			if n.Confidence > e.Confidence {
				result[i] = n
			}
			matched = true
			break
		}
		if !matched {
			result = append(result, n)
		}
	}
	return result
}
