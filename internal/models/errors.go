package models

import "errors"

// Sentinel errors for the annotation core. Callers discriminate with
// errors.Is; every layer wraps with fmt.Errorf("...: %w", err).
var (
	// ErrProjectNotFound is returned when a project id does not resolve
	// to a stored project.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists is returned on a project id collision.
	ErrProjectExists = errors.New("project already exists")

	// ErrInvalidInput covers malformed merge modes, empty project names
	// and out-of-range thresholds. Malformed box geometry is
	// geometry.ErrInvalidGeometry.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoAnnotations is returned by the exporter when a project has no
	// saved annotations to export.
	ErrNoAnnotations = errors.New("project has no annotations")
)
