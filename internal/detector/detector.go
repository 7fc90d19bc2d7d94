// Package detector defines the boundary to the object-detection oracle.
// The annotation engine only ever sees this interface; what runs behind
// it (a local vision model, a remote inference server) is opaque.
package detector

import (
	"context"
	"fmt"
	"sync"

	"annotation-engine/internal/models"

	"go.uber.org/zap"
)

// Options carries the per-request detector configuration. IoUThreshold
// parameterizes the detector's own non-maximum suppression and is
// unrelated to the merge resolver's duplicate threshold. Classes is a
// hint for the backend; filtering is still enforced by the engine.
type Options struct {
	Confidence   float64
	IoUThreshold float64
	Classes      []string
}

// Validate checks that both thresholds lie in (0,1].
func (o Options) Validate() error {
	if o.Confidence <= 0 || o.Confidence > 1 {
		return fmt.Errorf("%w: confidence threshold %v out of (0,1]", models.ErrInvalidInput, o.Confidence)
	}
	if o.IoUThreshold <= 0 || o.IoUThreshold > 1 {
		return fmt.Errorf("%w: iou threshold %v out of (0,1]", models.ErrInvalidInput, o.IoUThreshold)
	}
	return nil
}

// Detector produces pixel-space detections for one image. A failed
// invocation is recoverable per image; callers collect it rather than
// abort their batch.
type Detector interface {
	Detect(ctx context.Context, imagePath string, opts Options) ([]models.Detection, error)
}

// Factory builds a detector instance for a model name.
type Factory func(model string) (Detector, error)

// Registry caches detector instances keyed by model name for the
// process lifetime. It is owned by the adapter layer, not by the
// engine, so model loading cost is paid once per model.
type Registry struct {
	factory Factory
	logger  *zap.Logger

	mu        sync.Mutex
	detectors map[string]Detector
}

// NewRegistry creates a registry around the given factory.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	return &Registry{
		factory:   factory,
		logger:    logger,
		detectors: make(map[string]Detector),
	}
}

// Get returns the cached detector for model, building it on first use.
func (r *Registry) Get(model string) (Detector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.detectors[model]; ok {
		return d, nil
	}
	d, err := r.factory(model)
	if err != nil {
		return nil, fmt.Errorf("failed to build detector %q: %w", model, err)
	}
	r.detectors[model] = d
	r.logger.Info("Detector loaded", zap.String("model", model))
	return d, nil
}
