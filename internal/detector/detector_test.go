package detector

import (
	"context"
	"errors"
	"testing"

	"annotation-engine/internal/models"

	"go.uber.org/zap"
)

type nopDetector struct{ model string }

func (nopDetector) Detect(context.Context, string, Options) ([]models.Detection, error) {
	return nil, nil
}

func TestOptionsValidate(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"valid", Options{Confidence: 0.25, IoUThreshold: 0.45}, true},
		{"upper bounds", Options{Confidence: 1, IoUThreshold: 1}, true},
		{"zero confidence", Options{Confidence: 0, IoUThreshold: 0.45}, false},
		{"confidence above one", Options{Confidence: 1.1, IoUThreshold: 0.45}, false},
		{"zero iou", Options{Confidence: 0.25, IoUThreshold: 0}, false},
		{"negative iou", Options{Confidence: 0.25, IoUThreshold: -0.1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tc.ok {
				if !errors.Is(err, models.ErrInvalidInput) {
					t.Errorf("Validate() = %v, want ErrInvalidInput", err)
				}
			}
		})
	}
}

func TestRegistryCachesPerModel(t *testing.T) {
	built := 0
	r := NewRegistry(func(model string) (Detector, error) {
		built++
		return nopDetector{model: model}, nil
	}, zap.NewNop())

	first, err := r.Get("qwen2.5vl")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := r.Get("qwen2.5vl")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if built != 1 {
		t.Errorf("factory ran %d times for one model, want 1", built)
	}
	if first != second {
		t.Error("repeated Get returned a different instance")
	}

	if _, err := r.Get("llava"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if built != 2 {
		t.Errorf("factory ran %d times for two models, want 2", built)
	}
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("model unavailable")
	r := NewRegistry(func(string) (Detector, error) {
		return nil, boom
	}, zap.NewNop())

	if _, err := r.Get("m"); !errors.Is(err, boom) {
		t.Errorf("Get() = %v, want wrapped factory error", err)
	}
}
