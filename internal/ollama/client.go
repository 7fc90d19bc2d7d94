// Package ollama adapts an Ollama-served vision model to the detector
// boundary. The model is prompted for JSON-only detections; responses
// are sanitized and mapped back to pixel coordinates of the original
// image.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"annotation-engine/internal/detector"
	"annotation-engine/internal/imageio"
	"annotation-engine/internal/models"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const detectPromptTemplate = `You are an object detector.

Find every object in the image belonging to these classes: %s.

Return JSON only:
{
  "detections": [
    {"class": "string", "confidence": 0.0, "box": [x1, y1, x2, y2]}
  ]
}

HARD RULES
- Box coordinates are normalized to [0,1] relative to the image, corners
  as [left, top, right, bottom].
- Report each object once; suppress overlapping duplicate boxes above
  an overlap ratio of %.2f.
- Only report detections with confidence of at least %.2f.
- If nothing is found, return {"detections": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Config holds the connection and encoding settings for the adapter.
type Config struct {
	Endpoint    string
	Model       string
	MaxImageDim int
	JPEGQuality int
	Timeout     time.Duration
}

// Client is a detector.Detector backed by an Ollama vision model.
type Client struct {
	client *api.Client
	cfg    Config
	logger *zap.Logger
}

// NewClient parses the endpoint URL and builds the API client. The path
// component is dropped so both "http://host:11434" and full chat URLs
// are accepted.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama endpoint: %w", err)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	if cfg.MaxImageDim <= 0 {
		cfg.MaxImageDim = 1024
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &Client{
		client: api.NewClient(base, http.DefaultClient),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// detectResponse is the JSON shape requested from the model.
type detectResponse struct {
	Detections []struct {
		Class      string     `json:"class"`
		Confidence float64    `json:"confidence"`
		Box        [4]float64 `json:"box"`
	} `json:"detections"`
}

// Detect loads the image, sends a downscaled copy to the vision model
// and maps the reported boxes back to pixel coordinates of the original
// image. Detections below the confidence threshold are dropped.
func (c *Client) Detect(ctx context.Context, imagePath string, opts detector.Options) ([]models.Detection, error) {
	img, err := imageio.Load(imagePath)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := float64(bounds.Dx()), float64(bounds.Dy())

	encoded, err := imageio.EncodeForModel(img, c.cfg.MaxImageDim, c.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	imgBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encoded image: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	classes := "any common object class"
	if len(opts.Classes) > 0 {
		classes = strings.Join(opts.Classes, ", ")
	}
	prompt := fmt.Sprintf(detectPromptTemplate, classes, opts.IoUThreshold, opts.Confidence)

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.cfg.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream: &streamFalse,
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	if responseContent == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	parsed, err := parseDetections(responseContent)
	if err != nil {
		return nil, err
	}

	detections := make([]models.Detection, 0, len(parsed.Detections))
	for _, d := range parsed.Detections {
		if d.Confidence < opts.Confidence {
			continue
		}
		class := strings.ToLower(strings.TrimSpace(d.Class))
		classID := 0
		for i, name := range opts.Classes {
			if name == class {
				classID = i
				break
			}
		}
		detections = append(detections, models.Detection{
			Class:      class,
			ClassID:    classID,
			Confidence: d.Confidence,
			Box:        c.toPixelBox(d.Box, width, height),
		})
	}

	c.logger.Debug("Detection complete",
		zap.String("image", imagePath),
		zap.String("model", c.cfg.Model),
		zap.Int("detections", len(detections)))
	return detections, nil
}

// toPixelBox scales a normalized [x1,y1,x2,y2] box to pixel space of
// the original image. A model that answers in pixels of the downscaled
// copy anyway is detected by values above 1 and rescaled by the
// downscale factor.
func (c *Client) toPixelBox(box [4]float64, width, height float64) [4]float64 {
	if box[0] > 1 || box[1] > 1 || box[2] > 1 || box[3] > 1 {
		scale := 1.0
		longest := width
		if height > longest {
			longest = height
		}
		if longest > float64(c.cfg.MaxImageDim) {
			scale = longest / float64(c.cfg.MaxImageDim)
		}
		return [4]float64{box[0] * scale, box[1] * scale, box[2] * scale, box[3] * scale}
	}
	return [4]float64{box[0] * width, box[1] * height, box[2] * width, box[3] * height}
}

// parseDetections sanitizes and unmarshals the model response.
func parseDetections(raw string) (*detectResponse, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return nil, fmt.Errorf("model returned non-JSON response")
	}

	var resp detectResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			if err2 := json.Unmarshal([]byte(raw[start:end+1]), &resp); err2 == nil {
				return &resp, nil
			}
		}
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return &resp, nil
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas
// that vision models like to sneak into "JSON only" answers.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
