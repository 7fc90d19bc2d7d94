// Package imageio bundles image file recognition and decoding for the
// annotation core: jpeg, png, gif, bmp and webp.
package imageio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	// Registered for image.Decode / image.DecodeConfig.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// imageExtensions are the file extensions recognized as project images.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// IsImageFile reports whether the file name carries a recognized image
// extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// ListImages returns the names of all recognized image files directly in
// dir (non-recursive), sorted for a stable listing.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Load decodes an image from a file. imaging.Open covers every
// registered format; a direct webp decode is kept as a fallback for
// files whose sniff bytes confuse the registry.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err == nil {
		return img, nil
	}

	f, ferr := os.Open(path)
	if ferr != nil {
		return nil, ferr
	}
	defer f.Close()

	if wimg, werr := webp.Decode(f); werr == nil {
		return wimg, nil
	}
	return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
}

// Dimensions returns the pixel width and height of an image file without
// decoding the full pixel data.
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		if _, serr := f.Seek(0, 0); serr == nil {
			if wcfg, werr := webp.DecodeConfig(f); werr == nil {
				return wcfg.Width, wcfg.Height, nil
			}
		}
		return 0, 0, fmt.Errorf("failed to read dimensions of %s: %w", filepath.Base(path), err)
	}
	return cfg.Width, cfg.Height, nil
}

// EncodeForModel downscales an image so its longest side does not exceed
// maxDim, JPEG-encodes it at the given quality and returns it as base64
// for a vision-model request.
func EncodeForModel(img image.Image, maxDim, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("failed to encode image for model: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
