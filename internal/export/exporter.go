// Package export writes a project's annotation state into the standard
// YOLO dataset layout and packages it as a zip archive.
package export

import (
	"archive/zip"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"annotation-engine/internal/models"
	"annotation-engine/internal/repository"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	exportDirName = "export_yolo"
	trainRatio    = 0.8
)

// Exporter derives dataset archives from stored annotation state. The
// annotation store stays the source of truth; everything written here is
// regenerated on each export.
type Exporter struct {
	repo   *repository.ProjectRepository
	logger *zap.Logger
}

// NewExporter creates an exporter over the repository.
func NewExporter(repo *repository.ProjectRepository, logger *zap.Logger) *Exporter {
	return &Exporter{repo: repo, logger: logger}
}

// datasetDescriptor is the data.yaml consumed by external training
// tooling: dataset root, split directories and the index→name class map.
type datasetDescriptor struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	Names map[int]string `yaml:"names"`
}

// ExportYOLO splits the project's images 80/20 into train/val, writes
// images, label files, the dataset descriptor and a summary, and zips
// the tree. The shuffle is seeded from the project id so re-exporting
// unchanged state yields the same split. The produced archive path is
// returned; on failure no partial archive exists and the intermediate
// tree is cleaned up.
func (e *Exporter) ExportYOLO(projectID string) (string, error) {
	proj, err := e.repo.GetProject(projectID)
	if err != nil {
		return "", err
	}
	if len(proj.Annotations) == 0 {
		return "", fmt.Errorf("%w: %s", models.ErrNoAnnotations, projectID)
	}

	exportDir := filepath.Join(proj.Path, exportDirName)
	if err := os.RemoveAll(exportDir); err != nil {
		return "", fmt.Errorf("failed to clear export dir: %w", err)
	}
	// The intermediate tree never survives this call.
	defer os.RemoveAll(exportDir)

	splits := map[string][2]string{
		"train": {filepath.Join(exportDir, "images", "train"), filepath.Join(exportDir, "labels", "train")},
		"val":   {filepath.Join(exportDir, "images", "val"), filepath.Join(exportDir, "labels", "val")},
	}
	for _, dirs := range splits {
		for _, d := range dirs {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return "", fmt.Errorf("failed to create export dirs: %w", err)
			}
		}
	}

	images := append([]models.ImageRecord(nil), proj.Images...)
	shuffleImages(images, projectID)
	splitIdx := int(float64(len(images)) * trainRatio)
	trainImages := images[:splitIdx]
	valImages := images[splitIdx:]

	for _, img := range trainImages {
		if err := e.writeImage(img, splits["train"], proj.Annotations[img.Name], proj.Classes); err != nil {
			return "", err
		}
	}
	for _, img := range valImages {
		if err := e.writeImage(img, splits["val"], proj.Annotations[img.Name], proj.Classes); err != nil {
			return "", err
		}
	}

	if err := e.writeDescriptor(exportDir, proj.Classes); err != nil {
		return "", err
	}
	if err := e.writeSummary(exportDir, projectID, len(images), len(trainImages), len(valImages), proj.Classes); err != nil {
		return "", err
	}

	zipPath := filepath.Join(proj.Path, projectID+"_yolo.zip")
	if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove stale archive: %w", err)
	}
	if err := zipDir(exportDir, zipPath); err != nil {
		os.Remove(zipPath)
		return "", fmt.Errorf("failed to package archive: %w", err)
	}

	e.logger.Info("Dataset exported",
		zap.String("project_id", projectID),
		zap.Int("train", len(trainImages)),
		zap.Int("val", len(valImages)),
		zap.String("archive", zipPath))
	return zipPath, nil
}

// writeImage copies one image into its split and writes the label file
// alongside. Images without annotations get an empty label file so
// every image has a label counterpart.
func (e *Exporter) writeImage(img models.ImageRecord, dirs [2]string, anns []models.Annotation, classes []string) error {
	imagesDir, labelsDir := dirs[0], dirs[1]

	if err := copyFile(img.Path, filepath.Join(imagesDir, img.Name)); err != nil {
		return fmt.Errorf("failed to copy %s: %w", img.Name, err)
	}

	base := strings.TrimSuffix(img.Name, filepath.Ext(img.Name))
	labelPath := filepath.Join(labelsDir, base+".txt")

	var sb strings.Builder
	for _, ann := range anns {
		// Class index is resolved by label against the current class
		// list; labels no longer present resolve to 0.
		classID := 0
		for i, c := range classes {
			if c == ann.Class {
				classID = i
				break
			}
		}
		centerX := ann.X + ann.Width/2
		centerY := ann.Y + ann.Height/2
		fmt.Fprintf(&sb, "%d %.6f %.6f %.6f %.6f\n", classID, centerX, centerY, ann.Width, ann.Height)
	}

	if err := os.WriteFile(labelPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write label %s: %w", labelPath, err)
	}
	return nil
}

func (e *Exporter) writeDescriptor(exportDir string, classes []string) error {
	names := make(map[int]string, len(classes))
	for i, c := range classes {
		names[i] = c
	}
	desc := datasetDescriptor{
		Path:  exportDir,
		Train: "images/train",
		Val:   "images/val",
		Names: names,
	}
	data, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(exportDir, "data.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write data.yaml: %w", err)
	}
	return nil
}

func (e *Exporter) writeSummary(exportDir, projectID string, total, train, val int, classes []string) error {
	var sb strings.Builder
	sb.WriteString("# YOLO Dataset Export\n\n")
	fmt.Fprintf(&sb, "Project: %s\n", projectID)
	fmt.Fprintf(&sb, "Export Date: %s\n\n", time.Now().Format(time.RFC3339))
	sb.WriteString("## Statistics\n")
	fmt.Fprintf(&sb, "- Total Images: %d\n", total)
	fmt.Fprintf(&sb, "- Training Images: %d\n", train)
	fmt.Fprintf(&sb, "- Validation Images: %d\n", val)
	fmt.Fprintf(&sb, "- Classes: %d\n\n", len(classes))
	sb.WriteString("## Classes\n")
	for i, c := range classes {
		fmt.Fprintf(&sb, "%d. %s\n", i, c)
	}
	if err := os.WriteFile(filepath.Join(exportDir, "README.md"), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// shuffleImages permutes the image list with a seed derived from the
// project id, keeping the train/val split stable across re-exports of
// unchanged state.
func shuffleImages(images []models.ImageRecord, projectID string) {
	h := fnv.New64a()
	h.Write([]byte(projectID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	rng.Shuffle(len(images), func(i, j int) {
		images[i], images[j] = images[j], images[i]
	})
}

// zipDir packages the directory tree rooted at dir into a zip archive,
// with entry names relative to dir.
func zipDir(dir, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(f, in)
		return err
	})
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
