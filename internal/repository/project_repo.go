package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"annotation-engine/internal/imageio"
	"annotation-engine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	indexFile       = "projects.json"
	projectFile     = "project.json"
	imagesDir       = "images"
	annotationsDir  = "annotations"
	annotationsFile = "annotations.json"
	classesFile     = "classes.json"
)

// ProjectRepository stores annotation projects as JSON files under
// <dataDir>/annotation_projects. The layout is shared with external
// tooling and must stay stable:
//
//	annotation_projects/
//	  projects.json                 index of project summaries
//	  <id>/project.json             project metadata
//	  <id>/images/                  flat, original filenames
//	  <id>/annotations/annotations.json
//	  <id>/annotations/classes.json
type ProjectRepository struct {
	root           string
	defaultClasses []string
	logger         *zap.Logger

	mu    sync.Mutex // guards locks and the index file
	locks map[string]*sync.Mutex
}

// NewProjectRepository creates the projects directory and index file if
// missing. defaultClasses may be nil, in which case the built-in default
// class list is used for projects without a saved one.
func NewProjectRepository(dataDir string, defaultClasses []string, logger *zap.Logger) (*ProjectRepository, error) {
	root := filepath.Join(dataDir, "annotation_projects")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create projects dir: %w", err)
	}

	if len(defaultClasses) == 0 {
		defaultClasses = models.DefaultClasses
	}

	repo := &ProjectRepository{
		root:           root,
		defaultClasses: defaultClasses,
		logger:         logger,
		locks:          make(map[string]*sync.Mutex),
	}

	indexPath := filepath.Join(root, indexFile)
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		if err := writeJSONAtomic(indexPath, []models.ProjectSummary{}); err != nil {
			return nil, fmt.Errorf("failed to initialize project index: %w", err)
		}
	}

	logger.Info("Project repository initialized", zap.String("root", root))
	return repo, nil
}

// lockFor returns the mutex serializing mutators of one project.
func (r *ProjectRepository) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *ProjectRepository) projectDir(id string) string {
	return filepath.Join(r.root, id)
}

// ListProjects returns the index of all project summaries without
// loading annotation bodies.
func (r *ProjectRepository) ListProjects() ([]models.ProjectSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadIndex()
}

// CreateProject generates a fresh project id, lays out the project
// directory and appends the summary to the index.
func (r *ProjectRepository) CreateProject(name, description string) (*models.Project, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: project name must not be empty", models.ErrInvalidInput)
	}

	id := uuid.New().String()
	dir := r.projectDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: id %s", models.ErrProjectExists, id)
	}

	for _, sub := range []string{imagesDir, annotationsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create project dirs: %w", err)
		}
	}

	now := time.Now()
	summary := models.ProjectSummary{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Path:        dir,
	}

	if err := writeJSONAtomic(filepath.Join(dir, projectFile), summary); err != nil {
		return nil, fmt.Errorf("failed to write project metadata: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	index, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	index = append(index, summary)
	if err := r.saveIndex(index); err != nil {
		return nil, err
	}

	r.logger.Info("Project created",
		zap.String("project_id", id),
		zap.String("name", name))

	return &models.Project{
		ProjectSummary: summary,
		Annotations:    map[string][]models.Annotation{},
		Classes:        append([]string(nil), r.defaultClasses...),
	}, nil
}

// GetProject loads project metadata plus the image listing (derived by
// scanning images/ for recognized extensions), the annotation map and
// the class list, falling back to the default class list when none has
// been saved yet.
func (r *ProjectRepository) GetProject(id string) (*models.Project, error) {
	dir := r.projectDir(id)

	var summary models.ProjectSummary
	if err := readJSON(filepath.Join(dir, projectFile), &summary); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
		}
		return nil, fmt.Errorf("failed to load project metadata: %w", err)
	}

	proj := &models.Project{
		ProjectSummary: summary,
		Annotations:    map[string][]models.Annotation{},
		Classes:        append([]string(nil), r.defaultClasses...),
	}

	names, err := imageio.ListImages(filepath.Join(dir, imagesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list project images: %w", err)
	}
	for _, name := range names {
		proj.Images = append(proj.Images, models.ImageRecord{
			Name: name,
			Path: filepath.Join(dir, imagesDir, name),
		})
	}

	annPath := filepath.Join(dir, annotationsDir, annotationsFile)
	if err := readJSON(annPath, &proj.Annotations); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}

	classPath := filepath.Join(dir, annotationsDir, classesFile)
	var classes []string
	if err := readJSON(classPath, &classes); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load classes: %w", err)
		}
	} else if len(classes) > 0 {
		proj.Classes = classes
	}

	return proj, nil
}

// SaveAnnotations overwrites the project's annotation map and class
// list. Both files are written via temp-then-rename under the project
// lock, and the last-modified timestamp is bumped in project.json and
// the index.
func (r *ProjectRepository) SaveAnnotations(id string, annotations map[string][]models.Annotation, classes []string) error {
	dir := r.projectDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}

	for image, anns := range annotations {
		for _, ann := range anns {
			if err := ann.Validate(); err != nil {
				return fmt.Errorf("annotation on %s: %w", image, err)
			}
		}
	}

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	annDir := filepath.Join(dir, annotationsDir)
	if err := os.MkdirAll(annDir, 0o755); err != nil {
		return fmt.Errorf("failed to create annotations dir: %w", err)
	}

	if annotations == nil {
		annotations = map[string][]models.Annotation{}
	}
	if err := writeJSONAtomic(filepath.Join(annDir, annotationsFile), annotations); err != nil {
		return fmt.Errorf("failed to save annotations: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(annDir, classesFile), classes); err != nil {
		return fmt.Errorf("failed to save classes: %w", err)
	}

	if err := r.touch(id); err != nil {
		return err
	}

	r.logger.Info("Annotations saved",
		zap.String("project_id", id),
		zap.Int("images", len(annotations)),
		zap.Int("classes", len(classes)))
	return nil
}

// AddImages copies recognized image files into the project's images
// directory, preserving base names, and returns how many were added.
func (r *ProjectRepository) AddImages(id string, paths []string) (int, error) {
	dir := r.projectDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	added := 0
	for _, src := range paths {
		name := filepath.Base(src)
		if !imageio.IsImageFile(name) {
			r.logger.Warn("Skipping non-image file", zap.String("file", name))
			continue
		}
		dst := filepath.Join(dir, imagesDir, name)
		if err := copyFile(src, dst); err != nil {
			return added, fmt.Errorf("failed to copy %s: %w", name, err)
		}
		added++
	}

	if added > 0 {
		if err := r.touch(id); err != nil {
			return added, err
		}
	}
	return added, nil
}

// ImagePath resolves an image name inside a project, checking existence.
func (r *ProjectRepository) ImagePath(id, name string) (string, error) {
	path := filepath.Join(r.projectDir(id), imagesDir, filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: image %s", models.ErrProjectNotFound, name)
	}
	return path, nil
}

// DeleteProject removes all persisted project state and the index
// entry. Deleting an absent project fails with NotFound.
func (r *ProjectRepository) DeleteProject(id string) error {
	dir := r.projectDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove project dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	index, err := r.loadIndex()
	if err != nil {
		return err
	}
	kept := index[:0]
	for _, p := range index {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if err := r.saveIndex(kept); err != nil {
		return err
	}

	r.logger.Info("Project deleted", zap.String("project_id", id))
	return nil
}

// touch bumps the project's last-modified timestamp in project.json and
// its index entry.
func (r *ProjectRepository) touch(id string) error {
	metaPath := filepath.Join(r.projectDir(id), projectFile)
	var summary models.ProjectSummary
	if err := readJSON(metaPath, &summary); err != nil {
		return fmt.Errorf("failed to load project metadata: %w", err)
	}
	summary.UpdatedAt = time.Now()
	if err := writeJSONAtomic(metaPath, summary); err != nil {
		return fmt.Errorf("failed to update project metadata: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	index, err := r.loadIndex()
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].ID == id {
			index[i] = summary
			break
		}
	}
	return r.saveIndex(index)
}

func (r *ProjectRepository) loadIndex() ([]models.ProjectSummary, error) {
	var index []models.ProjectSummary
	if err := readJSON(filepath.Join(r.root, indexFile), &index); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load project index: %w", err)
	}
	return index, nil
}

func (r *ProjectRepository) saveIndex(index []models.ProjectSummary) error {
	if index == nil {
		index = []models.ProjectSummary{}
	}
	if err := writeJSONAtomic(filepath.Join(r.root, indexFile), index); err != nil {
		return fmt.Errorf("failed to save project index: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSONAtomic marshals v and writes it with a temp-then-rename so a
// crash never leaves a partially written file behind.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
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

// IsNotFound reports whether err is the repository's NotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrProjectNotFound)
}
