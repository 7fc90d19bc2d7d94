package repository

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"annotation-engine/internal/models"

	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) *ProjectRepository {
	t.Helper()
	repo, err := NewProjectRepository(t.TempDir(), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProjectRepository failed: %v", err)
	}
	return repo
}

func writeProjectImage(t *testing.T, repo *ProjectRepository, id, name string) {
	t.Helper()
	path := filepath.Join(repo.projectDir(id), imagesDir, name)
	if err := os.WriteFile(path, []byte("not really pixels"), 0o644); err != nil {
		t.Fatalf("failed to write image %s: %v", name, err)
	}
}

func TestCreateProject(t *testing.T) {
	repo := newTestRepo(t)

	proj, err := repo.CreateProject("wildlife", "camera trap review")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if proj.ID == "" {
		t.Error("expected a generated project id")
	}
	if proj.Name != "wildlife" || proj.Description != "camera trap review" {
		t.Errorf("metadata mismatch: %+v", proj.ProjectSummary)
	}

	for _, sub := range []string{imagesDir, annotationsDir} {
		if _, err := os.Stat(filepath.Join(proj.Path, sub)); err != nil {
			t.Errorf("expected %s directory: %v", sub, err)
		}
	}

	index, err := repo.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(index) != 1 || index[0].ID != proj.ID {
		t.Errorf("index does not contain the new project: %+v", index)
	}
}

func TestCreateProjectEmptyName(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.CreateProject("", ""); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.GetProject("nope"); !errors.Is(err, models.ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestGetProjectDefaultsAndImageListing(t *testing.T) {
	repo := newTestRepo(t)
	created, err := repo.CreateProject("p", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	writeProjectImage(t, repo, created.ID, "b.jpg")
	writeProjectImage(t, repo, created.ID, "a.png")
	writeProjectImage(t, repo, created.ID, "notes.txt") // not an image

	proj, err := repo.GetProject(created.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}

	if len(proj.Images) != 2 {
		t.Fatalf("got %d images, want 2: %+v", len(proj.Images), proj.Images)
	}
	// Listing is sorted by name.
	if proj.Images[0].Name != "a.png" || proj.Images[1].Name != "b.jpg" {
		t.Errorf("unexpected image order: %+v", proj.Images)
	}

	// No classes saved yet: default class list.
	if len(proj.Classes) != len(models.DefaultClasses) {
		t.Errorf("expected default classes, got %v", proj.Classes)
	}
	if len(proj.Annotations) != 0 {
		t.Errorf("expected empty annotation map, got %v", proj.Annotations)
	}
}

func TestSaveAnnotationsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	created, err := repo.CreateProject("p", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	writeProjectImage(t, repo, created.ID, "a.jpg")

	annotations := map[string][]models.Annotation{
		"a.jpg": {
			{Class: "cat", ClassID: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2, Confidence: 1.0},
		},
	}
	classes := []string{"cat", "dog"}

	if err := repo.SaveAnnotations(created.ID, annotations, classes); err != nil {
		t.Fatalf("SaveAnnotations failed: %v", err)
	}

	proj, err := repo.GetProject(created.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if len(proj.Annotations["a.jpg"]) != 1 {
		t.Fatalf("annotations not persisted: %+v", proj.Annotations)
	}
	if proj.Annotations["a.jpg"][0].Class != "cat" {
		t.Errorf("annotation mismatch: %+v", proj.Annotations["a.jpg"][0])
	}
	if len(proj.Classes) != 2 || proj.Classes[0] != "cat" {
		t.Errorf("classes not persisted: %v", proj.Classes)
	}

	if !proj.UpdatedAt.After(created.UpdatedAt) && !proj.UpdatedAt.Equal(created.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards: %v -> %v", created.UpdatedAt, proj.UpdatedAt)
	}

	index, err := repo.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if !index[0].UpdatedAt.Equal(proj.UpdatedAt) {
		t.Errorf("index timestamp not in sync: %v vs %v", index[0].UpdatedAt, proj.UpdatedAt)
	}
}

func TestSaveAnnotationsNotFound(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.SaveAnnotations("missing", nil, nil)
	if !errors.Is(err, models.ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestSaveAnnotationsRejectsMalformedBox(t *testing.T) {
	repo := newTestRepo(t)
	created, err := repo.CreateProject("p", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	annotations := map[string][]models.Annotation{
		"a.jpg": {{Class: "cat", X: 0.1, Y: 0.1, Width: -0.5, Height: 0.2, Confidence: 1.0}},
	}
	if err := repo.SaveAnnotations(created.ID, annotations, nil); err == nil {
		t.Error("expected error for negative box dimensions")
	}
}

func TestDeleteProject(t *testing.T) {
	repo := newTestRepo(t)
	created, err := repo.CreateProject("p", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if err := repo.DeleteProject(created.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	if _, err := os.Stat(created.Path); !os.IsNotExist(err) {
		t.Error("project directory still exists after delete")
	}

	index, err := repo.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(index) != 0 {
		t.Errorf("index still lists deleted project: %+v", index)
	}

	if err := repo.DeleteProject(created.ID); !errors.Is(err, models.ErrProjectNotFound) {
		t.Errorf("second delete: expected ErrProjectNotFound, got %v", err)
	}
}

func TestAddImages(t *testing.T) {
	repo := newTestRepo(t)
	created, err := repo.CreateProject("p", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	src := t.TempDir()
	for _, name := range []string{"x.jpg", "y.webp", "readme.md"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte("data"), 0o644); err != nil {
			t.Fatalf("failed to write source file: %v", err)
		}
	}

	added, err := repo.AddImages(created.ID, []string{
		filepath.Join(src, "x.jpg"),
		filepath.Join(src, "y.webp"),
		filepath.Join(src, "readme.md"),
	})
	if err != nil {
		t.Fatalf("AddImages failed: %v", err)
	}
	if added != 2 {
		t.Errorf("added %d images, want 2", added)
	}

	proj, err := repo.GetProject(created.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if len(proj.Images) != 2 {
		t.Errorf("project lists %d images, want 2", len(proj.Images))
	}
}

func TestImagePath(t *testing.T) {
	repo := newTestRepo(t)
	created, err := repo.CreateProject("p", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	writeProjectImage(t, repo, created.ID, "a.jpg")

	path, err := repo.ImagePath(created.ID, "a.jpg")
	if err != nil {
		t.Fatalf("ImagePath failed: %v", err)
	}
	if filepath.Base(path) != "a.jpg" {
		t.Errorf("unexpected path: %s", path)
	}

	if _, err := repo.ImagePath(created.ID, "missing.jpg"); err == nil {
		t.Error("expected error for missing image")
	}
}
