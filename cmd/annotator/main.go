package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"annotation-engine/internal/config"
	"annotation-engine/internal/detector"
	"annotation-engine/internal/export"
	"annotation-engine/internal/models"
	"annotation-engine/internal/ollama"
	"annotation-engine/internal/repository"
	"annotation-engine/internal/service"

	"go.uber.org/zap"
)

const usage = `Usage: annotator <command> [flags]

Commands:
  create    create a new annotation project
  list      list all projects
  import    import images into a project
  annotate  auto-annotate all project images
  batch     auto-annotate a named subset of images
  export    export a project as a YOLO dataset archive
  stats     print project statistics
  delete    delete a project
`

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:], logger); err != nil {
		logger.Fatal("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func run(command string, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "configs/config.yml", "path to config file")

	var (
		name        = fs.String("name", "", "project name")
		description = fs.String("desc", "", "project description")
		projectID   = fs.String("project", "", "project id")
		dir         = fs.String("dir", "", "directory of images to import")
		mode        = fs.String("mode", string(models.MergeSmart), "merge mode: replace, append or smart_merge")
		classes     = fs.String("classes", "", "comma-separated class filter")
		images      = fs.String("images", "", "comma-separated image names")
		model       = fs.String("model", "", "detector model name (overrides config)")
		confidence  = fs.Float64("confidence", 0, "detector confidence threshold (overrides config)")
		iou         = fs.Float64("iou", 0, "detector IoU threshold (overrides config)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.Default()
		logger.Info("No config file found, using defaults")
	}
	if *model != "" {
		cfg.Detector.Model = *model
	}
	if *confidence > 0 {
		cfg.Detector.Confidence = *confidence
	}
	if *iou > 0 {
		cfg.Detector.IoUThreshold = *iou
	}

	repo, err := repository.NewProjectRepository(cfg.DataDir, cfg.DefaultClasses, logger)
	if err != nil {
		return err
	}

	registry := detector.NewRegistry(func(modelName string) (detector.Detector, error) {
		return ollama.NewClient(ollama.Config{
			Endpoint:    cfg.Detector.Endpoint,
			Model:       modelName,
			MaxImageDim: cfg.Detector.MaxImageDim,
			JPEGQuality: cfg.Detector.JPEGQuality,
			Timeout:     cfg.Detector.Timeout,
		}, logger)
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := detector.Options{
		Confidence:   cfg.Detector.Confidence,
		IoUThreshold: cfg.Detector.IoUThreshold,
	}

	switch command {
	case "create":
		proj, err := repo.CreateProject(*name, *description)
		if err != nil {
			return err
		}
		fmt.Printf("Created project %s (%s)\n", proj.Name, proj.ID)
		return nil

	case "list":
		projects, err := repo.ListProjects()
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("%s  %-24s  %s\n", p.ID, p.Name, p.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil

	case "import":
		if *projectID == "" || *dir == "" {
			return fmt.Errorf("%w: import requires -project and -dir", models.ErrInvalidInput)
		}
		entries, err := os.ReadDir(*dir)
		if err != nil {
			return err
		}
		var paths []string
		for _, e := range entries {
			if !e.IsDir() {
				paths = append(paths, filepath.Join(*dir, e.Name()))
			}
		}
		added, err := repo.AddImages(*projectID, paths)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d images\n", added)
		return nil

	case "annotate":
		if *projectID == "" {
			return fmt.Errorf("%w: annotate requires -project", models.ErrInvalidInput)
		}
		mergeMode, err := models.ParseMergeMode(*mode)
		if err != nil {
			return err
		}
		det, err := registry.Get(cfg.Detector.Model)
		if err != nil {
			return err
		}
		annotator := service.NewAnnotator(repo, det, logger)
		report, err := annotator.AutoAnnotate(ctx, *projectID, opts, splitList(*classes), mergeMode)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "batch":
		if *projectID == "" || *images == "" {
			return fmt.Errorf("%w: batch requires -project and -images", models.ErrInvalidInput)
		}
		det, err := registry.Get(cfg.Detector.Model)
		if err != nil {
			return err
		}
		annotator := service.NewAnnotator(repo, det, logger)
		report, err := annotator.BatchAnnotate(ctx, *projectID, splitList(*images), opts)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "export":
		if *projectID == "" {
			return fmt.Errorf("%w: export requires -project", models.ErrInvalidInput)
		}
		exporter := export.NewExporter(repo, logger)
		archive, err := exporter.ExportYOLO(*projectID)
		if err != nil {
			return err
		}
		fmt.Printf("Exported to %s\n", archive)
		return nil

	case "stats":
		if *projectID == "" {
			return fmt.Errorf("%w: stats requires -project", models.ErrInvalidInput)
		}
		annotator := service.NewAnnotator(repo, nil, logger)
		stats, err := annotator.Statistics(*projectID)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "delete":
		if *projectID == "" {
			return fmt.Errorf("%w: delete requires -project", models.ErrInvalidInput)
		}
		if err := repo.DeleteProject(*projectID); err != nil {
			return err
		}
		fmt.Println("Project deleted")
		return nil
	}

	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("%w: unknown command %q", models.ErrInvalidInput, command)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
