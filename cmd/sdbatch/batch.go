package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"storyforge/pkg/artifacts"
	"storyforge/pkg/sd"
	"storyforge/pkg/story"
)

// ImageGenerator renders one image.
type ImageGenerator interface {
	Txt2Img(ctx context.Context, req sd.Request) ([]byte, error)
}

// Options selects the input and output directories.
type Options struct {
	TextDir   string
	ImageDir  string
	Overwrite bool
}

// Counters summarise a batch run.
type Counters struct {
	Processed       int
	Generated       int
	SkippedExisting int
	SkippedNoPrompt int
	Errors          int
}

// Summary formats the counters for the terminal.
func (c Counters) Summary() string {
	return fmt.Sprintf("processed=%d generated=%d skipped_existing=%d skipped_no_prompt=%d errors=%d",
		c.Processed, c.Generated, c.SkippedExisting, c.SkippedNoPrompt, c.Errors)
}

// Run walks TextDir and renders an image for every story with a prompt.
// A failing file is counted and the batch moves on; only setup errors and
// cancellation are returned.
func Run(ctx context.Context, opts Options, images ImageGenerator) (Counters, error) {
	var c Counters

	entries, err := os.ReadDir(opts.TextDir)
	if err != nil {
		return c, fmt.Errorf("failed to read text dir: %w", err)
	}
	if err := os.MkdirAll(opts.ImageDir, 0o755); err != nil {
		return c, fmt.Errorf("failed to create image dir: %w", err)
	}

	files := artifacts.New(opts.TextDir, "", opts.ImageDir)

	var bases []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		bases = append(bases, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(bases)

	for _, base := range bases {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		c.Processed++

		if !opts.Overwrite {
			if _, err := os.Stat(files.ImagePath(base)); err == nil {
				slog.Debug("sdbatch: Image exists", "base", base)
				c.SkippedExisting++
				continue
			}
		}

		text, err := files.ReadStory(base)
		if err != nil {
			slog.Error("sdbatch: Failed to read story", "base", base, "error", err)
			c.Errors++
			continue
		}

		parsed, err := story.Parse(text)
		if err != nil && !errors.Is(err, story.ErrNoImagePrompt) && !errors.Is(err, story.ErrEmptyStory) {
			slog.Error("sdbatch: Failed to parse story", "base", base, "error", err)
			c.Errors++
			continue
		}
		if parsed.ImagePrompt == "" {
			slog.Info("sdbatch: No image prompt", "base", base)
			c.SkippedNoPrompt++
			continue
		}

		data, err := images.Txt2Img(ctx, sd.Request{Prompt: parsed.ImagePrompt})
		if err != nil {
			if ctx.Err() != nil {
				return c, ctx.Err()
			}
			slog.Error("sdbatch: Image generation failed", "base", base, "error", err)
			c.Errors++
			continue
		}
		if _, err := files.WriteImage(base, data); err != nil {
			slog.Error("sdbatch: Failed to write image", "base", base, "error", err)
			c.Errors++
			continue
		}
		slog.Info("sdbatch: Image generated", "base", base)
		c.Generated++
	}
	return c, nil
}
