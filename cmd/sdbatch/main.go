// Command sdbatch renders missing illustrations for existing story texts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"storyforge/pkg/config"
	"storyforge/pkg/logging"
	"storyforge/pkg/request"
	"storyforge/pkg/sd"
	"storyforge/pkg/tracker"
	"storyforge/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	app := &cli.Command{
		Name:    "sdbatch",
		Usage:   "generate <base>.png for every story text that has an image prompt",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "storyforge config file for SD settings and default dirs",
			},
			&cli.StringFlag{
				Name:    "text-dir",
				Aliases: []string{"t"},
				Usage:   "directory with story .txt files",
			},
			&cli.StringFlag{
				Name:    "image-dir",
				Aliases: []string{"i"},
				Usage:   "directory to write images into",
			},
			&cli.StringFlag{
				Name:    "sd-url",
				Aliases: []string{"u"},
				Usage:   "Stable Diffusion WebUI address",
				Sources: cli.EnvVars("SD_API_URL"),
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "regenerate images that already exist",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
		},
		Action: batchAction,
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sdbatch: %v\n", err)
		os.Exit(1)
	}
}

func batchAction(ctx context.Context, cmd *cli.Command) error {
	logging.InitConsole(cmd.String("log-level"))

	cfg := config.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	opts := Options{
		TextDir:   firstNonEmpty(cmd.String("text-dir"), cfg.Paths.TextDir),
		ImageDir:  firstNonEmpty(cmd.String("image-dir"), cfg.Paths.ImageDir),
		Overwrite: cmd.Bool("overwrite"),
	}
	sdURL := firstNonEmpty(cmd.String("sd-url"), cfg.SD.URL)

	rc := request.New(tracker.New(), request.ClientConfig{
		Retries:   cfg.Request.Retries,
		Timeout:   cfg.SD.Timeout.Std(),
		BaseDelay: cfg.Request.Backoff.BaseDelay.Std(),
		MaxDelay:  cfg.Request.Backoff.MaxDelay.Std(),
	})
	client := sd.NewClient(sdURL, sd.Settings{
		Steps:          cfg.SD.Steps,
		Sampler:        cfg.SD.Sampler,
		Width:          cfg.SD.Width,
		Height:         cfg.SD.Height,
		CFGScale:       cfg.SD.CFGScale,
		NegativePrompt: cfg.SD.NegativePrompt,
		Styles:         cfg.SD.Styles,
		Timeout:        cfg.SD.Timeout.Std(),
	}, rc)

	slog.Info("sdbatch started", "text_dir", opts.TextDir, "image_dir", opts.ImageDir, "sd_url", client.BaseURL())

	counts, err := Run(ctx, opts, client)
	fmt.Println(counts.Summary())
	if err != nil {
		return err
	}
	if counts.Errors > 0 {
		return fmt.Errorf("%d image(s) failed", counts.Errors)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
