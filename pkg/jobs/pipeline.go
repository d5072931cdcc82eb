package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyforge/pkg/artifacts"
	"storyforge/pkg/llm"
	"storyforge/pkg/model"
	"storyforge/pkg/sd"
	"storyforge/pkg/story"
	"storyforge/pkg/tts"
)

// ErrInvalidRequest wraps every validation failure of a submitted job.
var ErrInvalidRequest = errors.New("invalid job request")

// TextGenerator produces the raw story text.
type TextGenerator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// ImageGenerator renders the illustration.
type ImageGenerator interface {
	Txt2Img(ctx context.Context, req sd.Request) ([]byte, error)
}

// ItemResult is the outcome of one successful repeat.
type ItemResult struct {
	Story    model.Story
	Warnings []string
}

// PipelineConfig holds the request defaults and limits.
type PipelineConfig struct {
	SpeakerDir       string
	DefaultModel     string
	MaxCount         int
	Characters       map[string]string
	DefaultCharacter string
}

// Pipeline runs LLM → parse → TTS → image → files for one item.
type Pipeline struct {
	writer  TextGenerator
	speech  tts.Provider
	images  ImageGenerator
	store   *artifacts.Store
	prompts *story.Manager
	cfg     PipelineConfig
	now     func() time.Time
}

// NewPipeline wires the backends. images may be nil to skip illustration.
func NewPipeline(cfg PipelineConfig, writer TextGenerator, speech tts.Provider, images ImageGenerator, store *artifacts.Store, prompts *story.Manager) *Pipeline {
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = 50
	}
	return &Pipeline{
		writer:  writer,
		speech:  speech,
		images:  images,
		store:   store,
		prompts: prompts,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Prepare validates req and fills in defaults.
func (p *Pipeline) Prepare(req *model.JobRequest) error {
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Count = max(1, min(req.Count, p.cfg.MaxCount))

	switch req.Mode {
	case "":
		req.Mode = model.ModeStory
	case model.ModeStory, model.ModeConversation:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	if req.Speaker == "" {
		return fmt.Errorf("%w: no speaker voice selected", ErrInvalidRequest)
	}
	if _, err := tts.ResolveSpeaker(p.cfg.SpeakerDir, req.Speaker); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.Model == "" {
		req.Model = p.cfg.DefaultModel
	}
	if req.Model == "" {
		return fmt.Errorf("%w: no LLM model selected", ErrInvalidRequest)
	}

	if req.Mode == model.ModeConversation {
		if req.Character == "" {
			req.Character = p.cfg.DefaultCharacter
		}
		if _, ok := p.cfg.Characters[req.Character]; !ok {
			return fmt.Errorf("%w: unknown character %q", ErrInvalidRequest, req.Character)
		}
	} else {
		req.Character = ""
	}
	return nil
}

// RunItem produces artifact set number index (1-based) of job. Files of a
// failed item are removed; image problems only add warnings.
func (p *Pipeline) RunItem(ctx context.Context, job *Job, index int) (ItemResult, error) {
	start := p.now()
	req := job.Request
	var res ItemResult

	topic := req.Prompt
	if topic == "" {
		topic = p.prompts.RandomPrompt()
		slog.Info("Pipeline: Using random topic", "job_id", job.ID, "topic", topic)
	}

	llmPrompt, err := p.prompts.Build(req.Mode, topic, req.Character, p.cfg.Characters[req.Character])
	if err != nil {
		return res, fmt.Errorf("build prompt: %w", err)
	}

	slog.Debug("Pipeline: Requesting story", "job_id", job.ID, "item", index, "model", req.Model, "topic", llm.Truncate(topic, 60))
	raw, err := p.writer.GenerateText(ctx, req.Model, llmPrompt)
	if err != nil {
		return res, fmt.Errorf("llm: %w", err)
	}

	parsed, err := story.Parse(raw)
	switch {
	case errors.Is(err, story.ErrNoImagePrompt):
		res.Warnings = append(res.Warnings, "no image prompt in model output")
	case err != nil:
		return res, err
	}

	base := artifacts.NewBaseName(topic, job.ID, index, start)
	textPath, err := p.store.WriteText(base, story.FormatText(parsed.Story, parsed.ImagePrompt))
	if err != nil {
		p.discard(base)
		return res, err
	}

	speakerPath, err := tts.ResolveSpeaker(p.cfg.SpeakerDir, req.Speaker)
	if err != nil {
		p.discard(base)
		return res, err
	}

	speech := tts.CleanForSpeech(parsed.Story, req.Mode == model.ModeConversation)
	audio, err := p.speech.Synthesize(ctx, speech, speakerPath, p.store.AudioPath(base))
	if err != nil {
		p.discard(base)
		return res, fmt.Errorf("tts: %w", err)
	}
	if err := tts.VerifyAudioFile(p.store.AudioPath(base)); err != nil {
		p.discard(base)
		return res, fmt.Errorf("tts: %w", err)
	}

	res.Story = model.Story{
		BaseName:    base,
		Script:      parsed.Story,
		ImagePrompt: parsed.ImagePrompt,
		TextPath:    textPath,
		AudioPath:   p.store.AudioPath(base),
		SampleRate:  audio.SampleRate,
		Duration:    audio.Duration,
		JobID:       job.ID,
		CreatedAt:   start,
	}

	if parsed.ImagePrompt != "" {
		if imgPath, err := p.illustrate(ctx, base, req, parsed.ImagePrompt); err != nil {
			slog.Warn("Pipeline: Image generation failed", "job_id", job.ID, "base", base, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("image: %v", err))
		} else {
			res.Story.ImagePath = imgPath
		}
	}

	res.Story.Latency = p.now().Sub(start)
	return res, nil
}

func (p *Pipeline) illustrate(ctx context.Context, base string, req model.JobRequest, prompt string) (string, error) {
	if p.images == nil {
		return "", errors.New("image backend disabled")
	}
	data, err := p.images.Txt2Img(ctx, sd.Request{
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		Checkpoint:     req.SDCheckpoint,
		VAE:            req.SDVAE,
		Styles:         req.Styles,
		Lora:           req.LoraSyntax,
	})
	if err != nil {
		return "", err
	}
	return p.store.WriteImage(base, data)
}

func (p *Pipeline) discard(base string) {
	if err := p.store.Discard(base); err != nil {
		slog.Warn("Pipeline: Failed to remove partial files", "base", base, "error", err)
	}
}
