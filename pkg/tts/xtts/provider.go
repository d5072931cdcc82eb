// Package xtts implements tts.Provider for xtts-api-server.
package xtts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storyforge/pkg/request"
	"storyforge/pkg/tts"
)

// Provider implements tts.Provider for an XTTS v2 HTTP server with voice cloning.
type Provider struct {
	rc         *request.Client
	baseURL    string
	language   string
	sampleRate int
	timeout    time.Duration
}

// Options configures the provider.
type Options struct {
	URL        string
	Language   string
	SampleRate int // 0 keeps the server's rate
	Timeout    time.Duration
}

type requestBody struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// NewProvider creates a new XTTS provider.
func NewProvider(opts Options, rc *request.Client) *Provider {
	baseURL := strings.TrimSuffix(opts.URL, "/")
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	rc.RegisterBackend("tts", baseURL)
	return &Provider{
		rc:         rc,
		baseURL:    baseURL,
		language:   lang,
		sampleRate: opts.SampleRate,
		timeout:    opts.Timeout,
	}
}

// Synthesize generates speech from text using the cloned voice in speakerPath.
func (p *Provider) Synthesize(ctx context.Context, text, speakerPath, outputPath string) (tts.Result, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Result{}, fmt.Errorf("xtts: empty text")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	body, err := p.rc.PostJSON(ctx, p.baseURL+"/tts_to_audio/", requestBody{
		Text:       text,
		SpeakerWav: speakerPath,
		Language:   p.language,
	})
	if err != nil {
		tts.Log("XTTS", speakerPath, text, tts.Result{}, err)
		return tts.Result{}, fmt.Errorf("xtts synthesis failed: %w", err)
	}

	res, err := tts.WriteWAV(body, p.sampleRate, outputPath)
	tts.Log("XTTS", speakerPath, text, res, err)
	if err != nil {
		return tts.Result{}, err
	}
	return res, nil
}

// HealthCheck queries the server's language list.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := p.rc.Get(ctx, p.baseURL+"/languages"); err != nil {
		return fmt.Errorf("xtts unreachable at %s: %w", p.baseURL, err)
	}
	return nil
}
