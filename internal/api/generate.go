package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"storyforge/pkg/config"
	"storyforge/pkg/jobs"
	"storyforge/pkg/model"
	"storyforge/pkg/store"
)

// Submitter accepts jobs. *jobs.Worker implements it.
type Submitter interface {
	Submit(req model.JobRequest) (model.JobStatus, error)
}

// Prompter supplies a random story topic.
type Prompter interface {
	RandomPrompt() string
}

// FormDefaults are the configured values the form starts from.
type FormDefaults struct {
	DefaultModel     string
	MaxCount         int
	NegativePrompt   string
	Characters       []string
	DefaultCharacter string
}

// GenerateHandler serves the form and accepts submissions.
type GenerateHandler struct {
	submit   Submitter
	catalog  *Catalog
	state    store.StateStore
	prompts  Prompter
	registry *jobs.Registry
	files    Lister
	defaults FormDefaults
	tmpl     *template.Template
}

// NewGenerateHandler creates a GenerateHandler. state may be nil.
func NewGenerateHandler(submit Submitter, catalog *Catalog, state store.StateStore, prompts Prompter, registry *jobs.Registry, files Lister, defaults FormDefaults) (*GenerateHandler, error) {
	tmpl, err := template.New("index.html").
		Funcs(template.FuncMap{"contains": slices.Contains[[]string]}).
		ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, err
	}
	return &GenerateHandler{
		submit:   submit,
		catalog:  catalog,
		state:    state,
		prompts:  prompts,
		registry: registry,
		files:    files,
		defaults: defaults,
		tmpl:     tmpl,
	}, nil
}

// Options are the selectable values of the form.
type Options struct {
	Models         []string     `json:"models"`
	Checkpoints    []string     `json:"checkpoints"`
	VAEs           []string     `json:"vaes"`
	Styles         []string     `json:"styles"`
	Speakers       []string     `json:"speakers"`
	Characters     []string     `json:"characters"`
	Modes          []model.Mode `json:"modes"`
	NegativePrompt string       `json:"negative_prompt"`
	MaxCount       int          `json:"max_count"`
	Warnings       []string     `json:"warnings,omitempty"`
}

type indexData struct {
	Options
	Last  model.JobRequest
	Jobs  []model.JobStatus
	Files []model.ArtifactEntry
}

func (h *GenerateHandler) options(ctx context.Context) Options {
	opts := Options{
		Characters:     h.defaults.Characters,
		Modes:          []model.Mode{model.ModeStory, model.ModeConversation},
		NegativePrompt: h.defaults.NegativePrompt,
		MaxCount:       h.defaults.MaxCount,
	}
	lists := []struct {
		name  string
		label string
		dst   *[]string
	}{
		{ListModels, "LLM models", &opts.Models},
		{ListCheckpoints, "SD checkpoints", &opts.Checkpoints},
		{ListVAEs, "SD VAEs", &opts.VAEs},
		{ListStyles, "SD styles", &opts.Styles},
		{ListSpeakers, "speakers", &opts.Speakers},
	}
	for _, l := range lists {
		items, err := h.catalog.Get(ctx, l.name)
		if err != nil {
			opts.Warnings = append(opts.Warnings, "Could not load "+l.label+": "+err.Error())
		}
		*l.dst = items
	}
	return opts
}

// lastRequest returns the remembered selections, falling back to config defaults.
func (h *GenerateHandler) lastRequest(ctx context.Context) model.JobRequest {
	last := model.JobRequest{
		Count:          1,
		Mode:           model.ModeStory,
		Model:          h.defaults.DefaultModel,
		Character:      h.defaults.DefaultCharacter,
		NegativePrompt: h.defaults.NegativePrompt,
	}
	if h.state == nil {
		return last
	}
	raw, ok := h.state.GetState(ctx, config.KeyLastRequest)
	if !ok {
		return last
	}
	if err := json.Unmarshal([]byte(raw), &last); err != nil {
		slog.Warn("API: Ignoring unreadable remembered form", "error", err)
	}
	return last
}

func (h *GenerateHandler) remember(ctx context.Context, req model.JobRequest) {
	if h.state == nil {
		return
	}
	req.Prompt = ""
	req.Count = 1
	data, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := h.state.SetState(ctx, config.KeyLastRequest, string(data)); err != nil {
		slog.Error("Failed to persist form selections", "error", err)
	}
}

// HandleIndex renders the form page.
func (h *GenerateHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{
		Options: h.options(r.Context()),
		Last:    h.lastRequest(r.Context()),
		Jobs:    h.registry.List(),
	}
	if files, err := h.files.List(); err == nil {
		data.Files = files
	} else {
		data.Warnings = append(data.Warnings, "Could not list files: "+err.Error())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		slog.Error("Failed to render index", "error", err)
	}
}

// HandleOptions returns the form's option lists as JSON.
func (h *GenerateHandler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "" {
		h.catalog.Invalidate()
	}
	writeJSON(w, http.StatusOK, h.options(r.Context()))
}

// HandleRandomPrompt returns a random topic for the prompt field.
func (h *GenerateHandler) HandleRandomPrompt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"prompt": h.prompts.RandomPrompt()})
}

// HandleGenerate handles POST /generate from the form or as JSON.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := parseJobRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.submit.Submit(req)
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, jobs.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		slog.Error("API: Submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.remember(r.Context(), st.Request)
	slog.Info("API: Job accepted", "job_id", st.ID, "count", st.Request.Count, "mode", st.Request.Mode)

	if wantsJSON(r) {
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": st.ID, "status": st.State, "job": st})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// parseJobRequest reads a JSON body or form fields.
func parseJobRequest(r *http.Request) (model.JobRequest, error) {
	var req model.JobRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid JSON body")
		}
		return req, nil
	}

	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return req, errors.New("invalid form body")
		}
	} else if err := r.ParseForm(); err != nil {
		return req, errors.New("invalid form body")
	}

	req.Count = 1
	if v := strings.TrimSpace(r.FormValue("count")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("count must be a number")
		}
		req.Count = n
	}
	req.Prompt = r.FormValue("prompt")
	req.Speaker = r.FormValue("speaker")
	req.Mode = model.Mode(r.FormValue("mode"))
	req.Character = r.FormValue("character")
	req.Model = r.FormValue("ollama_model")
	if req.Model == "" {
		req.Model = r.FormValue("model")
	}
	req.SDCheckpoint = r.FormValue("sd_checkpoint")
	req.SDVAE = r.FormValue("sd_vae")
	req.NegativePrompt = r.FormValue("negative_prompt")
	req.LoraSyntax = r.FormValue("lora_syntax")
	for _, s := range r.Form["styles"] {
		if s = strings.TrimSpace(s); s != "" {
			req.Styles = append(req.Styles, s)
		}
	}
	return req, nil
}

func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/json"
}
