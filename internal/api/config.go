package api

import (
	"net/http"
	"strconv"

	"storyforge/pkg/config"
	"storyforge/pkg/store"
)

// ConfigHandler exposes the effective, non-secret configuration.
type ConfigHandler struct {
	cfg   *config.Config
	state store.StateStore
}

// NewConfigHandler creates a ConfigHandler. state may be nil.
func NewConfigHandler(cfg *config.Config, state store.StateStore) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, state: state}
}

// ConfigResponse represents the config API response.
type ConfigResponse struct {
	LLMEngine        string   `json:"llm_engine"`
	DefaultModel     string   `json:"default_model"`
	SDURL            string   `json:"sd_url"`
	SDSize           [2]int   `json:"sd_size"`
	TTSEngine        string   `json:"tts_engine"`
	TTSURL           string   `json:"tts_url"`
	TTSLanguage      string   `json:"tts_language"`
	MaxCount         int      `json:"max_count"`
	QueueSize        int      `json:"queue_size"`
	AudioEnabled     bool     `json:"audio_enabled"`
	Volume           float64  `json:"volume"`
	Characters       []string `json:"characters"`
	DefaultCharacter string   `json:"default_character"`
	HasOpenAIKey     bool     `json:"has_openai_key"`
	HasGeminiKey     bool     `json:"has_gemini_key"`
}

// HandleGet handles GET /api/config
func (h *ConfigHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c := h.cfg
	resp := ConfigResponse{
		LLMEngine:        c.LLM.Engine,
		DefaultModel:     c.LLM.DefaultModel,
		SDURL:            c.SD.URL,
		SDSize:           [2]int{c.SD.Width, c.SD.Height},
		TTSEngine:        c.TTS.Engine,
		TTSURL:           c.TTS.URL,
		TTSLanguage:      c.TTS.Language,
		MaxCount:         c.Worker.MaxCount,
		QueueSize:        c.Worker.QueueSize,
		AudioEnabled:     c.Audio.Enabled,
		Volume:           c.Audio.Volume,
		Characters:       c.CharacterNames(),
		DefaultCharacter: c.DefaultCharacter,
		HasOpenAIKey:     c.LLM.OpenAI.Key != "",
		HasGeminiKey:     c.LLM.Gemini.Key != "",
	}
	if h.state != nil {
		if v, ok := h.state.GetState(r.Context(), config.KeyVolume); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				resp.Volume = f
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
