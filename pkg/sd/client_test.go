package sd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/pkg/request"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewClient(server.URL, Settings{
		Steps:          20,
		Sampler:        "Euler a",
		Width:          512,
		Height:         512,
		CFGScale:       7,
		NegativePrompt: "blurry",
		Styles:         []string{"Cinematic"},
	}, request.New(nil, request.ClientConfig{}))
}

func TestBuildPayload(t *testing.T) {
	c := NewClient("http://sd.local", Settings{Steps: 25, Sampler: "DPM++ 2M", Width: 768, Height: 512, CFGScale: 6.5, NegativePrompt: "lowres"}, request.New(nil, request.ClientConfig{}))

	t.Run("Defaults", func(t *testing.T) {
		p := c.BuildPayload(Request{Prompt: " a cat "})
		assert.Equal(t, "a cat", p.Prompt)
		assert.Equal(t, "lowres", p.NegativePrompt)
		assert.Equal(t, 25, p.Steps)
		assert.Equal(t, "DPM++ 2M", p.SamplerIndex)
		assert.Equal(t, 1, p.BatchSize)
		assert.Equal(t, 6.5, p.CFGScale)
		assert.True(t, p.OverrideSettingsRestoreAfterwards)
		assert.Nil(t, p.OverrideSettings)

		raw, err := json.Marshal(p)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		_, has := m["override_settings"]
		assert.False(t, has, "override_settings must be omitted when empty")
		assert.Equal(t, []any{}, m["styles"])
	})

	t.Run("Overrides", func(t *testing.T) {
		p := c.BuildPayload(Request{
			Prompt:         "a cat",
			NegativePrompt: "dogs",
			Checkpoint:     "sdxl.safetensors",
			VAE:            "vae.pt",
			Styles:         []string{"Anime"},
			Lora:           "<lora:pixel:0.8>",
		})
		assert.Equal(t, "a cat, <lora:pixel:0.8>", p.Prompt)
		assert.Equal(t, "dogs", p.NegativePrompt)
		assert.Equal(t, []string{"Anime"}, p.Styles)
		assert.Equal(t, map[string]string{"sd_model_checkpoint": "sdxl.safetensors", "sd_vae": "vae.pt"}, p.OverrideSettings)
	})
}

func TestTxt2Img(t *testing.T) {
	img := testPNG(t)

	tests := []struct {
		name    string
		encoded string
		wantErr bool
	}{
		{name: "Plain", encoded: base64.StdEncoding.EncodeToString(img)},
		{name: "DataURL", encoded: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)},
		{name: "Garbage", encoded: "!!!", wantErr: true},
		{name: "NotAnImage", encoded: base64.StdEncoding.EncodeToString([]byte("hello")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/sdapi/v1/txt2img", r.URL.Path)
				var p Payload
				require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
				assert.Equal(t, "castle", p.Prompt)
				assert.Equal(t, []string{"Cinematic"}, p.Styles)
				_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{tt.encoded}})
			})

			data, err := c.Txt2Img(context.Background(), Request{Prompt: "castle"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, img, data)
		})
	}
}

func TestTxt2Img_Errors(t *testing.T) {
	t.Run("NoImages", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"images":[]}`))
		})
		_, err := c.Txt2Img(context.Background(), Request{Prompt: "x"})
		assert.True(t, errors.Is(err, ErrNoImage), "got %v", err)
	})

	t.Run("ServerError", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
		})
		_, err := c.Txt2Img(context.Background(), Request{Prompt: "x"})
		var httpErr *request.HTTPError
		require.True(t, errors.As(err, &httpErr), "got %v", err)
		assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	})

	t.Run("EmptyPrompt", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("empty prompt must not reach the server")
		})
		_, err := c.Txt2Img(context.Background(), Request{Prompt: "  "})
		assert.Error(t, err)
	})
}

func TestModelsAndVAEs(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sdapi/v1/sd-models":
			_, _ = w.Write([]byte(`[{"title":"sdxl.safetensors [abc]","model_name":"sdxl"},{"title":"anything-v5 [def]"}]`))
		case "/sdapi/v1/sd-vae":
			_, _ = w.Write([]byte(`[{"model_name":"vae-ft-mse.pt","filename":"/m/vae-ft-mse.pt"}]`))
		case "/sdapi/v1/prompt-styles":
			_, _ = w.Write([]byte(`[{"name":"Noir","prompt":"{prompt}, film noir"},{"name":"None","prompt":""},{"name":"Anime","prompt":"anime"}]`))
		default:
			http.NotFound(w, r)
		}
	})

	models, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"anything-v5 [def]", "sdxl.safetensors [abc]"}, models)

	vaes, err := c.VAEs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"vae-ft-mse.pt"}, vaes)

	styles, err := c.Styles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Anime", "Noir"}, styles)

	assert.NoError(t, c.HealthCheck(context.Background()))
}
