package openai_compat

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"flowair/internal/providers"
)

type SpeechConfig struct {
	Config
	Voice string
}

// SpeechClient renders the prompt with a fixed voice and returns mp3 bytes.
type SpeechClient struct {
	cfg SpeechConfig
	api *openai.Client
}

func NewSpeech(cfg SpeechConfig) *SpeechClient {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	return &SpeechClient{cfg: cfg, api: newAPI(cfg.Config)}
}

var _ providers.Provider = (*SpeechClient)(nil)

func (c *SpeechClient) Family() providers.Family { return providers.TextToSpeech }

// Invoke ignores the bot's system prompt; speech is a verbatim rendering.
func (c *SpeechClient) Invoke(ctx context.Context, req providers.Request) (providers.Result, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          req.Prompt,
		Voice:          openai.SpeechVoice(c.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return providers.Result{}, classify(providers.TextToSpeech, err)
	}
	defer resp.Close()

	audio, err := providers.ReadBody(resp)
	if err != nil {
		return providers.Result{}, providers.AsUpstream(providers.TextToSpeech, err)
	}
	return providers.Result{Kind: providers.KindAudio, Audio: audio, MimeType: "audio/mpeg"}, nil
}
