package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sgazanfar/avatar-ai-serverless/internal/reliability"
)

// Production-ready presenter stills served by D-ID.
var avatarSources = map[string]string{
	"male":   "https://create-images-results.d-id.com/DefaultAvatar/male_avatar.jpg",
	"female": "https://create-images-results.d-id.com/DefaultAvatar/female_avatar.jpg",
}

// Upload and talk creation retry on rate limits and transient 5xx
// responses. Polling does not; awaitTalk already loops.
const (
	didRetryAttempts = 3
	didRetryBase     = 500 * time.Millisecond
	didRetryCap      = 4 * time.Second
)

type DIDConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// DIDRenderer drives the D-ID talks API: upload the speech clip, create a
// talk, then poll until the render completes. Without an API key it returns
// a stub video so the rest of the pipeline stays usable in development.
type DIDRenderer struct {
	cfg    DIDConfig
	client *http.Client
}

func NewDIDRenderer(cfg DIDConfig) *DIDRenderer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.d-id.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &DIDRenderer{cfg: cfg, client: client}
}

func (r *DIDRenderer) configured() bool {
	return strings.TrimSpace(r.cfg.APIKey) != ""
}

func (r *DIDRenderer) Render(ctx context.Context, speech []byte, avatarType string) (Video, error) {
	if !r.configured() {
		return mockVideo(), nil
	}

	audioURL, err := r.uploadAudio(ctx, speech)
	if err != nil {
		return Video{}, err
	}

	talkID, err := r.createTalk(ctx, audioURL, avatarType)
	if err != nil {
		return Video{}, err
	}

	resultURL, err := r.awaitTalk(ctx, talkID)
	if err != nil {
		return Video{}, err
	}

	return Video{URL: resultURL, TalkID: talkID}, nil
}

// Healthcheck probes the talks listing. D-ID answers 200 for valid keys and
// 401 for invalid ones; both prove the API itself is reachable.
func (r *DIDRenderer) Healthcheck(ctx context.Context) error {
	if !r.configured() {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/talks", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("d-id health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("d-id health status %d", resp.StatusCode)
	}
	return nil
}

type didUploadResponse struct {
	URL string `json:"url"`
}

func (r *DIDRenderer) uploadAudio(ctx context.Context, speech []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(speech); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	var uploadURL string
	err = reliability.Do(ctx, didRetryAttempts, didRetryBase, didRetryCap, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/clips", bytes.NewReader(body.Bytes()))
		if err != nil {
			return false, fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Authorization", "Basic "+r.cfg.APIKey)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := r.client.Do(req)
		if err != nil {
			return true, fmt.Errorf("upload audio: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			detail, _ := io.ReadAll(resp.Body)
			return reliability.RetryableStatus(resp.StatusCode), fmt.Errorf("audio upload status %d: %s", resp.StatusCode, detail)
		}

		var upload didUploadResponse
		if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
			return false, fmt.Errorf("decode upload response: %w", err)
		}
		if upload.URL == "" {
			return false, fmt.Errorf("upload response missing url")
		}
		uploadURL = upload.URL
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return uploadURL, nil
}

type didScript struct {
	Type     string `json:"type"`
	AudioURL string `json:"audio_url"`
}

type didExpression struct {
	StartFrame int     `json:"start_frame"`
	Expression string  `json:"expression"`
	Intensity  float64 `json:"intensity"`
}

type didDriverExpressions struct {
	Expressions []didExpression `json:"expressions"`
}

type didRenderConfig struct {
	Stitch            bool                 `json:"stitch"`
	Fluent            bool                 `json:"fluent"`
	PadAudio          float64              `json:"pad_audio"`
	DriverExpressions didDriverExpressions `json:"driver_expressions"`
}

type didTalkRequest struct {
	SourceURL string          `json:"source_url"`
	Script    didScript       `json:"script"`
	Config    didRenderConfig `json:"config"`
}

type didTalk struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	ResultURL string          `json:"result_url"`
	Error     json.RawMessage `json:"error"`
}

func (r *DIDRenderer) createTalk(ctx context.Context, audioURL, avatarType string) (string, error) {
	source, ok := avatarSources[avatarType]
	if !ok {
		source = avatarSources["female"]
	}

	payload, err := json.Marshal(didTalkRequest{
		SourceURL: source,
		Script:    didScript{Type: "audio", AudioURL: audioURL},
		Config: didRenderConfig{
			Stitch:   true,
			Fluent:   true,
			PadAudio: 0,
			DriverExpressions: didDriverExpressions{
				Expressions: []didExpression{
					{StartFrame: 0, Expression: "neutral", Intensity: 1.0},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal talk request: %w", err)
	}

	var talkID string
	err = reliability.Do(ctx, didRetryAttempts, didRetryBase, didRetryCap, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/talks", bytes.NewReader(payload))
		if err != nil {
			return false, fmt.Errorf("create talk request: %w", err)
		}
		req.Header.Set("Authorization", "Basic "+r.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return true, fmt.Errorf("create talk: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			detail, _ := io.ReadAll(resp.Body)
			return reliability.RetryableStatus(resp.StatusCode), fmt.Errorf("create talk status %d: %s", resp.StatusCode, detail)
		}

		var talk didTalk
		if err := json.NewDecoder(resp.Body).Decode(&talk); err != nil {
			return false, fmt.Errorf("decode talk response: %w", err)
		}
		if talk.ID == "" {
			return false, fmt.Errorf("talk response missing id")
		}
		talkID = talk.ID
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return talkID, nil
}

func (r *DIDRenderer) awaitTalk(ctx context.Context, talkID string) (string, error) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		talk, err := r.talkStatus(ctx, talkID)
		if err != nil {
			return "", err
		}

		switch talk.Status {
		case "done":
			if talk.ResultURL == "" {
				return "", fmt.Errorf("talk %s done without result_url", talkID)
			}
			return talk.ResultURL, nil
		case "error":
			detail := string(talk.Error)
			if detail == "" {
				detail = "unknown error"
			}
			return "", fmt.Errorf("talk %s failed: %s", talkID, detail)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("await talk %s: %w", talkID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *DIDRenderer) talkStatus(ctx context.Context, talkID string) (didTalk, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/talks/"+url.PathEscape(talkID), nil)
	if err != nil {
		return didTalk{}, fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return didTalk{}, fmt.Errorf("talk status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return didTalk{}, fmt.Errorf("talk status %d: %s", resp.StatusCode, detail)
	}

	var talk didTalk
	if err := json.NewDecoder(resp.Body).Decode(&talk); err != nil {
		return didTalk{}, fmt.Errorf("decode talk status: %w", err)
	}
	return talk, nil
}
