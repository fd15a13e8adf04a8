package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sgazanfar/avatar-ai-serverless/internal/audio"
	"github.com/sgazanfar/avatar-ai-serverless/internal/memory"
)

const mockVideoURL = "https://sample-videos.com/zip/10/mp4/SampleVideo_1280x720_1mb.mp4"

// mockVideo is the stub render served when no avatar backend is configured,
// so frontends still receive a playable URL.
func mockVideo() Video {
	return Video{
		URL:    mockVideoURL,
		TalkID: fmt.Sprintf("mock_%d", time.Now().UnixMilli()),
		Mock:   true,
	}
}

// MockProvider is a local fallback provider used when no OpenAI key is
// configured. Outputs are deterministic so tests can assert on them.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(_ context.Context, clip []byte) (string, error) {
	if len(clip) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}

func (p *MockProvider) Respond(_ context.Context, userInput string, history []memory.Message) (Reply, error) {
	userInput = strings.TrimSpace(userInput)
	reply := fmt.Sprintf("I heard you say %q. I'm running in offline mode, so this is a canned reply.", userInput)
	if userInput == "" {
		reply = "I didn't catch anything that time. I'm running in offline mode, so this is a canned reply."
	}
	return Reply{
		Text:       reply,
		TokensUsed: len(strings.Fields(userInput)) + len(strings.Fields(reply)) + len(history),
	}, nil
}

func (p *MockProvider) Synthesize(_ context.Context, _, _ string) ([]byte, error) {
	// 200ms of silence, long enough to be a plausible clip.
	pcm := make([]byte, 6400)
	return audio.EncodeWAVPCM16LE(pcm, 16000)
}

func (p *MockProvider) Render(_ context.Context, _ []byte, _ string) (Video, error) {
	return mockVideo(), nil
}

func (p *MockProvider) Healthcheck(context.Context) error { return ErrNotConfigured }
