package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTextInput  MessageType = "text_input"
	TypeAudioInput MessageType = "audio_input"
	TypePing       MessageType = "ping"

	TypeSystem        MessageType = "system"
	TypeError         MessageType = "error"
	TypeProcessing    MessageType = "processing"
	TypePong          MessageType = "pong"
	TypeTextResponse  MessageType = "text_response"
	TypeAudioResponse MessageType = "audio_response"
)

// DefaultMaxTextChars bounds text_input payloads when no explicit cap is given.
const DefaultMaxTextChars = 500

const (
	DefaultVoice      = "alloy"
	DefaultAvatarType = "female"
)

var (
	ErrInvalidJSON     = errors.New("invalid json frame")
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrEmptyText       = errors.New("empty text input")
	ErrTextTooLong     = errors.New("text input too long")
	ErrEmptyAudio      = errors.New("no audio data provided")
	ErrBadAudio        = errors.New("invalid audio data format")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// TextInput is a client request to run the text pipeline.
type TextInput struct {
	Type       MessageType `json:"type"`
	Text       string      `json:"text"`
	Voice      string      `json:"voice,omitempty"`
	AvatarType string      `json:"avatar_type,omitempty"`
}

// AudioInput is a client request to run the full voice pipeline. Audio holds
// the decoded bytes once the frame has passed through ParseClientMessage.
type AudioInput struct {
	Type       MessageType `json:"type"`
	AudioData  string      `json:"audio_data"`
	Voice      string      `json:"voice,omitempty"`
	AvatarType string      `json:"avatar_type,omitempty"`

	Audio []byte `json:"-"`
}

type Ping struct {
	Type MessageType `json:"type"`
}

// Outbound is implemented by every server-to-client envelope.
type Outbound interface {
	Kind() MessageType
}

type System struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func (System) Kind() MessageType { return TypeSystem }

type Error struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Stage     string      `json:"stage,omitempty"`
	Details   string      `json:"details,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func (Error) Kind() MessageType { return TypeError }

type Processing struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

func (Processing) Kind() MessageType { return TypeProcessing }

type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

func (Pong) Kind() MessageType { return TypePong }

// TextResponse answers a text_input. AvatarVideoURL is omitted when the
// render stage failed or was skipped; the response is still valid.
type TextResponse struct {
	Type           MessageType `json:"type"`
	UserInput      string      `json:"user_input"`
	Text           string      `json:"text"`
	AvatarVideoURL string      `json:"avatar_video_url,omitempty"`
	TokensUsed     int         `json:"tokens_used"`
	ProcessingMS   int64       `json:"processing_ms"`
	Timestamp      string      `json:"timestamp"`
}

func (TextResponse) Kind() MessageType { return TypeTextResponse }

// AudioResponse answers an audio_input and additionally carries the transcript.
type AudioResponse struct {
	Type            MessageType `json:"type"`
	TranscribedText string      `json:"transcribed_text"`
	LLMResponse     string      `json:"llm_response"`
	AvatarVideoURL  string      `json:"avatar_video_url,omitempty"`
	TokensUsed      int         `json:"tokens_used"`
	ProcessingMS    int64       `json:"processing_ms"`
	Timestamp       string      `json:"timestamp"`
}

func (AudioResponse) Kind() MessageType { return TypeAudioResponse }

func NewSystem(message, userID string) System {
	return System{Type: TypeSystem, Message: message, UserID: userID, Timestamp: stamp()}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message, Timestamp: stamp()}
}

func NewStageError(message, stage, details string) Error {
	return Error{Type: TypeError, Message: message, Stage: stage, Details: details, Timestamp: stamp()}
}

func NewProcessing(message string) Processing {
	return Processing{Type: TypeProcessing, Message: message, Timestamp: stamp()}
}

func NewPong() Pong {
	return Pong{Type: TypePong, Timestamp: stamp()}
}

func NewTextResponse(userInput, text, videoURL string, tokensUsed int, processingMS int64) TextResponse {
	return TextResponse{
		Type:           TypeTextResponse,
		UserInput:      userInput,
		Text:           text,
		AvatarVideoURL: videoURL,
		TokensUsed:     tokensUsed,
		ProcessingMS:   processingMS,
		Timestamp:      stamp(),
	}
}

func NewAudioResponse(transcript, llmResponse, videoURL string, tokensUsed int, processingMS int64) AudioResponse {
	return AudioResponse{
		Type:            TypeAudioResponse,
		TranscribedText: transcript,
		LLMResponse:     llmResponse,
		AvatarVideoURL:  videoURL,
		TokensUsed:      tokensUsed,
		ProcessingMS:    processingMS,
		Timestamp:       stamp(),
	}
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ParseClientMessage decodes one inbound frame into its typed variant.
// Validation failures are client errors: the caller answers with an error
// envelope and keeps the connection open.
func ParseClientMessage(raw []byte, maxTextChars int) (any, error) {
	if maxTextChars <= 0 {
		maxTextChars = DefaultMaxTextChars
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	switch env.Type {
	case TypeTextInput:
		var msg TextInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		if msg.Text == "" {
			return nil, ErrEmptyText
		}
		if len([]rune(msg.Text)) > maxTextChars {
			return nil, fmt.Errorf("%w: %d characters exceeds limit of %d", ErrTextTooLong, len([]rune(msg.Text)), maxTextChars)
		}
		applyDefaults(&msg.Voice, &msg.AvatarType)
		return msg, nil
	case TypeAudioInput:
		var msg AudioInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		if msg.AudioData == "" {
			return nil, ErrEmptyAudio
		}
		audio, err := base64.StdEncoding.DecodeString(msg.AudioData)
		if err != nil || len(audio) == 0 {
			return nil, ErrBadAudio
		}
		msg.Audio = audio
		applyDefaults(&msg.Voice, &msg.AvatarType)
		return msg, nil
	case TypePing:
		return Ping{Type: TypePing}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, string(env.Type))
	}
}

func applyDefaults(voice, avatarType *string) {
	if *voice == "" {
		*voice = DefaultVoice
	}
	if *avatarType == "" {
		*avatarType = DefaultAvatarType
	}
}
