package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageTextInput(t *testing.T) {
	raw := []byte(`{"type":"text_input","text":"Hello world","voice":"nova","avatar_type":"male"}`)
	msg, err := ParseClientMessage(raw, 0)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	text, ok := msg.(TextInput)
	if !ok {
		t.Fatalf("message type = %T, want TextInput", msg)
	}
	if text.Text != "Hello world" || text.Voice != "nova" || text.AvatarType != "male" {
		t.Fatalf("unexpected text input: %+v", text)
	}
}

func TestParseClientMessageTextInputDefaults(t *testing.T) {
	raw := []byte(`{"type":"text_input","text":"hi"}`)
	msg, err := ParseClientMessage(raw, 0)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	text := msg.(TextInput)
	if text.Voice != DefaultVoice {
		t.Fatalf("Voice = %q, want %q", text.Voice, DefaultVoice)
	}
	if text.AvatarType != DefaultAvatarType {
		t.Fatalf("AvatarType = %q, want %q", text.AvatarType, DefaultAvatarType)
	}
}

func TestParseClientMessageRejectsEmptyText(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"text_input","text":""}`), 0)
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("error = %v, want ErrEmptyText", err)
	}
}

func TestParseClientMessageRejectsOversizedText(t *testing.T) {
	long := strings.Repeat("a", DefaultMaxTextChars+1)
	_, err := ParseClientMessage([]byte(`{"type":"text_input","text":"`+long+`"}`), 0)
	if !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("error = %v, want ErrTextTooLong", err)
	}

	// The cap counts characters, not bytes.
	wide := strings.Repeat("é", 400)
	if _, err := ParseClientMessage([]byte(`{"type":"text_input","text":"`+wide+`"}`), 0); err != nil {
		t.Fatalf("ParseClientMessage() error = %v for 400-rune text", err)
	}
}

func TestParseClientMessageAudioInput(t *testing.T) {
	audio := []byte{0x52, 0x49, 0x46, 0x46, 0x01, 0x02}
	raw := []byte(`{"type":"audio_input","audio_data":"` + base64.StdEncoding.EncodeToString(audio) + `"}`)
	msg, err := ParseClientMessage(raw, 0)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	in, ok := msg.(AudioInput)
	if !ok {
		t.Fatalf("message type = %T, want AudioInput", msg)
	}
	if !bytes.Equal(in.Audio, audio) {
		t.Fatalf("decoded audio = %v, want %v", in.Audio, audio)
	}
	if in.Voice != DefaultVoice || in.AvatarType != DefaultAvatarType {
		t.Fatalf("unexpected defaults: %+v", in)
	}
}

func TestParseClientMessageRejectsBadAudio(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"audio_input","audio_data":""}`), 0); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("error = %v, want ErrEmptyAudio", err)
	}
	if _, err := ParseClientMessage([]byte(`{"type":"audio_input","audio_data":"%%%not-base64%%%"}`), 0); !errors.Is(err, ErrBadAudio) {
		t.Fatalf("error = %v, want ErrBadAudio", err)
	}
}

func TestParseClientMessagePing(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ping"}`), 0)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if _, ok := msg.(Ping); !ok {
		t.Fatalf("message type = %T, want Ping", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`), 0)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidJSON(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{not json`), 0)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("error = %v, want ErrInvalidJSON", err)
	}
}

func TestOutboundEnvelopesCarryTypeAndTimestamp(t *testing.T) {
	cases := []struct {
		env  Outbound
		want MessageType
	}{
		{NewSystem("ready", "u1"), TypeSystem},
		{NewError("boom"), TypeError},
		{NewStageError("stage failed", "generation", "detail"), TypeError},
		{NewProcessing("working"), TypeProcessing},
		{NewPong(), TypePong},
	}
	for _, tc := range cases {
		if tc.env.Kind() != tc.want {
			t.Fatalf("Kind() = %q, want %q", tc.env.Kind(), tc.want)
		}
		raw, err := json.Marshal(tc.env)
		if err != nil {
			t.Fatalf("Marshal(%T) error = %v", tc.env, err)
		}
		var probe struct {
			Type      MessageType `json:"type"`
			Timestamp string      `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			t.Fatalf("Unmarshal(%T) error = %v", tc.env, err)
		}
		if probe.Type != tc.want {
			t.Fatalf("wire type = %q, want %q", probe.Type, tc.want)
		}
		if probe.Timestamp == "" {
			t.Fatalf("%T marshaled without timestamp", tc.env)
		}
	}
}

func TestResponseOmitsAbsentVideoURL(t *testing.T) {
	raw, err := json.Marshal(AudioResponse{Type: TypeAudioResponse, TranscribedText: "hi", LLMResponse: "hello", Timestamp: stamp()})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if bytes.Contains(raw, []byte("avatar_video_url")) {
		t.Fatalf("empty avatar_video_url should be omitted, got %s", raw)
	}
}

func BenchmarkParseClientMessageTextInput(b *testing.B) {
	raw := []byte(`{"type":"text_input","text":"benchmark me please","voice":"alloy","avatar_type":"female"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw, 0)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(TextInput); !ok {
			b.Fatalf("message type = %T, want TextInput", msg)
		}
	}
}
