package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sgazanfar/avatar-ai-serverless/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	voice          string
	avatarType     string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type wsEnvelope struct {
	Type           string `json:"type"`
	Message        string `json:"message,omitempty"`
	Stage          string `json:"stage,omitempty"`
	Details        string `json:"details,omitempty"`
	UserInput      string `json:"user_input,omitempty"`
	Text           string `json:"text,omitempty"`
	AvatarVideoURL string `json:"avatar_video_url,omitempty"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
	ProcessingMS   int64  `json:"processing_ms,omitempty"`
}

type latencySummary struct {
	count int
	min   time.Duration
	max   time.Duration
	avg   time.Duration
	p50   time.Duration
	p95   time.Duration
}

var defaultUtterances = []string{
	"Hi! Can you introduce yourself?",
	"What can you help me with?",
	"Tell me something interesting about space.",
	"Thanks, that's all for now.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "wsprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "avatar backend base URL")
	flag.StringVar(&cfg.userID, "user-id", "", "user id for the probe session (default: generated)")
	flag.StringVar(&cfg.voice, "voice", "", "optional voice for synthesized replies")
	flag.StringVar(&cfg.avatarType, "avatar-type", "", "optional avatar type (male or female)")
	flag.IntVar(&cfg.turns, "turns", 5, "number of text turns to send")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 120000, "timeout waiting for text_response per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(cfg.userID) == "" {
		cfg.userID = "probe-" + uuid.NewString()[:8]
	}

	cfg.texts = splitTexts(textsRaw)
	if len(cfg.texts) == 0 {
		cfg.texts = append([]string(nil), defaultUtterances...)
	}
	return cfg, nil
}

func splitTexts(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options) error {
	wsURL, err := wsURLForUser(cfg.baseURL, cfg.userID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	welcome, err := awaitType(conn, string(protocol.TypeSystem), 5*time.Second)
	if err != nil {
		return fmt.Errorf("await welcome: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("wsprobe: connected as %s: %s\n", cfg.userID, welcome.Message)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}
	if _, err := awaitType(conn, string(protocol.TypePong), 5*time.Second); err != nil {
		return fmt.Errorf("await pong: %w", err)
	}

	var (
		latencies   []time.Duration
		serverMS    int64
		totalTokens int
	)

	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		msg := map[string]string{"type": "text_input", "text": text}
		if cfg.voice != "" {
			msg["voice"] = cfg.voice
		}
		if cfg.avatarType != "" {
			msg["avatar_type"] = cfg.avatarType
		}

		start := time.Now()
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		env, err := awaitType(conn, string(protocol.TypeTextResponse), cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await text_response: %w", i+1, err)
		}
		took := time.Since(start)
		latencies = append(latencies, took)
		serverMS += env.ProcessingMS
		totalTokens += env.TokensUsed

		if cfg.verbose {
			fmt.Printf("wsprobe: turn %d/%d text=%q client=%s server=%dms tokens=%d video=%t\n",
				i+1, cfg.turns, text, took.Round(time.Millisecond), env.ProcessingMS, env.TokensUsed, env.AvatarVideoURL != "")
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	sum := summarize(latencies)
	fmt.Printf("wsprobe: %d turns completed\n", sum.count)
	fmt.Printf("wsprobe: client latency min=%s p50=%s p95=%s max=%s avg=%s\n",
		sum.min.Round(time.Millisecond), sum.p50.Round(time.Millisecond),
		sum.p95.Round(time.Millisecond), sum.max.Round(time.Millisecond),
		sum.avg.Round(time.Millisecond))
	if sum.count > 0 {
		fmt.Printf("wsprobe: server processing avg=%dms tokens=%d\n", serverMS/int64(sum.count), totalTokens)
	}
	return nil
}

func wsURLForUser(baseURL, userID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(userID)
	return u.String(), nil
}

// awaitType reads frames until one of the wanted type arrives. Interleaved
// processing acks and pongs are skipped; an error envelope fails the wait.
func awaitType(conn *websocket.Conn, want string, timeout time.Duration) (wsEnvelope, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return wsEnvelope{}, err
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case want:
			return env, nil
		case string(protocol.TypeError):
			if env.Stage != "" {
				return env, fmt.Errorf("server error at %s: %s (%s)", env.Stage, env.Message, env.Details)
			}
			return env, fmt.Errorf("server error: %s", env.Message)
		}
	}
}

func summarize(samples []time.Duration) latencySummary {
	var s latencySummary
	s.count = len(samples)
	if s.count == 0 {
		return s
	}

	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s.min = sorted[0]
	s.max = sorted[len(sorted)-1]
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	s.avg = total / time.Duration(s.count)
	s.p50 = quantile(sorted, 0.50)
	s.p95 = quantile(sorted, 0.95)
	return s
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + time.Duration(float64(sorted[hi]-sorted[lo])*frac)
}
