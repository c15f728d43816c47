package upstream

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// Operation is the kind of logical upstream call a caller may request.
// Every operation maps onto the same generateContent endpoint; only the
// generation configuration differs.
type Operation string

const (
	// OpGenerate produces plain text (lesson feedback, chat turns).
	OpGenerate Operation = "generate"
	// OpGenerateJSON produces structured output against a response schema
	// (lesson plans, exercise sets).
	OpGenerateJSON Operation = "generateJson"
	// OpTranscribe turns inline audio content into text.
	OpTranscribe Operation = "transcribe"
	// OpSpeak produces spoken audio from text.
	OpSpeak Operation = "speak"
)

// Envelope is the caller's logical request as received by the relay.
// Content is either a JSON string or an array of parts; the gateway is
// opaque to its meaning beyond routing and response-shape detection.
type Envelope struct {
	Operation     Operation       `json:"operation"`
	Model         string          `json:"model"`
	Content       json.RawMessage `json:"content"`
	Configuration *Options        `json:"configuration,omitempty"`
}

// Part mirrors the upstream content-part shape the browser is allowed to
// send: text or inline base64 binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"` // base64 on the wire
}

// Options is the subset of generation configuration exposed to callers.
type Options struct {
	Temperature       *float32        `json:"temperature,omitempty"`
	TopP              *float32        `json:"topP,omitempty"`
	MaxOutputTokens   int32           `json:"maxOutputTokens,omitempty"`
	SystemInstruction string          `json:"systemInstruction,omitempty"`
	ResponseSchema    json.RawMessage `json:"responseSchema,omitempty"`
	Voice             string          `json:"voice,omitempty"`
}

// GenerateRequest is a fully validated, upstream-ready request. Built once
// per logical dispatch; retries reuse it unchanged.
type GenerateRequest struct {
	Model     string
	Body      generateBody
	WantJSON  bool
	WantAudio bool
}

// generateBody is the REST body of models/{model}:generateContent, expressed
// with genai types so the JSON wire shape tracks the SDK.
type generateBody struct {
	Contents          []*genai.Content        `json:"contents"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
}

// generateResult is the subset of the upstream response the gateway reads.
type generateResult struct {
	Candidates    []*genai.Candidate                          `json:"candidates"`
	UsageMetadata *genai.GenerateContentResponseUsageMetadata `json:"usageMetadata,omitempty"`
}

// Audio is a normalized binary payload. Data marshals as base64.
type Audio struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Meta records which credential served the request and how many attempts it
// took. Observability only — never business logic.
type Meta struct {
	RequestID  string `json:"requestId"`
	Credential string `json:"credential"`
	Attempts   int    `json:"attempts"`
	Model      string `json:"model"`
}

// Response is the normalized result returned to the relay. The browser-side
// contract depends on this shape, not on the upstream schema.
type Response struct {
	Text  string          `json:"text,omitempty"`
	JSON  json.RawMessage `json:"json,omitempty"`
	Audio *Audio          `json:"audio,omitempty"`
	Meta  Meta            `json:"meta"`
}

// BuildRequest validates the envelope and assembles the upstream-ready
// request. Shape errors here are the caller's fault and must surface as
// client errors, never as dispatch attempts.
func BuildRequest(env *Envelope) (*GenerateRequest, error) {
	if env.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	parts, err := parseContent(env.Content)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("content is required")
	}

	req := &GenerateRequest{
		Model: env.Model,
		Body: generateBody{
			Contents: []*genai.Content{{Role: "user", Parts: parts}},
		},
	}

	cfg := &genai.GenerationConfig{}
	opts := env.Configuration
	if opts != nil {
		cfg.Temperature = opts.Temperature
		cfg.TopP = opts.TopP
		if opts.MaxOutputTokens > 0 {
			cfg.MaxOutputTokens = opts.MaxOutputTokens
		}
		if opts.SystemInstruction != "" {
			req.Body.SystemInstruction = &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: opts.SystemInstruction}},
			}
		}
	}

	switch env.Operation {
	case OpGenerate, OpTranscribe:
		// Plain text out; transcribe differs only in carrying audio in.
	case OpGenerateJSON:
		req.WantJSON = true
		cfg.ResponseMIMEType = "application/json"
		if opts != nil && len(opts.ResponseSchema) > 0 {
			schema := &genai.Schema{}
			if err := json.Unmarshal(opts.ResponseSchema, schema); err != nil {
				return nil, fmt.Errorf("invalid responseSchema: %w", err)
			}
			cfg.ResponseSchema = schema
		}
	case OpSpeak:
		req.WantAudio = true
		cfg.ResponseModalities = []genai.Modality{genai.Modality("AUDIO")}
		if opts != nil && opts.Voice != "" {
			cfg.SpeechConfig = &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
						VoiceName: opts.Voice,
					},
				},
			}
		}
	default:
		return nil, fmt.Errorf("unsupported operation: %q", env.Operation)
	}

	req.Body.GenerationConfig = cfg
	return req, nil
}

// parseContent accepts either a bare string or an array of parts.
func parseContent(raw json.RawMessage) ([]*genai.Part, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []*genai.Part{{Text: text}}, nil
	}

	var parts []Part
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of parts")
	}

	out := make([]*genai.Part, 0, len(parts))
	for i, p := range parts {
		switch {
		case p.InlineData != nil:
			if p.InlineData.MIMEType == "" {
				return nil, fmt.Errorf("content part %d: inlineData requires mimeType", i)
			}
			out = append(out, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: p.InlineData.MIMEType,
					Data:     p.InlineData.Data,
				},
			})
		case p.Text != "":
			out = append(out, &genai.Part{Text: p.Text})
		default:
			return nil, fmt.Errorf("content part %d is empty", i)
		}
	}
	return out, nil
}
