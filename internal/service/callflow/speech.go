package callflow

import (
	"encoding/json"
	"strings"

	"github.com/seu-repo/voxdesk/internal/domain"
)

// Speech is what the caller said, as reported by the provider.
type Speech struct {
	Text  string
	Valid bool
}

// Usable reports whether the utterance can be handed to the response generator.
func (s Speech) Usable() bool {
	return s.Valid && s.Text != ""
}

var validSpeechStatuses = map[string]bool{
	"valid":     true,
	"success":   true,
	"completed": true,
	"ok":        true,
}

// transcriptKeys are probed in order inside result and parameters.
var transcriptKeys = []string{"speech_text", "transcript", "text"}

// ExtractSpeech pulls the transcript out of a speech-recognized payload. The
// first non-empty candidate wins, in this order: result object keys, a bare
// result string, parameters object keys, then the top-level speech_text and
// transcript fields. A missing status counts as valid.
func ExtractSpeech(payload domain.EventPayload) Speech {
	result := rawObject(payload.Result)

	status := strings.TrimSpace(payload.Status)
	if status == "" {
		status = stringField(result, "status")
	}

	valid := true
	if status != "" {
		valid = validSpeechStatuses[strings.ToLower(status)]
	}

	return Speech{
		Text:  findTranscript(payload, result),
		Valid: valid,
	}
}

func findTranscript(payload domain.EventPayload, result map[string]any) string {
	for _, key := range transcriptKeys {
		if text := stringField(result, key); text != "" {
			return text
		}
	}

	var bare string
	if err := json.Unmarshal(payload.Result, &bare); err == nil {
		if text := strings.TrimSpace(bare); text != "" {
			return text
		}
	}

	params := rawObject(payload.Parameters)
	for _, key := range transcriptKeys {
		if text := stringField(params, key); text != "" {
			return text
		}
	}

	if text := strings.TrimSpace(payload.SpeechText); text != "" {
		return text
	}
	return strings.TrimSpace(payload.Transcript)
}

func rawObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, ok := obj[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
