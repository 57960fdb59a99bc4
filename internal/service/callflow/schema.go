package callflow

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GatherResult is the structure the provider's AI gather fills in for every turn.
type GatherResult struct {
	SpeechText string `json:"speech_text" jsonschema:"description=Exactly what the caller said transcribed verbatim"`
}

// GatherParameters returns the JSON schema sent as the gather action's parameters.
func GatherParameters() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(&GatherResult{})
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gather schema: %w", err)
	}
	return data, nil
}
