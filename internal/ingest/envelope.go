package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/railops/section-control/api/timetable"
)

// envelopeSchema is the wire contract enforced on every ingested line before
// decoding. Unknown extra fields are tolerated; the required core is not.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["source", "event_key", "ts", "train_id", "event_type"],
  "properties": {
    "source": {"type": "string", "minLength": 1},
    "event_key": {"type": "string", "minLength": 1},
    "ts": {"type": "string", "minLength": 1},
    "train_id": {"type": "string", "minLength": 1},
    "event_type": {"type": "string", "minLength": 1},
    "station_id": {"type": "string"},
    "block_id": {"type": "string"},
    "fields": {"type": "object"}
  }
}`

var compiledEnvelopeSchema = jsonschema.MustCompileString("envelope.json", envelopeSchema)

// DecodeEnvelope validates one wire line against the schema and decodes it.
func DecodeEnvelope(line []byte) (timetable.EventEnvelope, error) {
	var env timetable.EventEnvelope
	var generic any
	if err := json.Unmarshal(line, &generic); err != nil {
		return env, fmt.Errorf("envelope decode: %w", err)
	}
	if err := compiledEnvelopeSchema.Validate(generic); err != nil {
		return env, fmt.Errorf("envelope schema: %w", err)
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return env, fmt.Errorf("envelope decode: %w", err)
	}
	if err := env.Validate(); err != nil {
		return env, fmt.Errorf("envelope contract: %w", err)
	}
	return env, nil
}

// EncodeEnvelope renders one envelope as a single JSONL line.
func EncodeEnvelope(env timetable.EventEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("envelope encode: %w", err)
	}
	if strings.ContainsRune(string(b), '\n') {
		return nil, fmt.Errorf("envelope encode: embedded newline")
	}
	return b, nil
}
