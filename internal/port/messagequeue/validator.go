package messagequeue

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemas holds the JSON Schema of every subject with a fixed payload.
var schemas = map[string]string{
	SubjectTaskStarted: `{
		"type": "object",
		"required": ["task_id"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"session_id": {"type": "string"},
			"text": {"type": "string"}
		}
	}`,
	SubjectTaskFinished: `{
		"type": "object",
		"required": ["task_id", "status"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"session_id": {"type": "string"},
			"status": {"enum": ["done", "failed", "needs_clarification", "needs_confirmation"]},
			"domain": {"type": "string"},
			"failure": {"type": "string"},
			"calls": {"type": "integer", "minimum": 0}
		}
	}`,
	SubjectTaskToolCall: `{
		"type": "object",
		"required": ["task_id", "tool", "outcome"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"sequence": {"type": "integer", "minimum": 0},
			"tool": {"type": "string", "minLength": 1},
			"outcome": {"enum": ["success", "failure"]},
			"kind": {"type": "string"},
			"attempts": {"type": "integer", "minimum": 0}
		}
	}`,
	SubjectTaskConfirmation: `{
		"type": "object",
		"required": ["task_id", "tool", "fingerprint"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"tool": {"type": "string", "minLength": 1},
			"fingerprint": {"type": "string", "minLength": 1}
		}
	}`,
}

var compiled = sync.OnceValues(func() (map[string]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	out := make(map[string]*jsonschema.Schema, len(schemas))
	for subject, src := range schemas {
		url := "mem://messagequeue/" + subject + ".json"
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", subject, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", subject, err)
		}
		out[subject] = s
	}
	return out, nil
})

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	all, err := compiled()
	if err != nil {
		return err
	}
	s, ok := all[subject]
	if !ok {
		return nil
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
