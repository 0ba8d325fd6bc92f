package model

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const webhookSchema = `{
  "type": "object",
  "required": ["meta", "data"],
  "properties": {
    "meta": {
      "type": "object",
      "required": ["event_name"],
      "properties": {
        "event_name": {"type": "string", "minLength": 1},
        "webhook_id": {"type": "string"},
        "event_id": {"type": "string"},
        "custom_data": {
          "type": "object",
          "properties": {
            "job_id": {"type": "string"},
            "user_id": {"type": "string"},
            "tab_session_id": {"type": "string"},
            "bundle_type": {"enum": ["single", "bundle", ""]}
          }
        }
      }
    },
    "data": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "attributes": {"type": "object"}
      }
    }
  }
}`

const taskSchema = `{
  "type": "object",
  "required": ["jobId"],
  "properties": {
    "jobId": {"type": "string", "pattern": "^[A-Za-z0-9_-]{1,128}$"},
    "taskId": {"type": "string"}
  }
}`

var (
	webhookLoader = gojsonschema.NewStringLoader(webhookSchema)
	taskLoader    = gojsonschema.NewStringLoader(taskSchema)
)

// ValidateWebhook checks a raw webhook body against the event schema.
func ValidateWebhook(raw []byte) error {
	return validate(webhookLoader, raw)
}

// ValidateTask checks a queue callback body.
func ValidateTask(raw []byte) error {
	return validate(taskLoader, raw)
}

func validate(schema gojsonschema.JSONLoader, raw []byte) error {
	res, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}
