package agent

const authorStatusSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "result": { "type": "string", "enum": ["complete", "needs_human", "failed"] },
    "commit": { "type": "string" },
    "reason": { "type": "string" },
    "notes": { "type": "string" }
  },
  "required": ["result"]
}`

const reviewerVerdictSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "readiness": { "type": "string", "enum": ["ready", "ready_with_corrections", "not_ready"] },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": { "type": "string" },
          "title": { "type": "string" },
          "action": { "type": "string", "enum": ["auto_fix", "human_required", "informational"] },
          "reason": { "type": "string" },
          "priority": { "type": "string" }
        },
        "required": ["id", "title", "action"]
      }
    },
    "summary": { "type": "string" }
  },
  "required": ["readiness", "items"]
}`
