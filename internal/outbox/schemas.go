package outbox

const dailySummaryUpdatedSchema = `{
  "type": "object",
  "title": "DailySummaryUpdated",
  "properties": {
    "date": {"type": "string", "format": "date"},
    "steps": {"type": "integer"},
    "calories": {"type": "integer"},
    "active_minutes": {"type": "integer"},
    "resting_heart_rate": {"type": ["integer", "null"]},
    "updated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["date", "steps", "calories", "active_minutes", "updated_at"],
  "additionalProperties": false
}`
