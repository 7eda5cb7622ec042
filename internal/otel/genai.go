package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// GenAI semantic convention keys used on relay spans, per the
// OpenTelemetry GenAI SIG conventions.
const (
	GenAISystem       = attribute.Key("gen_ai.system")        // e.g., "openai"
	GenAIRequestModel = attribute.Key("gen_ai.request.model") // model or assistant ID

	GenAIResponseFinishReason = attribute.Key("gen_ai.response.finish_reason")
)
