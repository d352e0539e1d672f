package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by the wrappers.
var (
	AttrModel            = attribute.Key("llm.model")
	AttrInputTokens      = attribute.Key("llm.tokens.input")
	AttrCachedTokens     = attribute.Key("llm.tokens.cached")
	AttrOutputTokens     = attribute.Key("llm.tokens.output")
	AttrTokenType        = attribute.Key("llm.token.type")
	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")
)
