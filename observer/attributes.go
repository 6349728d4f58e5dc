package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for pipeline observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMRole     = attribute.Key("llm.role")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrPipelineNode   = attribute.Key("pipeline.node")
	AttrPipelineIntent = attribute.Key("pipeline.intent")
	AttrPipelineStatus = attribute.Key("pipeline.status")

	AttrRetrievalMode   = attribute.Key("retrieval.mode")
	AttrRetrievalSource = attribute.Key("retrieval.source")
)
