package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for job/chunk observability spans and metrics.
var (
	AttrModel    = attribute.Key("llm.model")
	AttrProvider = attribute.Key("llm.provider")
	AttrMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrJobID         = attribute.Key("job.id")
	AttrChunkIndex    = attribute.Key("job.chunk.index")
	AttrChunkCount    = attribute.Key("job.chunk.count")
	AttrJobStatus     = attribute.Key("job.status")
	AttrStitchSkipped = attribute.Key("job.stitch.skipped")
)
