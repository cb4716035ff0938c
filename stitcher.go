package bigcontext

import (
	"context"
	"fmt"
	"strings"
)

// chunkBoundaryMarker joins successful chunk outputs before the optional
// remote seam-smoothing pass, and is the literal the stitch prompt tells the
// model it will see between chunks.
const chunkBoundaryMarker = "\n\n---CHUNK BOUNDARY---\n\n"

// stitchSkipFraction is the safety margin applied to the effective output
// budget: a seam-smoothing pass is skipped whenever the already-produced
// output alone would leave no meaningful room for the model to rewrite it.
const stitchSkipFraction = 0.9

// defaultOutputFraction estimates an output budget when the model's
// maxOutput is unknown, as half of its context window.
const defaultOutputFraction = 0.5

// Stitcher reassembles a job's chunk outputs into the final document.
type Stitcher struct {
	client RemoteClient
	tracer Tracer
}

// NewStitcher builds a Stitcher. client is the Remote Client used for the
// optional seam-smoothing pass; it may be nil if the caller never enables
// that pass for any job.
func NewStitcher(client RemoteClient, tracer Tracer) *Stitcher {
	return &Stitcher{client: client, tracer: tracer}
}

// Stitch assembles outputs, in chunk order, into the job's final text.
//
// Zero or one output is returned unchanged. With more than one output and
// enableStitchPass set, Stitch estimates the combined size: if it already
// fills most of the model's output budget, a remote rewrite pass is skipped
// entirely (there is no room left for the model to smooth seams into, and
// attempting it risks truncating or summarizing content instead) and the
// outputs are joined with a plain separator. Otherwise Stitch makes one
// Remote Client call asking the model to smooth chunk-boundary seams only.
func (s *Stitcher) Stitch(ctx context.Context, modelID string, model ModelInfo, instruction string, enableStitchPass bool, outputs []string) (string, error) {
	switch len(outputs) {
	case 0:
		return "", nil
	case 1:
		return outputs[0], nil
	}

	joined := strings.Join(outputs, "\n\n")
	if !enableStitchPass {
		return joined, nil
	}

	effectiveMaxOutput := model.MaxOutput
	if effectiveMaxOutput <= 0 {
		effectiveMaxOutput = int(defaultOutputFraction * float64(model.ContextLength))
	}
	if effectiveMaxOutput <= 0 {
		return joined, nil
	}

	var totalOutputTokens int
	for _, o := range outputs {
		totalOutputTokens += EstimateTokens(o)
	}
	if float64(totalOutputTokens) > stitchSkipFraction*float64(effectiveMaxOutput) {
		return joined, nil
	}

	var span Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "stitcher.smooth_seams", IntAttr("chunk_count", len(outputs)))
		defer span.End()
	}

	if s.client == nil {
		return joined, nil
	}

	messages := []ChatMessage{
		SystemMessage(fmt.Sprintf(
			"You are reassembling the output of a document processed in multiple sections "+
				"under this instruction: %q. You will be given the sections joined by the "+
				"literal marker %q. Rewrite only the text immediately surrounding each marker "+
				"so the result reads as one continuous document — fix a broken sentence, "+
				"duplicated word, or abrupt transition at a seam. Do not summarize, truncate, "+
				"omit, or reword any content away from a seam. Do not add commentary. Remove "+
				"every occurrence of the marker itself from your output.",
			instruction, strings.TrimSpace(chunkBoundaryMarker))),
		UserMessage(strings.Join(outputs, chunkBoundaryMarker)),
	}

	content, _, _, err := s.client.Complete(ctx, modelID, messages, 0)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		// A failed smoothing pass still leaves the job with a usable result.
		return joined, nil
	}
	return content, nil
}
