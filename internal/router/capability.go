package router

import "github.com/agentloom/orchestrator/internal/domain"

// validateCapability checks a candidate model against a request's
// capability requirements (spec §4.10). The returned reason is non-empty
// iff the model is rejected.
func validateCapability(model domain.Model, req domain.TaskRoutingRequest) (ok bool, reason string) {
	if req.RequiresTools && !model.SupportsTools {
		return false, "does not support tool use"
	}
	if req.RequiresVision && !model.SupportsVision {
		return false, "does not support vision"
	}
	if req.RequiresStreaming && !model.SupportsStreaming {
		return false, "does not support streaming"
	}
	if req.ContextSizeTokens != nil && model.ContextWindow < *req.ContextSizeTokens {
		return false, "context window too small"
	}
	if req.TaskType != domain.TaskEmbedding && isEmbeddingOnly(model) {
		return false, "model is embedding-only"
	}
	if req.TaskType == domain.TaskEmbedding && !model.SupportsEmbedding {
		return false, "does not support embedding"
	}
	return true, ""
}

func isEmbeddingOnly(model domain.Model) bool {
	return len(model.SuitableFor) == 1 && model.SuitableFor[0] == domain.TaskEmbedding
}
