package scheduler

import (
	"encoding/json"
	"strings"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/driver"
	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/llm"
)

// parseCheckpointResult recovers the checkpoint worker's {passed,
// qualityScore, findings} verdict from its categorized output tail,
// scanning from the most recent line backward so a trailing structured
// verdict wins over any JSON incidentally printed earlier in the run.
func parseCheckpointResult(tail []driver.Line) (graph.CheckpointResult, error) {
	for i := len(tail) - 1; i >= 0; i-- {
		text := strings.TrimSpace(tail[i].Text)
		if text == "" {
			continue
		}
		if result, ok := tryParseCheckpointLine(text); ok {
			return result, nil
		}
	}
	return graph.CheckpointResult{}, agerr.Internal("checkpoint worker produced no parseable verdict")
}

func tryParseCheckpointLine(text string) (graph.CheckpointResult, bool) {
	var result graph.CheckpointResult
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result, true
	}
	extracted := llm.ExtractJSON(text)
	if extracted == "" {
		return graph.CheckpointResult{}, false
	}
	if err := json.Unmarshal([]byte(extracted), &result); err == nil {
		return result, true
	}
	return graph.CheckpointResult{}, false
}
