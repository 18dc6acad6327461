package consult

import (
	"fmt"

	"github.com/randalmurphal/medconsult/pkg/flowgraph"
)

// ReviewRequest is the payload of the summary review interrupt.
type ReviewRequest struct {
	Instruction string `json:"instruction"`
	Summary     string `json:"summary"`
}

// ReviewFromInterrupt decodes the review request carried by a suspension.
func ReviewFromInterrupt(info *flowgraph.InterruptInfo) (ReviewRequest, error) {
	var req ReviewRequest
	if info == nil {
		return req, fmt.Errorf("no interrupt")
	}
	if info.NodeID != NodeEditSummary {
		return req, fmt.Errorf("interrupt at unexpected node %s", info.NodeID)
	}
	if err := info.Decode(&req); err != nil {
		return req, fmt.Errorf("decode review request: %w", err)
	}
	return req, nil
}
