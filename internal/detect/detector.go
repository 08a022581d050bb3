// Package detect calls the external plate-detection capability. The
// capability itself is a black box; this package only owns the call
// interface, retry policy, and result mapping.
package detect

import (
	"context"

	"github.com/platewatch-systems/platewatch-relay/internal/models"
)

// Frame is a decoded snapshot handed to the detection capability: the
// canonical compressed representation plus raster dimensions.
type Frame struct {
	Bytes  []byte
	Width  int
	Height int
}

// Detector extracts a structured value from a snapshot frame. A nil result
// with nil error is an explicit "no detection" outcome, not a failure.
type Detector interface {
	Detect(ctx context.Context, frame Frame) (*models.DetectionResult, error)
}
