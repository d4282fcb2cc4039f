package segmentation

import "gonum.org/v1/gonum/spatial/r3"

// Laterality is the left/right assignment for the two femur
// candidates, together with the evidence that produced it.
type Laterality struct {
	// RightIsA is true when candidate A is the patient's right femur;
	// the other candidate is always the opposite side.
	RightIsA bool

	// DepthAxis is the through-plane axis index the sign test used,
	// either the caller's explicit hint or the detected one.
	DepthAxis int

	// Detected is true when the depth axis came from the spine-extent
	// heuristic rather than an explicit hint.
	Detected bool

	// Discriminant is the axis-0 component of the cross product of
	// the spine-to-candidate vectors.
	Discriminant float64

	// Ambiguous is true when the discriminant was exactly zero and
	// the canonical fallback assignment was used.
	Ambiguous bool
}

// Right returns "a" or "b" naming the candidate assigned to the
// patient right side. Convenience for logs and summaries.
func (l Laterality) Right() string {
	if l.RightIsA {
		return "a"
	}
	return "b"
}

// ClassifyLaterality assigns patient left/right to femur candidates A
// and B given their bounding boxes, the spine bounding box, the volume
// shape and a depth-axis hint (negative = detect).
//
// The test forms the vectors from the spine box midpoint to each
// candidate midpoint and takes their 3D cross product. When no hint is
// given the depth axis is detected by comparing the spine box extent
// along axis 0 with the volume extent along axis 0: a spine spanning
// the full axis means the scan is stacked on axis 0, otherwise the
// depth axis is taken to be the last axis. The sign of the cross
// product's axis-0 component then decides the assignment, with the
// polarity flipped between the two depth-axis cases: strictly negative
// assigns B=right when the depth axis is not axis 0, strictly positive
// assigns B=right when it is, and anything else (including an exactly
// zero discriminant) falls back to the canonical A=right, B=left.
//
// The polarity encodes that patient right/left is mirrored relative to
// image left/right and depends on acquisition orientation; a zero
// discriminant keeps the fallback deterministic but is flagged as
// ambiguous for the caller to report.
func ClassifyLaterality(a, b, spine Box, dims [3]int, depthHint int) Laterality {
	if depthHint > 2 {
		panic("segmentation: ClassifyLaterality depth hint out of range")
	}
	am, bm, sm := a.Midpoint(), b.Midpoint(), spine.Midpoint()
	va := r3.Vec{X: am[0] - sm[0], Y: am[1] - sm[1], Z: am[2] - sm[2]}
	vb := r3.Vec{X: bm[0] - sm[0], Y: bm[1] - sm[1], Z: bm[2] - sm[2]}
	cross := r3.Cross(va, vb)

	out := Laterality{DepthAxis: depthHint, Discriminant: cross.X}
	if depthHint < 0 {
		out.Detected = true
		if spine.Extent(0) == dims[0] {
			out.DepthAxis = 0
		} else {
			out.DepthAxis = 2
		}
	}

	switch {
	case out.DepthAxis != 0 && cross.X < 0:
		out.RightIsA = false
	case out.DepthAxis == 0 && cross.X > 0:
		out.RightIsA = false
	default:
		out.RightIsA = true
		out.Ambiguous = cross.X == 0
	}
	return out
}
