package segmentation

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"boneseg/pkg/volume"
)

// Pipeline failure modes. Each marks a required anatomical structure
// missing from the scan; there is no meaningful partial result once
// one is absent.
var (
	// ErrNoSkeleton is returned when the broad density pass leaves no
	// connected structure at all.
	ErrNoSkeleton = errors.New("segmentation: no skeletal structure found")

	// ErrTooFewFemurCandidates is returned when the high-density pass
	// yields fewer than two components.
	ErrTooFewFemurCandidates = errors.New("segmentation: fewer than two femur candidates found")

	// ErrNoSpine is returned when nothing remains of the skeleton
	// after the pelvis and femur regions are excluded.
	ErrNoSpine = errors.New("segmentation: no spine structure found")
)

// Params holds the processing constants for one pipeline run. The
// defaults are tuned for adult pelvic CT scans on the HU scale.
type Params struct {
	// SkeletonBand is the broad density band separating bone from
	// soft tissue and air in the first pass.
	SkeletonBand Band

	// DenseBand is the narrow high-density band isolating compact
	// bone, which is where the femoral heads and vertebrae live.
	DenseBand Band

	// Method selects the automatic binarization policy used during
	// morphological cleaning.
	Method ThresholdMethod

	// Elem is the erosion structuring element.
	Elem StructElem

	// MinSize is the minimum voxel count for a connected component to
	// survive small-object removal.
	MinSize int

	// HoleSize is the largest enclosed background pocket, in voxels,
	// filled during the dense cleaning pass.
	HoleSize int

	// FemurPadding expands each femur candidate's bounding box before
	// the final mask intersection.
	FemurPadding int

	// CombinedPadding expands the union box of both femur candidates
	// when carving the femur region out of the skeleton.
	CombinedPadding int

	// DilationRadius is the disk radius, in voxels, of the pelvis
	// footprint dilation.
	DilationRadius int

	// DepthAxis is the through-plane axis index. A negative value
	// lets the laterality test detect it from the spine extent and
	// makes the pelvis projection fall back to axis 0.
	DepthAxis int
}

// DefaultParams returns the processing constants tuned for adult
// pelvic CT scans.
func DefaultParams() Params {
	return Params{
		SkeletonBand:    BandFrom(180),
		DenseBand:       BandFrom(450),
		Method:          ThresholdIsodata,
		Elem:            ElemCross,
		MinSize:         1000,
		HoleSize:        256,
		FemurPadding:    10,
		CombinedPadding: 20,
		DilationRadius:  20,
		DepthAxis:       -1,
	}
}

// Result holds the final per-side femur masks plus the intermediate
// structures useful for diagnostics.
type Result struct {
	// RightFemur and LeftFemur mark the skeleton voxels inside each
	// side's padded bounding box.
	RightFemur *volume.Mask
	LeftFemur  *volume.Mask

	// Pelvis is the high-density remainder after the two femur
	// candidates are taken; it may be empty.
	Pelvis *volume.Mask

	// PelvisFootprint is the dilated pelvic projection used as an
	// exclusion zone during spine isolation.
	PelvisFootprint *volume.Mask

	// Spine is the largest structure left of the skeleton once the
	// pelvis footprint and the combined femur region are removed.
	Spine *volume.Mask

	// RightBox and LeftBox are the padded femur bounding boxes after
	// side assignment; SpineBox and CombinedBox are kept for
	// inspection.
	RightBox    Box
	LeftBox     Box
	SpineBox    Box
	CombinedBox Box

	// Candidates is the full high-density component ranking, largest
	// first. The first two entries are the femur candidates.
	Candidates []Component

	// Laterality records the side assignment and its evidence.
	Laterality Laterality
}

// Pipeline runs the segmentation and laterality sequence over one
// loaded volume. A Pipeline is stateless between runs and safe to
// reuse.
type Pipeline struct {
	params Params
	log    zerolog.Logger
}

// New returns a pipeline that runs with the given constants and logs
// stage progress to logger.
func New(params Params, logger zerolog.Logger) *Pipeline {
	return &Pipeline{params: params, log: logger}
}

// Run executes the full sequence on v and returns the per-side femur
// masks with diagnostics. The input volume is never modified. Run
// fails with ErrNoSkeleton, ErrTooFewFemurCandidates or ErrNoSpine
// when a required structure is missing.
func (p *Pipeline) Run(v *volume.Volume) (*Result, error) {
	// First pass: broad band, keep only the largest connected
	// skeletal structure.
	skeletal := v.ApplyMask(DensityMask(v, p.params.SkeletonBand))
	cleaner := Cleaner{Elem: p.params.Elem, Method: p.params.Method, MinSize: p.params.MinSize}
	skeletal, keep := cleaner.Clean(skeletal)

	labels, ranked := RankComponents(keep, 1)
	if len(ranked) == 0 {
		return nil, ErrNoSkeleton
	}
	skeleton := SelectVolume(skeletal, labels, ranked)
	skeletonMask := skeleton.NonzeroMask()
	p.log.Info().Int("voxels", ranked[0].Voxels).Msg("isolated skeletal structure")

	// Second pass: high-density band over the skeleton, cleaned with
	// hole filling so the femoral heads stay solid.
	denseCleaner := cleaner
	denseCleaner.FillHoles = true
	denseCleaner.HoleSize = p.params.HoleSize
	dense := skeleton.ApplyMask(DensityMask(skeleton, p.params.DenseBand))
	_, denseKeep := denseCleaner.Clean(dense)

	denseLabels, candidates := RankComponents(denseKeep, 0)
	p.log.Info().Int("components", len(candidates)).Msg("ranked high-density structures")
	if len(candidates) < 2 {
		return nil, ErrTooFewFemurCandidates
	}

	// The two largest dense structures are the femur candidates, the
	// remainder is treated as pelvis.
	candA := SelectMask(denseKeep, denseLabels, candidates[:1])
	candB := SelectMask(denseKeep, denseLabels, candidates[1:2])
	pelvis := SelectMask(denseKeep, denseLabels, candidates[2:])

	boxA, err := MaskBounds(candA)
	if err != nil {
		return nil, fmt.Errorf("femur candidate bounds: %w", err)
	}
	boxB, err := MaskBounds(candB)
	if err != nil {
		return nil, fmt.Errorf("femur candidate bounds: %w", err)
	}
	padA := boxA.Pad(p.params.FemurPadding)
	padB := boxB.Pad(p.params.FemurPadding)
	combined := boxA.Union(boxB).Pad(p.params.CombinedPadding)
	p.log.Debug().
		Stringer("a", boxA).
		Stringer("b", boxB).
		Stringer("combined", combined).
		Msg("femur candidate boxes")

	// Exclusion zone: the pelvis footprint plus the combined femur
	// region, removed from the skeleton before isolating the spine.
	depthAxis := p.params.DepthAxis
	if depthAxis < 0 {
		depthAxis = 0
	}
	footprint := ProjectFootprint(pelvis, depthAxis, p.params.DilationRadius)

	spineField := skeletonMask.AndNot(footprint).AndNot(combined.Mask(v.Dims))
	spineLabels, spineRank := RankComponents(spineField, 1)
	if len(spineRank) == 0 {
		return nil, ErrNoSpine
	}
	spine := SelectMask(spineField, spineLabels, spineRank)
	spineBox, err := MaskBounds(spine)
	if err != nil {
		return nil, fmt.Errorf("spine bounds: %w", err)
	}
	p.log.Info().Int("voxels", spineRank[0].Voxels).Stringer("box", spineBox).Msg("isolated spine")

	lat := ClassifyLaterality(boxA, boxB, spineBox, v.Dims, p.params.DepthAxis)
	if lat.Ambiguous {
		p.log.Warn().Msg("zero laterality discriminant, keeping canonical assignment")
	}
	p.log.Info().
		Str("right", lat.Right()).
		Int("depthAxis", lat.DepthAxis).
		Bool("detected", lat.Detected).
		Float64("discriminant", lat.Discriminant).
		Msg("classified femur laterality")

	res := &Result{
		Pelvis:          pelvis,
		PelvisFootprint: footprint,
		Spine:           spine,
		SpineBox:        spineBox,
		CombinedBox:     combined,
		Candidates:      candidates,
		Laterality:      lat,
	}
	femurA := skeletonMask.And(padA.Mask(v.Dims))
	femurB := skeletonMask.And(padB.Mask(v.Dims))
	if lat.RightIsA {
		res.RightFemur, res.RightBox = femurA, padA
		res.LeftFemur, res.LeftBox = femurB, padB
	} else {
		res.RightFemur, res.RightBox = femurB, padB
		res.LeftFemur, res.LeftBox = femurA, padA
	}
	return res, nil
}
