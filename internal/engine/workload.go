package engine

import (
	"slurmsage/internal/rules"
	"slurmsage/internal/types"
)

// DefaultWorkloadThreshold is the minimum confidence a signature match
// needs before the record's workload guess is set.
const DefaultWorkloadThreshold = 0.5

// Signature describes one workload pattern: a set of tools that must all
// be present, and the confidence assigned when they are. Signatures are
// checked in order; the first match wins.
type Signature struct {
	Name       string
	Tools      []string
	Confidence float64
}

// DefaultSignatures builds the signature list from the configured tool
// vocabularies. Multi-tool pipelines rank above single-tool matches
// because co-occurrence is stronger evidence.
func DefaultSignatures(largeTools, smallTools []string) []Signature {
	var sigs []Signature

	large := toSet(largeTools)
	if large["bwa"] && large["samtools"] {
		sigs = append(sigs, Signature{
			Name:       "genomics_alignment",
			Tools:      []string{"bwa", "samtools"},
			Confidence: 0.9,
		})
	}
	for _, tool := range largeTools {
		sigs = append(sigs, Signature{
			Name:       "large_file_io",
			Tools:      []string{tool},
			Confidence: 0.8,
		})
	}
	for _, tool := range smallTools {
		sigs = append(sigs, Signature{
			Name:       "small_file_io",
			Tools:      []string{tool},
			Confidence: 0.7,
		})
	}
	return sigs
}

// classifyWorkload matches the tool set against the signatures and returns
// the inference for the first signature whose tools are all present and
// whose confidence clears the threshold. Returns nil when nothing matches.
func classifyWorkload(facts rules.Facts, signatures []Signature, threshold float64) *types.WorkloadInference {
	for _, sig := range signatures {
		if sig.Confidence < threshold || len(sig.Tools) == 0 {
			continue
		}
		all := true
		for _, tool := range sig.Tools {
			if !facts.HasTool(tool) {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		return &types.WorkloadInference{
			Name:       sig.Name,
			Confidence: sig.Confidence,
			Tools:      append([]string(nil), sig.Tools...),
		}
	}
	return nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
