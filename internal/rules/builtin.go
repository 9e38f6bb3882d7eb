package rules

import "slurmsage/internal/types"

// Default tool vocabularies. These are data, not logic: the parser classifies
// commands against them and the base rules embed them in their triggers.
// Operators can extend both through configuration.
var (
	// DefaultLargeFileTools stream or index multi-gigabyte inputs and
	// benefit from striping across several storage targets.
	DefaultLargeFileTools = []string{
		"bwa", "gatk", "samtools", "vasp", "star", "hisat2", "bowtie2",
	}

	// DefaultSmallFileTools touch many small files; wide striping only adds
	// metadata overhead for them.
	DefaultSmallFileTools = []string{
		"fastqc", "multiqc", "blastn", "blastp", "diamond",
	}

	// DefaultFilesystemCommands lead commands that talk to the parallel
	// filesystem directly.
	DefaultFilesystemCommands = []string{"lfs", "lctl"}
)

// Canonical rule ids shipped with the base store.
const (
	RuleMissingStriping = "missing-striping-for-large-files"
	RuleWideStriping    = "wide-striping-for-small-files"
)

// BaseRules returns the rules seeded into a fresh store. They exercise the
// same trigger grammar learned rules use; nothing in the engine knows their
// ids.
func BaseRules() []Rule {
	return []Rule{
		{
			ID:              RuleMissingStriping,
			Description:     "Large-file tools run without any striping configuration.",
			OwningStage:     "engine",
			SeverityDefault: types.SeverityWarning,
			Category:        "lustre",
			Trigger: Condition{
				Op: OpAll,
				Of: []Condition{
					{Op: OpToolsAny, Tools: append([]string(nil), DefaultLargeFileTools...)},
					{Op: OpElementCount, Striping: true, Compare: CmpEq, Value: 0},
				},
			},
			Feedback: map[types.Tier]Feedback{
				types.TierBasic: {
					Title:   "Large files without striping",
					Message: "Your job reads or writes very large files. Ask your cluster support team about Lustre striping; it can make jobs like this noticeably faster.",
				},
				types.TierMedium: {
					Title: "Large-file workload without Lustre striping",
					Message: "This script runs tools that process large files but never configures Lustre striping. " +
						"Striping spreads a file across several storage targets so large sequential reads and writes go faster. " +
						"Run 'lfs setstripe -c <count> <directory>' on the output directory before the tools start.",
				},
				types.TierAdvanced: {
					Title: "No lfs setstripe for large-file I/O",
					Message: "Large-file tools detected with no striping layout set. " +
						"Set 'lfs setstripe -c 4 -S 4m <dir>' (tune count to OST pool size) on the job's I/O directory, or inherit a striped parent directory.",
				},
			},
		},
		{
			ID:              RuleWideStriping,
			Description:     "Small-file tools run under a stripe count greater than one.",
			OwningStage:     "engine",
			SeverityDefault: types.SeverityWarning,
			Category:        "lustre",
			Trigger: Condition{
				Op: OpAll,
				Of: []Condition{
					{Op: OpAny, Of: []Condition{
						{Op: OpToolsAny, Tools: append([]string(nil), DefaultSmallFileTools...)},
						{Op: OpWorkloadIs, Workload: "small_file_io"},
					}},
					{Op: OpStripeCount, Compare: CmpGt, Value: 1},
				},
			},
			Feedback: map[types.Tier]Feedback{
				types.TierBasic: {
					Title:   "Striping set too wide for small files",
					Message: "Your job works on many small files but asks the filesystem to split each one across several storage targets. That slows small files down; a stripe count of 1 is usually right here.",
				},
				types.TierMedium: {
					Title: "Wide striping hurts small-file workloads",
					Message: "This script sets a Lustre stripe count above 1 while running tools that handle many small files. " +
						"Each small file then pays metadata and RPC overhead on every stripe for no bandwidth gain. " +
						"Use 'lfs setstripe -c 1 <directory>' for directories full of small files.",
				},
				types.TierAdvanced: {
					Title: "Stripe count > 1 on small-file I/O",
					Message: "Small-file tools detected under a stripe count above 1. " +
						"Restripe the working directory with 'lfs setstripe -c 1 <dir>'; reserve wide stripes for the large outputs only.",
				},
			},
		},
	}
}
