package rules

import (
	"strings"
	"testing"

	"slurmsage/internal/types"
)

func sampleFacts() Facts {
	return Facts{
		Tools: map[string]bool{"bwa": true, "samtools": true},
		Directives: map[string][]string{
			"-N":    {"1"},
			"--mem": {"4G"},
		},
		Workload: &types.WorkloadInference{Name: "large_file_io", Confidence: 0.8},
		Elements: []types.ParsedElement{
			{Kind: types.ElementDirective, Key: "-N", Value: "1", LineNumber: 1, RawText: "#SBATCH -N 1"},
			{Kind: types.ElementToolCommand, LineNumber: 2, RawText: "bwa mem ref.fa r1.fq"},
			{Kind: types.ElementToolCommand, LineNumber: 2, RawText: "samtools sort -o out.bam"},
			{Kind: types.ElementFilesystemCommand, LineNumber: 3, RawText: "lfs setstripe -c 4 ."},
			{Kind: types.ElementPlainCommand, LineNumber: 4, RawText: "cd /scratch/run42"},
		},
		StripingCommands: 1,
		StripeWidth:      4,
	}
}

func TestEvaluateLeaves(t *testing.T) {
	f := sampleFacts()

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"tools-any hit", Condition{Op: OpToolsAny, Tools: []string{"gatk", "BWA"}}, true},
		{"tools-any miss", Condition{Op: OpToolsAny, Tools: []string{"fastqc"}}, false},
		{"workload-is hit", Condition{Op: OpWorkloadIs, Workload: "LARGE_FILE_IO"}, true},
		{"workload-is miss", Condition{Op: OpWorkloadIs, Workload: "small_file_io"}, false},
		{"directive presence", Condition{Op: OpDirectiveMatches, Key: "-N"}, true},
		{"directive absent", Condition{Op: OpDirectiveMatches, Key: "--gres"}, false},
		{"directive pattern hit", Condition{Op: OpDirectiveMatches, Key: "--mem", Pattern: `^\d+G$`}, true},
		{"directive pattern miss", Condition{Op: OpDirectiveMatches, Key: "--mem", Pattern: `^\d+T$`}, false},
		{"raw match any kind", Condition{Op: OpRawMatches, Pattern: `setstripe`}, true},
		{"raw match kind filter", Condition{Op: OpRawMatches, Pattern: `setstripe`, Kind: "tool_command"}, false},
		{"element count all", Condition{Op: OpElementCount, Compare: CmpEq, Value: 5}, true},
		{"element count by kind", Condition{Op: OpElementCount, Kind: "tool_command", Compare: CmpEq, Value: 2}, true},
		{"element count striping", Condition{Op: OpElementCount, Striping: true, Compare: CmpEq, Value: 1}, true},
		{"stripe width gt", Condition{Op: OpStripeCount, Compare: CmpGt, Value: 1}, true},
		{"stripe width le", Condition{Op: OpStripeCount, Compare: CmpLe, Value: 3}, false},
	}

	for _, tc := range cases {
		got, err := Evaluate(tc.cond, f)
		if err != nil {
			t.Fatalf("%s: Evaluate error = %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: Evaluate = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEvaluateStripeCountWithoutStriping(t *testing.T) {
	f := sampleFacts()
	f.StripingCommands = 0
	f.StripeWidth = 0

	got, err := Evaluate(Condition{Op: OpStripeCount, Compare: CmpGt, Value: 0}, f)
	if err != nil {
		t.Fatalf("Evaluate error = %v", err)
	}
	if got {
		t.Fatal("stripe-count fired with no striping command present")
	}
}

func TestEvaluateComposites(t *testing.T) {
	f := sampleFacts()

	and := Condition{Op: OpAll, Of: []Condition{
		{Op: OpToolsAny, Tools: []string{"bwa"}},
		{Op: OpElementCount, Striping: true, Compare: CmpEq, Value: 0},
	}}
	got, err := Evaluate(and, f)
	if err != nil {
		t.Fatalf("Evaluate(all) error = %v", err)
	}
	if got {
		t.Fatal("all = true, want false (striping exists)")
	}

	or := Condition{Op: OpAny, Of: []Condition{
		{Op: OpToolsAny, Tools: []string{"fastqc"}},
		{Op: OpWorkloadIs, Workload: "large_file_io"},
	}}
	got, err = Evaluate(or, f)
	if err != nil {
		t.Fatalf("Evaluate(any) error = %v", err)
	}
	if !got {
		t.Fatal("any = false, want true (workload matches)")
	}
}

func TestEvaluateIllFormedNeverPanics(t *testing.T) {
	f := sampleFacts()

	bad := []struct {
		name string
		cond Condition
	}{
		{"unknown op", Condition{Op: "sometimes"}},
		{"empty all", Condition{Op: OpAll}},
		{"empty any", Condition{Op: OpAny}},
		{"tools-any no tools", Condition{Op: OpToolsAny}},
		{"workload-is no name", Condition{Op: OpWorkloadIs}},
		{"directive no key", Condition{Op: OpDirectiveMatches}},
		{"bad regex", Condition{Op: OpRawMatches, Pattern: "("}},
		{"bad comparison", Condition{Op: OpStripeCount, Compare: "about"}},
		{"bad kind", Condition{Op: OpElementCount, Kind: "gpu_command", Compare: CmpEq}},
		{"nested error", Condition{Op: OpAll, Of: []Condition{{Op: "sometimes"}}}},
	}

	for _, tc := range bad {
		got, err := Evaluate(tc.cond, f)
		if err == nil {
			t.Fatalf("%s: Evaluate error = nil, want diagnostic", tc.name)
		}
		if got {
			t.Fatalf("%s: ill-formed condition evaluated to triggered", tc.name)
		}
	}
}

func TestValidateTriggerMirrorsEvaluate(t *testing.T) {
	good := Condition{Op: OpAll, Of: []Condition{
		{Op: OpToolsAny, Tools: []string{"bwa"}},
		{Op: OpAny, Of: []Condition{
			{Op: OpStripeCount, Compare: CmpGt, Value: 1},
			{Op: OpDirectiveMatches, Key: "--mem", Pattern: `G$`},
		}},
	}}
	if err := ValidateTrigger(good); err != nil {
		t.Fatalf("ValidateTrigger(good) = %v", err)
	}

	bad := Condition{Op: OpAll, Of: []Condition{
		{Op: OpRawMatches, Pattern: "("},
	}}
	err := ValidateTrigger(bad)
	if err == nil {
		t.Fatal("ValidateTrigger(bad regex) = nil, want error")
	}
	if !strings.Contains(err.Error(), "all[0]") {
		t.Fatalf("ValidateTrigger error %q does not locate the failing child", err)
	}
}

func TestCollectTools(t *testing.T) {
	trigger := Condition{Op: OpAll, Of: []Condition{
		{Op: OpAny, Of: []Condition{
			{Op: OpToolsAny, Tools: []string{"bwa", "gatk"}},
			{Op: OpToolsAny, Tools: []string{"bwa"}},
		}},
		{Op: OpStripeCount, Compare: CmpEq, Value: 0},
		{Op: OpToolsAny, Tools: []string{"samtools"}},
	}}

	if got := strings.Join(CollectTools(trigger), ","); got != "bwa,gatk,samtools" {
		t.Fatalf("CollectTools = %q, want %q", got, "bwa,gatk,samtools")
	}

	if got := CollectTools(Condition{Op: OpWorkloadIs, Workload: "large_file_io"}); len(got) != 0 {
		t.Fatalf("CollectTools(no tool leaves) = %v, want none", got)
	}
}
