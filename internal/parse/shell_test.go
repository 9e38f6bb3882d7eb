package parse

import (
	"context"
	"testing"
)

func TestSplitCommands(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		want  []string // expected command names in order
		nSubs int
	}{
		{"single", "bwa mem ref.fa r1.fq", []string{"bwa"}, 1},
		{"pipe", "bwa mem ref.fa | samtools sort", []string{"bwa", "samtools"}, 2},
		{"and", "cd /scratch && bwa mem ref.fa", []string{"cd", "bwa"}, 2},
		{"semicolons", "a; b; c", []string{"a", "b", "c"}, 3},
		{"quoted pipe", `echo "a|b"`, []string{"echo"}, 1},
		{"single quoted and", `echo 'x && y'`, []string{"echo"}, 1},
		{"escaped pipe", `echo a\|b`, []string{"echo"}, 1},
		{"mixed", `echo "a|b"; ls -l`, []string{"echo", "ls"}, 2},
		{"blank", "   ", nil, 0},
		{"only separators", "|||", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := SplitCommands(tt.line)
			if len(subs) != tt.nSubs {
				t.Fatalf("got %d sub-commands, want %d: %+v", len(subs), tt.nSubs, subs)
			}
			for i, want := range tt.want {
				if subs[i].Name != want {
					t.Errorf("sub %d name = %q, want %q", i, subs[i].Name, want)
				}
			}
		})
	}
}

func TestScannerFindsCommands(t *testing.T) {
	s := NewScanner()
	t.Cleanup(s.Close)

	script := "#!/bin/bash\n#SBATCH -N 1\nbwa mem ref.fa r1.fq > out.sam\n"
	result, err := s.Scan(context.Background(), script)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(result.Commands) != 1 {
		t.Fatalf("got %d commands, want 1: %+v", len(result.Commands), result.Commands)
	}
	cmd := result.Commands[0]
	if cmd.Name != "bwa" {
		t.Errorf("Name = %q, want bwa", cmd.Name)
	}
	if cmd.Line != 3 {
		t.Errorf("Line = %d, want 3", cmd.Line)
	}
}

func TestScannerPipelineSharesLine(t *testing.T) {
	s := NewScanner()
	t.Cleanup(s.Close)

	result, err := s.Scan(context.Background(), "BWA mem ref.fa r1.fq | SAMTOOLS sort -o out.bam\n")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(result.Commands) != 2 {
		t.Fatalf("got %d commands, want 2: %+v", len(result.Commands), result.Commands)
	}
	if result.Commands[0].Name != "BWA" || result.Commands[1].Name != "SAMTOOLS" {
		t.Errorf("names = %q, %q; casing should be preserved", result.Commands[0].Name, result.Commands[1].Name)
	}
	if result.Commands[0].Line != result.Commands[1].Line {
		t.Errorf("piped commands should share a line: %d vs %d", result.Commands[0].Line, result.Commands[1].Line)
	}
}

func TestScannerQuotedPipe(t *testing.T) {
	s := NewScanner()
	t.Cleanup(s.Close)

	result, err := s.Scan(context.Background(), `echo "a|b"`+"\n")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(result.Commands) != 1 {
		t.Fatalf("quoted pipe split into %d commands: %+v", len(result.Commands), result.Commands)
	}
}

func TestScannerEnvPrefix(t *testing.T) {
	s := NewScanner()
	t.Cleanup(s.Close)

	result, err := s.Scan(context.Background(), "OMP_NUM_THREADS=4 bwa mem ref.fa\n")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(result.Commands) != 1 {
		t.Fatalf("got %d commands, want 1", len(result.Commands))
	}
	if result.Commands[0].Name != "bwa" {
		t.Errorf("Name = %q, want bwa (assignment prefix should be skipped)", result.Commands[0].Name)
	}
}

func TestScannerHeredocCoverage(t *testing.T) {
	s := NewScanner()
	t.Cleanup(s.Close)

	script := "cat <<EOF\nbwa is mentioned here\nEOF\n"
	result, err := s.Scan(context.Background(), script)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for _, cmd := range result.Commands {
		if cmd.Name == "bwa" {
			t.Error("heredoc body text treated as a command")
		}
	}
	if !result.Covered[2] {
		t.Error("heredoc body line not marked as covered")
	}
}
