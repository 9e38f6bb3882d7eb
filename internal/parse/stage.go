// Package parse converts raw submission-script text into the structured
// element list the analysis record carries: scheduler directives, tool
// invocations, filesystem commands, and plain commands. Parsing is
// line-oriented and never fails: unrecognized text degrades to plain
// command elements.
package parse

import (
	"context"
	"regexp"
	"strings"

	"slurmsage/internal/logging"
	"slurmsage/internal/rules"
	"slurmsage/internal/types"
)

// StageName identifies this stage in trace entries.
const StageName = "parse"

var directivePattern = regexp.MustCompile(`^\s*#SBATCH\s+([-\w]+)(?:[=\s](.*?))?(?:\s+#.*)?\s*$`)

// Options configures the classification vocabulary. Zero values fall back
// to the built-in tool sets.
type Options struct {
	LargeFileTools     []string
	SmallFileTools     []string
	FilesystemCommands []string
	Marker             string
}

// Stage is the parsing stage. It tokenizes the script, classifies each
// line, and appends the resulting elements to the record.
type Stage struct {
	scanner       *Scanner
	largeTools    map[string]bool
	smallTools    map[string]bool
	fsCommands    map[string]bool
	markerPattern *regexp.Regexp
}

// NewStage creates a parsing stage with the given vocabulary.
func NewStage(opts Options) *Stage {
	if len(opts.LargeFileTools) == 0 {
		opts.LargeFileTools = rules.DefaultLargeFileTools
	}
	if len(opts.SmallFileTools) == 0 {
		opts.SmallFileTools = rules.DefaultSmallFileTools
	}
	if len(opts.FilesystemCommands) == 0 {
		opts.FilesystemCommands = rules.DefaultFilesystemCommands
	}
	if opts.Marker == "" {
		opts.Marker = "# slurmsage:"
	}

	tag := strings.Trim(opts.Marker, "# :")
	markerPattern := regexp.MustCompile(`(?i)^\s*#\s*` + regexp.QuoteMeta(tag) + `:\s*(.+)$`)

	return &Stage{
		scanner:       NewScanner(),
		largeTools:    toLowerSet(opts.LargeFileTools),
		smallTools:    toLowerSet(opts.SmallFileTools),
		fsCommands:    toLowerSet(opts.FilesystemCommands),
		markerPattern: markerPattern,
	}
}

// Close releases the embedded scanner.
func (s *Stage) Close() {
	s.scanner.Close()
}

// Name implements the pipeline stage contract.
func (s *Stage) Name() string {
	return StageName
}

// Run populates the record's elements from its source text. A record that
// already has elements is left untouched apart from a trace entry, so
// re-running the stage never duplicates work.
func (s *Stage) Run(ctx context.Context, rec *types.AnalysisRecord) error {
	timer := logging.StartTimer(logging.CategoryParse, "Run")
	defer timer.Stop()

	if len(rec.Elements) > 0 {
		logging.ParseDebug("record %s already has %d elements, skipping", rec.ID, len(rec.Elements))
		rec.AppendTrace(StageName, "skipped", map[string]interface{}{
			"reason":            "elements already present",
			"existing_elements": len(rec.Elements),
		})
		return nil
	}

	lines := strings.Split(rec.SourceText, "\n")

	scan, err := s.scanner.Scan(ctx, rec.SourceText)
	if err != nil {
		// Grammar-level failure: fall back to textual tokenization for
		// every line. The report still gets built.
		logging.Get(logging.CategoryParse).Warn("shell scan failed, using textual fallback: %v", err)
		rec.AppendTrace(StageName, "scanner-fallback", map[string]interface{}{
			"error": err.Error(),
		})
		scan = &ScanResult{Covered: map[int]bool{}}
	}

	byLine := make(map[int][]ShellCommand, len(scan.Commands))
	for _, cmd := range scan.Commands {
		byLine[cmd.Line] = append(byLine[cmd.Line], cmd)
	}

	counts := map[string]int{}
	markers := 0

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := directivePattern.FindStringSubmatch(line); m != nil {
			rec.AppendElement(types.ParsedElement{
				Kind:       types.ElementDirective,
				Key:        m[1],
				Value:      strings.TrimSpace(m[2]),
				LineNumber: lineNum,
				RawText:    line,
			})
			counts[string(types.ElementDirective)]++
			continue
		}

		if m := s.markerPattern.FindStringSubmatch(line); m != nil {
			rec.AppendUserDirective(types.UserDirective{
				Text:       strings.TrimSpace(m[1]),
				LineNumber: lineNum,
			})
			markers++
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		subs := byLine[lineNum]
		if len(subs) == 0 {
			if scan.Covered[lineNum] {
				// Continuation or heredoc text of a command already
				// emitted for an earlier line.
				continue
			}
			subs = SplitCommands(line)
		}

		for _, sub := range subs {
			kind := s.classify(sub.Name)
			rec.AppendElement(types.ParsedElement{
				Kind:       kind,
				LineNumber: lineNum,
				RawText:    sub.Raw,
			})
			counts[string(kind)]++
		}
	}

	detail := map[string]interface{}{
		"total_lines":     len(lines),
		"user_directives": markers,
	}
	for kind, n := range counts {
		detail[kind] = n
	}
	rec.AppendTrace(StageName, "parsed", detail)

	logging.Parse("record %s: parsed %d lines into %d elements", rec.ID, len(lines), len(rec.Elements))
	return nil
}

// classify maps a command name to an element kind. Filesystem commands win
// over tool commands, tools win over plain commands.
func (s *Stage) classify(name string) types.ElementKind {
	lower := strings.ToLower(name)
	switch {
	case s.fsCommands[lower]:
		return types.ElementFilesystemCommand
	case s.largeTools[lower] || s.smallTools[lower]:
		return types.ElementToolCommand
	default:
		return types.ElementPlainCommand
	}
}

func toLowerSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	return set
}
