package parse

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"

	"slurmsage/internal/logging"
)

// ShellCommand is one simple command found in a script: its command name,
// the 1-based line it starts on, and its raw text with casing preserved.
type ShellCommand struct {
	Name string
	Line int
	Raw  string
}

// Scanner extracts simple commands from shell text using the tree-sitter
// bash grammar. The grammar understands quoting, env-var prefixes, and
// heredocs, so a pipe inside a quoted string is never treated as a
// command separator.
type Scanner struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewScanner creates a scanner with the bash grammar loaded.
func NewScanner() *Scanner {
	parser := sitter.NewParser()
	parser.SetLanguage(bash.GetLanguage())
	return &Scanner{parser: parser}
}

// Close releases the underlying parser.
func (s *Scanner) Close() {
	s.parser.Close()
}

// ScanResult holds the commands found plus the set of lines consumed by a
// multi-line construct (heredoc bodies, continuations) that should not be
// re-tokenized line by line.
type ScanResult struct {
	Commands []ShellCommand
	Covered  map[int]bool
}

// Scan parses the whole script once and collects every simple command.
func (s *Scanner) Scan(ctx context.Context, source string) (*ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content := []byte(source)
	tree, err := s.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		logging.ParseDebug("Scanner: tree-sitter parse failed: %v", err)
		return nil, err
	}
	defer tree.Close()

	result := &ScanResult{Covered: make(map[int]bool)}

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "command":
			nameNode := n.ChildByFieldName("name")
			if nameNode != nil {
				result.Commands = append(result.Commands, ShellCommand{
					Name: nameNode.Content(content),
					Line: int(n.StartPoint().Row) + 1,
					Raw:  n.Content(content),
				})
			}
			markCovered(result.Covered, n)
		case "redirected_statement", "heredoc_body":
			markCovered(result.Covered, n)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(tree.RootNode())

	return result, nil
}

// markCovered records the continuation lines of a node: every line the node
// spans after the one it starts on.
func markCovered(covered map[int]bool, n *sitter.Node) {
	start := int(n.StartPoint().Row) + 1
	end := int(n.EndPoint().Row) + 1
	for line := start + 1; line <= end; line++ {
		covered[line] = true
	}
}

// SplitCommands is the textual fallback tokenizer: it splits one line into
// sub-commands on |, ;, and && separators, honoring single quotes, double
// quotes, and backslash escapes. Used when the grammar finds no command on
// a line, so unrecognized text still degrades to elements instead of being
// dropped.
func SplitCommands(line string) []ShellCommand {
	var subs []ShellCommand
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text == "" {
			return
		}
		subs = append(subs, ShellCommand{
			Name: firstToken(text),
			Raw:  text,
		})
	}

	inSingle, inDouble := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '\\' && !inSingle && i+1 < len(line):
			current.WriteByte(ch)
			i++
			current.WriteByte(line[i])
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			current.WriteByte(ch)
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			current.WriteByte(ch)
		case !inSingle && !inDouble && ch == '|':
			flush()
		case !inSingle && !inDouble && ch == ';':
			flush()
		case !inSingle && !inDouble && ch == '&' && i+1 < len(line) && line[i+1] == '&':
			flush()
			i++
		default:
			current.WriteByte(ch)
		}
	}
	flush()

	return subs
}

func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
