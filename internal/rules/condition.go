// Package rules defines the declarative rule model shared by the evaluation
// engine, the rule store and the distillation stage. A rule's trigger is a
// small tagged-variant condition tree evaluated by one generic walker, never
// per-rule code, so that rules learned at runtime use exactly the same
// grammar as the rules shipped with the base store.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"slurmsage/internal/types"
)

// =============================================================================
// CONDITION TREE
// =============================================================================

// Condition ops. Leaves test one extracted fact; composites combine children.
const (
	OpAll              = "all"               // every child holds
	OpAny              = "any"               // at least one child holds
	OpToolsAny         = "tools-any"         // tool set intersects Tools
	OpWorkloadIs       = "workload-is"       // inferred workload name matches
	OpDirectiveMatches = "directive-matches" // directive value matches Pattern (presence when empty)
	OpRawMatches       = "raw-matches"       // element raw text matches Pattern
	OpElementCount     = "element-count"     // count of elements compared to Value
	OpStripeCount      = "stripe-count"      // declared stripe width compared to Value
)

// Comparison operators for the counting leaves.
const (
	CmpEq = "eq"
	CmpNe = "ne"
	CmpGt = "gt"
	CmpGe = "ge"
	CmpLt = "lt"
	CmpLe = "le"
)

// Condition is one node of a trigger tree. Exactly the fields relevant to Op
// are set; everything else stays zero. The flat shape keeps the tree
// YAML-serializable so learned rules round-trip through the store unchanged.
type Condition struct {
	Op string `yaml:"op"`

	// Composite children (OpAll, OpAny).
	Of []Condition `yaml:"of,omitempty"`

	// OpToolsAny operand.
	Tools []string `yaml:"tools,omitempty"`

	// OpWorkloadIs operand.
	Workload string `yaml:"workload,omitempty"`

	// OpDirectiveMatches operands. Pattern empty means presence test.
	Key     string `yaml:"key,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`

	// OpRawMatches / OpElementCount restriction. Empty means any kind.
	Kind string `yaml:"kind,omitempty"`

	// OpElementCount restriction to striping commands.
	Striping bool `yaml:"striping,omitempty"`

	// Counting operands (OpElementCount, OpStripeCount).
	Compare string `yaml:"compare,omitempty"`
	Value   int    `yaml:"value"`
}

// Facts is the evaluation input extracted from one AnalysisRecord. The
// engine builds it once per record; conditions only read it.
type Facts struct {
	// Tools holds the distinct, lower-cased tool names seen in ToolCommand
	// elements.
	Tools map[string]bool

	// Directives maps directive keys to their values in source order.
	Directives map[string][]string

	// Workload is the record's inferred workload, nil when none.
	Workload *types.WorkloadInference

	// Elements is the record's parsed element list.
	Elements []types.ParsedElement

	// StripingCommands counts FilesystemCommand elements that configure
	// striping. StripeWidth is the declared stripe count of the last such
	// command, 1 when the command does not state one; it is meaningless
	// while StripingCommands is zero.
	StripingCommands int
	StripeWidth      int
}

// HasTool reports whether the (case-insensitive) tool name was seen.
func (f Facts) HasTool(name string) bool {
	return f.Tools[strings.ToLower(name)]
}

// Evaluate walks a condition tree against extracted facts. It is pure and
// total: an ill-formed node yields (false, error) and the caller records the
// diagnostic; nothing panics and nothing is mutated.
func Evaluate(c Condition, f Facts) (bool, error) {
	switch c.Op {
	case OpAll:
		if len(c.Of) == 0 {
			return false, fmt.Errorf("condition %q has no children", c.Op)
		}
		for i, child := range c.Of {
			ok, err := Evaluate(child, f)
			if err != nil {
				return false, fmt.Errorf("all[%d]: %w", i, err)
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OpAny:
		if len(c.Of) == 0 {
			return false, fmt.Errorf("condition %q has no children", c.Op)
		}
		for i, child := range c.Of {
			ok, err := Evaluate(child, f)
			if err != nil {
				return false, fmt.Errorf("any[%d]: %w", i, err)
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpToolsAny:
		if len(c.Tools) == 0 {
			return false, fmt.Errorf("tools-any requires a tool list")
		}
		for _, tool := range c.Tools {
			if f.HasTool(tool) {
				return true, nil
			}
		}
		return false, nil

	case OpWorkloadIs:
		if c.Workload == "" {
			return false, fmt.Errorf("workload-is requires a workload name")
		}
		return f.Workload != nil && strings.EqualFold(f.Workload.Name, c.Workload), nil

	case OpDirectiveMatches:
		if c.Key == "" {
			return false, fmt.Errorf("directive-matches requires a key")
		}
		values := f.Directives[c.Key]
		if c.Pattern == "" {
			return len(values) > 0, nil
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return false, fmt.Errorf("directive-matches pattern: %w", err)
		}
		for _, v := range values {
			if re.MatchString(v) {
				return true, nil
			}
		}
		return false, nil

	case OpRawMatches:
		if c.Pattern == "" {
			return false, fmt.Errorf("raw-matches requires a pattern")
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return false, fmt.Errorf("raw-matches pattern: %w", err)
		}
		for _, el := range f.Elements {
			if c.Kind != "" && el.Kind != types.ElementKind(c.Kind) {
				continue
			}
			if re.MatchString(el.RawText) {
				return true, nil
			}
		}
		return false, nil

	case OpElementCount:
		count, err := f.countElements(c)
		if err != nil {
			return false, err
		}
		return compare(count, c.Compare, c.Value)

	case OpStripeCount:
		if f.StripingCommands == 0 {
			return false, nil
		}
		return compare(f.StripeWidth, c.Compare, c.Value)

	default:
		return false, fmt.Errorf("unknown condition op %q", c.Op)
	}
}

func (f Facts) countElements(c Condition) (int, error) {
	if c.Striping {
		return f.StripingCommands, nil
	}
	if c.Kind == "" {
		return len(f.Elements), nil
	}
	kind := types.ElementKind(c.Kind)
	switch kind {
	case types.ElementDirective, types.ElementToolCommand,
		types.ElementFilesystemCommand, types.ElementPlainCommand:
	default:
		return 0, fmt.Errorf("element-count: unknown element kind %q", c.Kind)
	}
	n := 0
	for _, el := range f.Elements {
		if el.Kind == kind {
			n++
		}
	}
	return n, nil
}

func compare(got int, op string, want int) (bool, error) {
	switch op {
	case CmpEq:
		return got == want, nil
	case CmpNe:
		return got != want, nil
	case CmpGt:
		return got > want, nil
	case CmpGe:
		return got >= want, nil
	case CmpLt:
		return got < want, nil
	case CmpLe:
		return got <= want, nil
	default:
		return false, fmt.Errorf("unknown comparison %q", op)
	}
}

// ValidateTrigger statically checks that a condition tree is expressible in
// the grammar: known ops, populated operands, compilable patterns. It is the
// distillation gate's trigger check and runs without any facts.
func ValidateTrigger(c Condition) error {
	switch c.Op {
	case OpAll, OpAny:
		if len(c.Of) == 0 {
			return fmt.Errorf("%s: composite needs at least one child", c.Op)
		}
		for i, child := range c.Of {
			if err := ValidateTrigger(child); err != nil {
				return fmt.Errorf("%s[%d]: %w", c.Op, i, err)
			}
		}
		return nil
	case OpToolsAny:
		if len(c.Tools) == 0 {
			return fmt.Errorf("tools-any: empty tool list")
		}
		return nil
	case OpWorkloadIs:
		if c.Workload == "" {
			return fmt.Errorf("workload-is: empty workload name")
		}
		return nil
	case OpDirectiveMatches:
		if c.Key == "" {
			return fmt.Errorf("directive-matches: empty key")
		}
		if c.Pattern != "" {
			if _, err := regexp.Compile(c.Pattern); err != nil {
				return fmt.Errorf("directive-matches: %w", err)
			}
		}
		return nil
	case OpRawMatches:
		if c.Pattern == "" {
			return fmt.Errorf("raw-matches: empty pattern")
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("raw-matches: %w", err)
		}
		return nil
	case OpElementCount:
		if !c.Striping && c.Kind != "" {
			switch types.ElementKind(c.Kind) {
			case types.ElementDirective, types.ElementToolCommand,
				types.ElementFilesystemCommand, types.ElementPlainCommand:
			default:
				return fmt.Errorf("element-count: unknown element kind %q", c.Kind)
			}
		}
		return validCompare(c.Compare)
	case OpStripeCount:
		return validCompare(c.Compare)
	default:
		return fmt.Errorf("unknown condition op %q", c.Op)
	}
}

func validCompare(op string) error {
	switch op {
	case CmpEq, CmpNe, CmpGt, CmpGe, CmpLt, CmpLe:
		return nil
	default:
		return fmt.Errorf("unknown comparison %q", op)
	}
}
