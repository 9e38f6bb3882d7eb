package rules

// UsesOp reports whether any node of the condition tree has the given op.
// The evaluation stage uses it to anchor findings: a trigger that tests
// stripe counts gets its finding pinned to the striping command's line.
func UsesOp(c Condition, op string) bool {
	if c.Op == op {
		return true
	}
	for _, child := range c.Of {
		if UsesOp(child, op) {
			return true
		}
	}
	return false
}

// CollectTools gathers every tool name referenced by tools-any leaves in
// the condition tree, in first-seen order.
func CollectTools(c Condition) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(Condition)
	walk = func(n Condition) {
		if n.Op == OpToolsAny {
			for _, t := range n.Tools {
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
		for _, child := range n.Of {
			walk(child)
		}
	}
	walk(c)
	return out
}
