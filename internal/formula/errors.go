package formula

import "fmt"

// ParseError reports a malformed formula. Pos is a rune offset into Expr.
type ParseError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("formula %q: %s at position %d", e.Expr, e.Msg, e.Pos)
}

// EvalError reports a formula that cannot be computed for a reason other
// than missing data, such as arithmetic on text or mismatched units.
type EvalError struct {
	NodeID string
	Expr   string
	Msg    string
}

func (e *EvalError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("evaluate %q: %s", e.Expr, e.Msg)
	}
	return fmt.Sprintf("evaluate node %s (%q): %s", e.NodeID, e.Expr, e.Msg)
}

// NodeNotFoundError reports an unknown provenance node id.
type NodeNotFoundError struct {
	NodeID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("provenance node %q not found", e.NodeID)
}

// NodeConflictError reports a caller-named node whose id is already taken
// by a different definition.
type NodeConflictError struct {
	NodeID string
}

func (e *NodeConflictError) Error() string {
	return fmt.Sprintf("provenance node %q already exists with a different definition", e.NodeID)
}
