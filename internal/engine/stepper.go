package engine

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/yuin/gopher-lua/ast"

	"github.com/microdeck/host/internal/sandbox"
)

// Stepper notifies a host debugger of each source line the current cart
// executes. gopher-lua's VM exposes no line hook, so the interception is
// compiled in: when debug hooks are enabled the cart's own chunk (and only
// that chunk, so library code is never instrumented) has a call to the hook
// inserted ahead of every statement line by Instrument. The Go-side callback
// is gated by an atomic flag, so a disabled stepper costs one load per line.
type Stepper struct {
	enabled atomic.Bool

	mu     sync.Mutex
	onLine func(line int)
}

// NewStepper creates a disabled stepper with no callback.
func NewStepper() *Stepper {
	return &Stepper{}
}

// Enable turns line notifications on.
func (s *Stepper) Enable() {
	s.enabled.Store(true)
}

// Disable turns line notifications off. Must be called before the owning
// task is discarded so no hook outlives its unit.
func (s *Stepper) Disable() {
	s.enabled.Store(false)
}

// Enabled reports whether notifications are on.
func (s *Stepper) Enabled() bool {
	return s.enabled.Load()
}

// SetHookOnNewLine installs the callback invoked per executed line.
func (s *Stepper) SetHookOnNewLine(fn func(line int)) {
	s.mu.Lock()
	s.onLine = fn
	s.mu.Unlock()
}

// hit is the function instrumented chunks report into.
func (s *Stepper) hit(line int) {
	if !s.enabled.Load() {
		return
	}
	s.mu.Lock()
	fn := s.onLine
	s.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

// Instrument rewrites a parsed chunk so that every statement line is
// preceded by a call to the sandbox line hook. Nested blocks and function
// bodies are covered; the hook call keeps the statement's own line number
// so tracebacks stay accurate.
func Instrument(chunk []ast.Stmt) []ast.Stmt {
	return instrumentBlock(chunk)
}

func instrumentBlock(stmts []ast.Stmt) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(stmts)*2)
	lastLine := -1
	for _, stmt := range stmts {
		if line := stmt.Line(); line > 0 && line != lastLine {
			out = append(out, lineHookCall(line))
			lastLine = line
		}
		instrumentStmt(stmt)
		out = append(out, stmt)
	}
	return out
}

func instrumentStmt(stmt ast.Stmt) {
	switch st := stmt.(type) {
	case *ast.AssignStmt:
		instrumentExprs(st.Rhs)
	case *ast.LocalAssignStmt:
		instrumentExprs(st.Exprs)
	case *ast.FuncCallStmt:
		instrumentExpr(st.Expr)
	case *ast.DoBlockStmt:
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.WhileStmt:
		instrumentExpr(st.Condition)
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.RepeatStmt:
		instrumentExpr(st.Condition)
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.IfStmt:
		instrumentExpr(st.Condition)
		st.Then = instrumentBlock(st.Then)
		st.Else = instrumentBlock(st.Else)
	case *ast.NumberForStmt:
		instrumentExpr(st.Init)
		instrumentExpr(st.Limit)
		instrumentExpr(st.Step)
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.GenericForStmt:
		instrumentExprs(st.Exprs)
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.FuncDefStmt:
		if st.Func != nil {
			st.Func.Stmts = instrumentBlock(st.Func.Stmts)
		}
	case *ast.ReturnStmt:
		instrumentExprs(st.Exprs)
	}
}

func instrumentExprs(exprs []ast.Expr) {
	for _, e := range exprs {
		instrumentExpr(e)
	}
}

// instrumentExpr descends into expressions looking for function literals,
// whose bodies execute later and need their own line hooks.
func instrumentExpr(expr ast.Expr) {
	switch ex := expr.(type) {
	case nil:
	case *ast.FunctionExpr:
		ex.Stmts = instrumentBlock(ex.Stmts)
	case *ast.FuncCallExpr:
		instrumentExpr(ex.Func)
		instrumentExpr(ex.Receiver)
		instrumentExprs(ex.Args)
	case *ast.LogicalOpExpr:
		instrumentExpr(ex.Lhs)
		instrumentExpr(ex.Rhs)
	case *ast.RelationalOpExpr:
		instrumentExpr(ex.Lhs)
		instrumentExpr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		instrumentExpr(ex.Lhs)
		instrumentExpr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		instrumentExpr(ex.Lhs)
		instrumentExpr(ex.Rhs)
	case *ast.UnaryMinusOpExpr:
		instrumentExpr(ex.Expr)
	case *ast.UnaryNotOpExpr:
		instrumentExpr(ex.Expr)
	case *ast.UnaryLenOpExpr:
		instrumentExpr(ex.Expr)
	case *ast.AttrGetExpr:
		instrumentExpr(ex.Object)
		instrumentExpr(ex.Key)
	case *ast.TableExpr:
		for _, f := range ex.Fields {
			instrumentExpr(f.Key)
			instrumentExpr(f.Value)
		}
	}
}

// lineHookCall builds `__mdstep(line)` positioned at line.
func lineHookCall(line int) ast.Stmt {
	ident := &ast.IdentExpr{Value: sandbox.LineHookName}
	ident.SetLine(line)

	arg := &ast.NumberExpr{Value: strconv.Itoa(line)}
	arg.SetLine(line)

	call := &ast.FuncCallExpr{Func: ident, Args: []ast.Expr{arg}}
	call.SetLine(line)

	stmt := &ast.FuncCallStmt{Expr: call}
	stmt.SetLine(line)
	stmt.SetLastLine(line)
	return stmt
}
