package luahost

import (
	"strconv"

	"github.com/yuin/gopher-lua/ast"
)

// instrumentBlock rewrites a statement block so that a call to HookGlobal,
// carrying the statement's 1-based line, precedes every statement. Nested
// blocks and function literals are rewritten recursively. Only statements
// of the traced chunk are touched, so code from any other origin can never
// produce an event.
func instrumentBlock(stmts []ast.Stmt) []ast.Stmt {
	return instrument(stmts, false)
}

// instrumentFuncBody rewrites a function literal's body. The hook call
// before the body's first statement carries a frame-entry flag, so call
// entries are marked structurally: a depth delta cannot tell two sibling
// calls at the same depth apart.
func instrumentFuncBody(stmts []ast.Stmt) []ast.Stmt {
	return instrument(stmts, true)
}

func instrument(stmts []ast.Stmt, entry bool) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(stmts)*2)
	for i, st := range stmts {
		instrumentStmt(st)
		out = append(out, hookCallStmt(st.Line(), entry && i == 0), st)
	}
	return out
}

// instrumentStmt descends into a statement's nested blocks and expressions.
func instrumentStmt(st ast.Stmt) {
	switch s := st.(type) {
	case *ast.AssignStmt:
		instrumentExprs(s.Lhs)
		instrumentExprs(s.Rhs)
	case *ast.LocalAssignStmt:
		instrumentExprs(s.Exprs)
	case *ast.FuncCallStmt:
		instrumentExpr(s.Expr)
	case *ast.DoBlockStmt:
		s.Stmts = instrumentBlock(s.Stmts)
	case *ast.WhileStmt:
		instrumentExpr(s.Condition)
		s.Stmts = instrumentBlock(s.Stmts)
	case *ast.RepeatStmt:
		instrumentExpr(s.Condition)
		s.Stmts = instrumentBlock(s.Stmts)
	case *ast.IfStmt:
		instrumentExpr(s.Condition)
		s.Then = instrumentBlock(s.Then)
		s.Else = instrumentBlock(s.Else)
	case *ast.NumberForStmt:
		instrumentExpr(s.Init)
		instrumentExpr(s.Limit)
		instrumentExpr(s.Step)
		s.Stmts = instrumentBlock(s.Stmts)
	case *ast.GenericForStmt:
		instrumentExprs(s.Exprs)
		s.Stmts = instrumentBlock(s.Stmts)
	case *ast.FuncDefStmt:
		instrumentExpr(s.Func)
	case *ast.ReturnStmt:
		instrumentExprs(s.Exprs)
	}
}

func instrumentExprs(exprs []ast.Expr) {
	for _, e := range exprs {
		instrumentExpr(e)
	}
}

// instrumentExpr walks an expression tree looking for function literals,
// whose bodies are blocks of their own.
func instrumentExpr(expr ast.Expr) {
	switch e := expr.(type) {
	case nil:
	case *ast.FunctionExpr:
		e.Stmts = instrumentFuncBody(e.Stmts)
	case *ast.AttrGetExpr:
		instrumentExpr(e.Object)
		instrumentExpr(e.Key)
	case *ast.TableExpr:
		for _, field := range e.Fields {
			instrumentExpr(field.Key)
			instrumentExpr(field.Value)
		}
	case *ast.FuncCallExpr:
		instrumentExpr(e.Func)
		instrumentExpr(e.Receiver)
		instrumentExprs(e.Args)
	case *ast.LogicalOpExpr:
		instrumentExpr(e.Lhs)
		instrumentExpr(e.Rhs)
	case *ast.RelationalOpExpr:
		instrumentExpr(e.Lhs)
		instrumentExpr(e.Rhs)
	case *ast.StringConcatOpExpr:
		instrumentExpr(e.Lhs)
		instrumentExpr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		instrumentExpr(e.Lhs)
		instrumentExpr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		instrumentExpr(e.Expr)
	case *ast.UnaryNotOpExpr:
		instrumentExpr(e.Expr)
	case *ast.UnaryLenOpExpr:
		instrumentExpr(e.Expr)
	}
}

// hookCallStmt builds the synthetic `HookGlobal(line)` statement injected
// before each original statement; entry adds a `true` second argument at a
// function body's first statement. All positions are pinned to the original
// statement's line so VM-reported locations stay truthful.
func hookCallStmt(line int, entry bool) ast.Stmt {
	ident := &ast.IdentExpr{Value: HookGlobal}
	ident.SetLine(line)
	ident.SetLastLine(line)

	arg := &ast.NumberExpr{Value: strconv.Itoa(line)}
	arg.SetLine(line)
	arg.SetLastLine(line)

	args := []ast.Expr{arg}
	if entry {
		flag := &ast.TrueExpr{}
		flag.SetLine(line)
		flag.SetLastLine(line)
		args = append(args, flag)
	}

	call := &ast.FuncCallExpr{Func: ident, Args: args}
	call.SetLine(line)
	call.SetLastLine(line)

	st := &ast.FuncCallStmt{Expr: call}
	st.SetLine(line)
	st.SetLastLine(line)
	return st
}
