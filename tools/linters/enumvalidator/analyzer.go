// Package enumvalidator flags string literals assigned to struct
// fields whose type is a defined string type. Those fields are enums
// with declared constants; literal assignments bypass them and let
// typos through the compiler.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "enumvalidator",
	Doc:  "reports string literals assigned to enum-typed struct fields",
	Run:  run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			assign, ok := n.(*ast.AssignStmt)
			if !ok || assign.Tok != token.ASSIGN {
				return true
			}
			for i, lhs := range assign.Lhs {
				if i >= len(assign.Rhs) {
					break
				}
				sel, ok := lhs.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				lit, ok := assign.Rhs[i].(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING {
					continue
				}
				if isEnumType(pass.TypesInfo.TypeOf(sel)) {
					pass.Reportf(assign.Pos(), "enum field %s assigned string literal", sel.Sel.Name)
				}
			}
			return true
		})
	}
	return nil, nil
}

// isEnumType reports whether t is a defined type whose underlying type
// is string. Plain string fields are not enums and stay assignable.
func isEnumType(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	basic, ok := named.Underlying().(*types.Basic)
	return ok && basic.Kind() == types.String
}
