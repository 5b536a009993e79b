package script

import (
	"context"
	"fmt"
)

// returnSignal carries a function's return value up through exec via
// Go's error-propagation plumbing; it is never shown to script code.
type returnSignal struct{ value Value }

func (returnSignal) Error() string { return "return" }

// Interp evaluates a parsed program against a root scope (typically
// pre-populated with the sandbox's globals).
type Interp struct {
	ctx context.Context
}

func NewInterp(ctx context.Context) *Interp {
	return &Interp{ctx: ctx}
}

// Run evaluates expr (expected to be callable) and invokes it with no
// arguments, per spec.md §4.5's "typical shape: an async arrow () => …".
func (it *Interp) Run(expr Expr, root *Scope) (Value, error) {
	callee, err := it.eval(expr, root)
	if err != nil {
		return nil, err
	}
	fn, ok := callee.(*Function)
	if !ok {
		return nil, fmt.Errorf("sandboxed code did not evaluate to a callable value")
	}
	return it.call(fn, nil)
}

func (it *Interp) call(fn *Function, args []Value) (Value, error) {
	if it.ctx.Err() != nil {
		return nil, it.ctx.Err()
	}
	if fn.Host != nil {
		return fn.Host(args)
	}

	scope := NewScope(fn.Scope)
	for i, name := range fn.Closure.Params {
		if i < len(args) {
			scope.Declare(name, args[i])
		} else {
			scope.Declare(name, Undefined)
		}
	}

	result, err := it.execBlock(fn.Closure.Body, scope)
	if err != nil {
		if ret, ok := err.(returnSignal); ok {
			return ret.value, nil
		}
		return nil, err
	}
	return result, nil
}

// execBlock runs stmts in the given scope (callers create any child
// scope), returning (value, nil) only if
// no return statement fired; a return propagates as a returnSignal error.
func (it *Interp) execBlock(stmts []Stmt, scope *Scope) (Value, error) {
	var last Value = Undefined
	for _, s := range stmts {
		v, err := it.exec(s, scope)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

func (it *Interp) exec(stmt Stmt, scope *Scope) (Value, error) {
	switch s := stmt.(type) {
	case VarDecl:
		for i, name := range s.Names {
			v, err := it.eval(s.Inits[i], scope)
			if err != nil {
				return nil, err
			}
			scope.Declare(name, v)
		}
		return Undefined, nil
	case ReturnStmt:
		if s.Arg == nil {
			return nil, returnSignal{value: Undefined}
		}
		v, err := it.eval(s.Arg, scope)
		if err != nil {
			return nil, err
		}
		return nil, returnSignal{value: v}
	case ExprStmt:
		return it.eval(s.Arg, scope)
	case BlockStmt:
		return it.execBlock(s.Body, NewScope(scope))
	case IfStmt:
		test, err := it.eval(s.Test, scope)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return it.exec(s.Cons, NewScope(scope))
		}
		if s.Alt != nil {
			return it.exec(s.Alt, NewScope(scope))
		}
		return Undefined, nil
	case ForOfStmt:
		iter, err := it.eval(s.Iter, scope)
		if err != nil {
			return nil, err
		}
		items, err := asIterable(iter)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if it.ctx.Err() != nil {
				return nil, it.ctx.Err()
			}
			loopScope := NewScope(scope)
			loopScope.Declare(s.VarName, item)
			if _, err := it.exec(s.Body, loopScope); err != nil {
				return nil, err
			}
		}
		return Undefined, nil
	default:
		return nil, fmt.Errorf("unsupported statement %T", stmt)
	}
}

func (it *Interp) eval(expr Expr, scope *Scope) (Value, error) {
	switch e := expr.(type) {
	case NumberLit:
		return e.Value, nil
	case StringLit:
		return e.Value, nil
	case BoolLit:
		return e.Value, nil
	case NullLit:
		return nil, nil
	case UndefinedLit:
		return Undefined, nil
	case Ident:
		v, ok := scope.Get(e.Name)
		if !ok {
			return nil, fmt.Errorf("%s is not defined", e.Name)
		}
		return v, nil
	case ArrayLit:
		out := make([]Value, 0, len(e.Elements))
		for _, el := range e.Elements {
			v, err := it.eval(el, scope)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case ObjectLit:
		out := make(map[string]Value, len(e.Props))
		for _, prop := range e.Props {
			v, err := it.eval(prop.Value, scope)
			if err != nil {
				return nil, err
			}
			out[prop.Key] = v
		}
		return out, nil
	case ArrowFunc:
		closure := e
		return &Function{Closure: &closure, Scope: scope}, nil
	case MemberExpr:
		obj, err := it.eval(e.Object, scope)
		if err != nil {
			return nil, err
		}
		return getMember(obj, e.Property)
	case IndexExpr:
		obj, err := it.eval(e.Object, scope)
		if err != nil {
			return nil, err
		}
		idx, err := it.eval(e.Index, scope)
		if err != nil {
			return nil, err
		}
		if s, ok := idx.(string); ok {
			return getMember(obj, s)
		}
		return getIndex(obj, idx)
	case CallExpr:
		return it.evalCall(e, scope)
	case NewExpr:
		return it.evalNew(e, scope)
	case AwaitExpr:
		v, err := it.eval(e.Arg, scope)
		if err != nil {
			return nil, err
		}
		return it.await(v)
	case UnaryExpr:
		v, err := it.eval(e.Arg, scope)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "!":
			return !truthy(v), nil
		case "-":
			n, err := asNumber(v)
			if err != nil {
				return nil, err
			}
			return -n, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %q", e.Op)
	case BinaryExpr:
		return it.evalBinary(e, scope)
	case LogicalExpr:
		left, err := it.eval(e.Left, scope)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "&&":
			if !truthy(left) {
				return left, nil
			}
			return it.eval(e.Right, scope)
		case "||":
			if truthy(left) {
				return left, nil
			}
			return it.eval(e.Right, scope)
		case "??":
			if left != nil && left != Undefined {
				return left, nil
			}
			return it.eval(e.Right, scope)
		}
		return nil, fmt.Errorf("unsupported logical operator %q", e.Op)
	case ConditionalExpr:
		test, err := it.eval(e.Test, scope)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return it.eval(e.Cons, scope)
		}
		return it.eval(e.Alt, scope)
	default:
		return nil, fmt.Errorf("unsupported expression %T", expr)
	}
}

func (it *Interp) evalCall(e CallExpr, scope *Scope) (Value, error) {
	// Built-in array methods (obj.method(args)) are resolved
	// before falling back to a user/host function value.
	if member, ok := e.Callee.(MemberExpr); ok {
		obj, err := it.eval(member.Object, scope)
		if err != nil {
			return nil, err
		}
		if fn, handled, err := it.builtinMethod(obj, member.Property, e.Args, scope); handled {
			return fn, err
		}
		callee, err := getMember(obj, member.Property)
		if err != nil {
			return nil, err
		}
		return it.invoke(callee, e.Args, scope)
	}
	callee, err := it.eval(e.Callee, scope)
	if err != nil {
		return nil, err
	}
	return it.invoke(callee, e.Args, scope)
}

func (it *Interp) invoke(callee Value, argExprs []Expr, scope *Scope) (Value, error) {
	fn, ok := callee.(*Function)
	if !ok {
		return nil, fmt.Errorf("value is not callable")
	}
	args := make([]Value, 0, len(argExprs))
	for _, a := range argExprs {
		v, err := it.eval(a, scope)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return it.call(fn, args)
}

func (it *Interp) evalNew(e NewExpr, scope *Scope) (Value, error) {
	name, ok := identName(e.Callee)
	if !ok || name != "Promise" {
		return nil, fmt.Errorf("unsupported constructor")
	}
	if len(e.Args) != 1 {
		return nil, fmt.Errorf("Promise constructor takes exactly one executor argument")
	}
	executor, err := it.eval(e.Args[0], scope)
	if err != nil {
		return nil, err
	}
	fn, ok := executor.(*Function)
	if !ok {
		return nil, fmt.Errorf("Promise executor must be a function")
	}

	p := NewPromise()
	resolve := &Function{Host: func(args []Value) (Value, error) {
		var v Value = Undefined
		if len(args) > 0 {
			v = args[0]
		}
		p.Resolve(v)
		return Undefined, nil
	}}
	reject := &Function{Host: func(args []Value) (Value, error) {
		msg := "rejected"
		if len(args) > 0 {
			msg = fmt.Sprintf("%v", args[0])
		}
		p.Reject(fmt.Errorf("%s", msg))
		return Undefined, nil
	}}
	if _, err := it.call(fn, []Value{resolve, reject}); err != nil {
		return nil, err
	}
	return p, nil
}

func (it *Interp) await(v Value) (Value, error) {
	p, ok := v.(*Promise)
	if !ok {
		return v, nil
	}
	select {
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		return p.value, nil
	case <-it.ctx.Done():
		return nil, it.ctx.Err()
	}
}

func identName(e Expr) (string, bool) {
	id, ok := e.(Ident)
	if !ok {
		return "", false
	}
	return id.Name, true
}

func (it *Interp) evalBinary(e BinaryExpr, scope *Scope) (Value, error) {
	left, err := it.eval(e.Left, scope)
	if err != nil {
		return nil, err
	}
	right, err := it.eval(e.Right, scope)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "===", "==":
		return looseEquals(left, right), nil
	case "!==", "!=":
		return !looseEquals(left, right), nil
	case "+":
		if ls, ok := left.(string); ok {
			return ls + toDisplayString(right), nil
		}
		if rs, ok := right.(string); ok {
			return toDisplayString(left) + rs, nil
		}
		ln, err := asNumber(left)
		if err != nil {
			return nil, err
		}
		rn, err := asNumber(right)
		if err != nil {
			return nil, err
		}
		return ln + rn, nil
	case "-", "*", "/", "%":
		ln, err := asNumber(left)
		if err != nil {
			return nil, err
		}
		rn, err := asNumber(right)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "-":
			return ln - rn, nil
		case "*":
			return ln * rn, nil
		case "/":
			return ln / rn, nil
		case "%":
			return float64(int64(ln) % int64(rn)), nil
		}
	case "<", ">", "<=", ">=":
		ln, err := asNumber(left)
		if err != nil {
			return nil, err
		}
		rn, err := asNumber(right)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "<":
			return ln < rn, nil
		case ">":
			return ln > rn, nil
		case "<=":
			return ln <= rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}
	return nil, fmt.Errorf("unsupported binary operator %q", e.Op)
}
