package cache

import (
	"fmt"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// Cached decompile results round-trip through CBOR (SPEC_FULL.md §4.4), but
// astir.Stmt/astir.Expr are interfaces and fxamacker/cbor, like
// encoding/json, cannot decode into an interface-typed field without being
// told the concrete type to allocate. Rather than registering a CBOR tag
// per variant, toWire/fromWire convert the AST to and from a plain tree of
// maps/slices/scalars keyed by each node's Kind() string first — the same
// "envelope" trick encoding/json users reach for when marshaling a
// polymorphic tree, just performed by hand here since the AST's tag set is
// closed and small.

func toWireBlock(b *astir.Block) map[string]interface{} {
	stmts := make([]interface{}, len(b.Stmts))
	for i, s := range b.Stmts {
		stmts[i] = toWireStmt(s)
	}
	return map[string]interface{}{"k": "block", "stmts": stmts}
}

func toWireStmt(stmt astir.Stmt) map[string]interface{} {
	switch s := stmt.(type) {
	case *astir.Assign:
		return map[string]interface{}{"k": s.Kind(), "target": toWireExpr(s.Target), "value": toWireExpr(s.Value)}
	case *astir.Return:
		return map[string]interface{}{"k": s.Kind(), "value": toWireExpr(s.Value)}
	case *astir.Exit:
		return map[string]interface{}{"k": s.Kind()}
	case *astir.Break:
		return map[string]interface{}{"k": s.Kind()}
	case *astir.Continue:
		return map[string]interface{}{"k": s.Kind()}
	case *astir.ExprStmt:
		return map[string]interface{}{"k": s.Kind(), "expr": toWireExpr(s.Expr)}
	case *astir.If:
		w := map[string]interface{}{"k": s.Kind(), "cond": toWireExpr(s.Cond), "then": toWireBlock(s.Then)}
		if s.Else != nil {
			w["else"] = toWireBlock(s.Else)
		}
		return w
	case *astir.While:
		return map[string]interface{}{"k": s.Kind(), "cond": toWireExpr(s.Cond), "body": toWireBlock(s.Body)}
	case *astir.DoUntil:
		return map[string]interface{}{"k": s.Kind(), "body": toWireBlock(s.Body), "cond": toWireExpr(s.Cond)}
	case *astir.Repeat:
		return map[string]interface{}{"k": s.Kind(), "count": toWireExpr(s.Count), "body": toWireBlock(s.Body)}
	case *astir.With:
		return map[string]interface{}{"k": s.Kind(), "target": toWireExpr(s.Target), "body": toWireBlock(s.Body)}
	case *astir.Switch:
		cases := make([]interface{}, len(s.Cases))
		for i, c := range s.Cases {
			w := map[string]interface{}{"body": toWireBlock(c.Body)}
			if c.Value != nil {
				w["value"] = int64(*c.Value)
			}
			cases[i] = w
		}
		return map[string]interface{}{"k": s.Kind(), "subject": toWireExpr(s.Subject), "cases": cases}
	case *astir.Try:
		w := map[string]interface{}{"k": s.Kind(), "try": toWireBlock(s.TryBody)}
		if s.Catch != nil {
			w["catch"] = toWireBlock(s.Catch)
		}
		if s.FinallyBody != nil {
			w["finally"] = toWireBlock(s.FinallyBody)
		}
		return w
	default:
		panic(fmt.Sprintf("cache: unencodable statement kind %q", stmt.Kind()))
	}
}

func toWireExpr(expr astir.Expr) map[string]interface{} {
	switch e := expr.(type) {
	case *astir.IntConst:
		return map[string]interface{}{"k": e.Kind(), "width": int64(e.Width), "value": e.Value}
	case *astir.DoubleConst:
		return map[string]interface{}{"k": e.Kind(), "value": e.Value}
	case *astir.StringConst:
		return map[string]interface{}{"k": e.Kind(), "value": e.Value}
	case *astir.BoolConst:
		return map[string]interface{}{"k": e.Kind(), "value": e.Value}
	case *astir.InstanceConst:
		return map[string]interface{}{"k": e.Kind(), "instance": int64(e.Instance)}
	case *astir.Variable:
		w := map[string]interface{}{
			"k":        e.Kind(),
			"name":     e.Name,
			"instance": int64(e.Instance),
			"refType":  int64(e.RefVarType),
		}
		if e.Left != nil {
			w["left"] = toWireExpr(e.Left)
		}
		if len(e.Indices) > 0 {
			idx := make([]interface{}, len(e.Indices))
			for i, ix := range e.Indices {
				idx[i] = toWireExpr(ix)
			}
			w["indices"] = idx
		}
		return w
	case *astir.Binary:
		return map[string]interface{}{
			"k": e.Kind(), "left": toWireExpr(e.Left), "right": toWireExpr(e.Right),
			"opcode": int64(e.Inst.Opcode), "compare": int64(e.Inst.Compare),
		}
	case *astir.Unary:
		return map[string]interface{}{"k": e.Kind(), "operand": toWireExpr(e.Operand), "opcode": int64(e.Inst.Opcode)}
	case *astir.Call:
		return map[string]interface{}{"k": e.Kind(), "function": e.Function.Name, "args": toWireExprSlice(e.Args)}
	case *astir.FuncRef:
		return map[string]interface{}{"k": e.Kind(), "function": e.Function.Name}
	case *astir.NewObject:
		return map[string]interface{}{"k": e.Kind(), "class": e.Class.Name, "args": toWireExprSlice(e.Args)}
	case *astir.ShortCircuit:
		return map[string]interface{}{"k": e.Kind(), "logic": int64(e.Logic), "conditions": toWireExprSlice(e.Conditions)}
	default:
		panic(fmt.Sprintf("cache: unencodable expression kind %q", expr.Kind()))
	}
}

func toWireExprSlice(exprs []astir.Expr) []interface{} {
	out := make([]interface{}, len(exprs))
	for i, e := range exprs {
		out[i] = toWireExpr(e)
	}
	return out
}

// fromWireBlock rebuilds an astir.Block from the generic map/slice/scalar
// tree cbor.Unmarshal produced by decoding into an interface{}.
func fromWireBlock(v interface{}) (*astir.Block, error) {
	m, err := asMap(v)
	if err != nil {
		return nil, err
	}
	rawStmts, err := asSlice(m["stmts"])
	if err != nil {
		return nil, err
	}
	stmts := make([]astir.Stmt, len(rawStmts))
	for i, rs := range rawStmts {
		s, err := fromWireStmt(rs)
		if err != nil {
			return nil, err
		}
		stmts[i] = s
	}
	return &astir.Block{Stmts: stmts}, nil
}

func fromWireStmt(v interface{}) (astir.Stmt, error) {
	m, err := asMap(v)
	if err != nil {
		return nil, err
	}
	kind, _ := m["k"].(string)

	switch kind {
	case "assign":
		target, err := fromWireExpr(m["target"])
		if err != nil {
			return nil, err
		}
		variable, ok := target.(*astir.Variable)
		if !ok {
			return nil, fmt.Errorf("cache: assign target decoded as %T, want *astir.Variable", target)
		}
		value, err := fromWireExpr(m["value"])
		if err != nil {
			return nil, err
		}
		return &astir.Assign{Target: variable, Value: value}, nil

	case "return":
		value, err := fromWireExpr(m["value"])
		if err != nil {
			return nil, err
		}
		return &astir.Return{Value: value}, nil

	case "exit":
		return &astir.Exit{}, nil

	case "break":
		return &astir.Break{}, nil

	case "continue":
		return &astir.Continue{}, nil

	case "expr_stmt":
		e, err := fromWireExpr(m["expr"])
		if err != nil {
			return nil, err
		}
		return &astir.ExprStmt{Expr: e}, nil

	case "if":
		cond, err := fromWireExpr(m["cond"])
		if err != nil {
			return nil, err
		}
		then, err := fromWireBlock(m["then"])
		if err != nil {
			return nil, err
		}
		ifStmt := &astir.If{Cond: cond, Then: then}
		if elseRaw, ok := m["else"]; ok {
			els, err := fromWireBlock(elseRaw)
			if err != nil {
				return nil, err
			}
			ifStmt.Else = els
		}
		return ifStmt, nil

	case "while":
		cond, err := fromWireExpr(m["cond"])
		if err != nil {
			return nil, err
		}
		body, err := fromWireBlock(m["body"])
		if err != nil {
			return nil, err
		}
		return &astir.While{Cond: cond, Body: body}, nil

	case "do_until":
		body, err := fromWireBlock(m["body"])
		if err != nil {
			return nil, err
		}
		cond, err := fromWireExpr(m["cond"])
		if err != nil {
			return nil, err
		}
		return &astir.DoUntil{Body: body, Cond: cond}, nil

	case "repeat":
		count, err := fromWireExpr(m["count"])
		if err != nil {
			return nil, err
		}
		body, err := fromWireBlock(m["body"])
		if err != nil {
			return nil, err
		}
		return &astir.Repeat{Count: count, Body: body}, nil

	case "with":
		target, err := fromWireExpr(m["target"])
		if err != nil {
			return nil, err
		}
		body, err := fromWireBlock(m["body"])
		if err != nil {
			return nil, err
		}
		return &astir.With{Target: target, Body: body}, nil

	case "switch":
		subject, err := fromWireExpr(m["subject"])
		if err != nil {
			return nil, err
		}
		rawCases, err := asSlice(m["cases"])
		if err != nil {
			return nil, err
		}
		cases := make([]astir.SwitchCase, len(rawCases))
		for i, rc := range rawCases {
			cm, err := asMap(rc)
			if err != nil {
				return nil, err
			}
			body, err := fromWireBlock(cm["body"])
			if err != nil {
				return nil, err
			}
			c := astir.SwitchCase{Body: body}
			if rawVal, ok := cm["value"]; ok {
				n, err := asInt64(rawVal)
				if err != nil {
					return nil, err
				}
				val := int32(n)
				c.Value = &val
			}
			cases[i] = c
		}
		return &astir.Switch{Subject: subject, Cases: cases}, nil

	case "try":
		tryBody, err := fromWireBlock(m["try"])
		if err != nil {
			return nil, err
		}
		t := &astir.Try{TryBody: tryBody}
		if catchRaw, ok := m["catch"]; ok {
			catch, err := fromWireBlock(catchRaw)
			if err != nil {
				return nil, err
			}
			t.Catch = catch
		}
		if finallyRaw, ok := m["finally"]; ok {
			finallyBody, err := fromWireBlock(finallyRaw)
			if err != nil {
				return nil, err
			}
			t.FinallyBody = finallyBody
		}
		return t, nil

	default:
		return nil, fmt.Errorf("cache: unrecognized cached statement kind %q", kind)
	}
}

func fromWireExpr(v interface{}) (astir.Expr, error) {
	m, err := asMap(v)
	if err != nil {
		return nil, err
	}
	kind, _ := m["k"].(string)

	switch kind {
	case "int_const":
		width, err := asInt64(m["width"])
		if err != nil {
			return nil, err
		}
		value, err := asInt64(m["value"])
		if err != nil {
			return nil, err
		}
		return &astir.IntConst{Width: ir.DataType(width), Value: value}, nil

	case "double_const":
		value, err := asFloat64(m["value"])
		if err != nil {
			return nil, err
		}
		return &astir.DoubleConst{Value: value}, nil

	case "string_const":
		s, _ := m["value"].(string)
		return &astir.StringConst{Value: s}, nil

	case "bool_const":
		b, _ := m["value"].(bool)
		return &astir.BoolConst{Value: b}, nil

	case "instance_const":
		n, err := asInt64(m["instance"])
		if err != nil {
			return nil, err
		}
		return &astir.InstanceConst{Instance: ir.InstanceType(n)}, nil

	case "variable":
		name, _ := m["name"].(string)
		instance, err := asInt64(m["instance"])
		if err != nil {
			return nil, err
		}
		refType, err := asInt64(m["refType"])
		if err != nil {
			return nil, err
		}
		variable := &astir.Variable{Name: name, Instance: ir.InstanceType(instance), RefVarType: ir.ReferenceVarType(refType)}
		if leftRaw, ok := m["left"]; ok {
			left, err := fromWireExpr(leftRaw)
			if err != nil {
				return nil, err
			}
			variable.Left = left
		}
		if idxRaw, ok := m["indices"]; ok {
			rawIdx, err := asSlice(idxRaw)
			if err != nil {
				return nil, err
			}
			indices := make([]astir.Expr, len(rawIdx))
			for i, ri := range rawIdx {
				idx, err := fromWireExpr(ri)
				if err != nil {
					return nil, err
				}
				indices[i] = idx
			}
			variable.Indices = indices
		}
		return variable, nil

	case "binary":
		left, err := fromWireExpr(m["left"])
		if err != nil {
			return nil, err
		}
		right, err := fromWireExpr(m["right"])
		if err != nil {
			return nil, err
		}
		opcode, err := asInt64(m["opcode"])
		if err != nil {
			return nil, err
		}
		compare, err := asInt64(m["compare"])
		if err != nil {
			return nil, err
		}
		return &astir.Binary{Left: left, Right: right, Inst: &ir.Instruction{Opcode: ir.Opcode(opcode), Compare: ir.ComparisonKind(compare)}}, nil

	case "unary":
		operand, err := fromWireExpr(m["operand"])
		if err != nil {
			return nil, err
		}
		opcode, err := asInt64(m["opcode"])
		if err != nil {
			return nil, err
		}
		return &astir.Unary{Operand: operand, Inst: &ir.Instruction{Opcode: ir.Opcode(opcode)}}, nil

	case "call":
		name, _ := m["function"].(string)
		args, err := fromWireExprList(m["args"])
		if err != nil {
			return nil, err
		}
		return &astir.Call{Function: &ir.Function{Name: name}, Args: args}, nil

	case "func_ref":
		name, _ := m["function"].(string)
		return &astir.FuncRef{Function: &ir.Function{Name: name}}, nil

	case "new_object":
		name, _ := m["class"].(string)
		args, err := fromWireExprList(m["args"])
		if err != nil {
			return nil, err
		}
		return &astir.NewObject{Class: &ir.Function{Name: name}, Args: args}, nil

	case "short_circuit":
		logic, err := asInt64(m["logic"])
		if err != nil {
			return nil, err
		}
		conditions, err := fromWireExprList(m["conditions"])
		if err != nil {
			return nil, err
		}
		return &astir.ShortCircuit{Logic: cfgnode.LogicKind(logic), Conditions: conditions}, nil

	default:
		return nil, fmt.Errorf("cache: unrecognized cached expression kind %q", kind)
	}
}

func fromWireExprList(v interface{}) ([]astir.Expr, error) {
	raw, err := asSlice(v)
	if err != nil {
		return nil, err
	}
	out := make([]astir.Expr, len(raw))
	for i, r := range raw {
		e, err := fromWireExpr(r)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func asMap(v interface{}) (map[string]interface{}, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("cache: expected string keys in cached AST map, got %T", k)
			}
			out[key] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("cache: expected a map in cached AST, got %T", v)
}

func asSlice(v interface{}) ([]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("cache: expected a list in cached AST, got %T", v)
	}
	return s, nil
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("cache: expected an integer in cached AST, got %T", v)
	}
}

func asFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("cache: expected a float in cached AST, got %T", v)
	}
}
