package simulate

import (
	"fmt"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/ir"
)

// isTerminator reports whether op is a control-flow instruction whose
// structural meaning was already captured by CFG recovery: it carries no
// per-opcode rule of its own in the exhaustive list (spec.md §4.3) and is
// skipped wherever it appears, leaving whatever value it would have
// branched on sitting on top of the stack for the owning composite to pop.
// OpBranch is handled separately (simulateOne) since a bare unconditional
// branch surviving to simulate time is always a break or continue, not
// inert scaffolding.
func isTerminator(op ir.Opcode) bool {
	switch op {
	case ir.OpBranchTrue, ir.OpBranchFalse, ir.OpPushWithContext, ir.OpPopWithContext:
		return true
	default:
		return false
	}
}

// simulateInstructions runs insts against s's running stack in order,
// returning the statements they emit (spec.md §4.3, per-opcode rules).
// Terminator opcodes are no-ops here; Return/Exit stop a block early (the
// block builder guarantees they only ever occur last).
func simulateInstructions(s *simulator, insts []*ir.Instruction) []astir.Stmt {
	var stmts []astir.Stmt
	for _, inst := range insts {
		if isTerminator(inst.Opcode) {
			continue
		}
		if stmt := simulateOne(s, inst); stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// simulateOne applies inst's per-opcode rule, mutating s's stack and
// returning the statement it emits, if any.
func simulateOne(s *simulator, inst *ir.Instruction) astir.Stmt {
	if inst.Opcode == ir.OpBranch {
		return simulateBranch(s, inst)
	}

	switch {
	case inst.Opcode.IsBinaryArithmetic():
		right := s.popExpr()
		left := s.popExpr()
		s.push(&astir.Binary{Left: left, Right: right, Inst: inst})
		return nil

	case inst.Opcode.IsUnary():
		operand := s.popExpr()
		s.push(&astir.Unary{Operand: operand, Inst: inst})
		return nil
	}

	switch inst.Opcode {
	case ir.OpConvert:
		return simulateConvert(s, inst)

	case ir.OpReturn:
		return &astir.Return{Value: s.popExpr()}

	case ir.OpExit:
		return &astir.Exit{}

	case ir.OpPopDelete:
		return simulatePopDelete(s)

	case ir.OpCall:
		simulateCall(s, inst)
		return nil

	case ir.OpPush:
		simulatePush(s, inst)
		return nil

	case ir.OpPushImmediate:
		s.push(&astir.IntConst{Width: ir.TypeInt16, Value: int64(inst.Value.Short)})
		return nil

	case ir.OpPushLocal, ir.OpPushGlobal, ir.OpPushBuiltin:
		s.push(simulateVariableRead(s, inst))
		return nil

	case ir.OpPop:
		return simulatePop(s, inst)

	case ir.OpDuplicate:
		top := s.pop()
		s.pushSlot(top)
		s.pushSlot(slot{expr: top.expr, duplicated: true})
		return nil

	case ir.OpExtended:
		return simulateExtended(s, inst)

	default:
		s.warn(Warning{Kind: UnknownOpcodeWarning, Opcode: inst.Opcode.String(), Address: inst.Address})
		return &astir.ExprStmt{Expr: &astir.StringConst{Value: fmt.Sprintf("<unsupported opcode %s>", inst.Opcode)}}
	}
}

// simulateBranch classifies a bare unconditional branch still present at
// simulate time as break or continue against the innermost enclosing
// loop's targets, per loopCtx's invariant. A target matching neither is a
// structural anomaly (e.g. a malformed or partially-recovered graph); it
// surfaces as a warning rather than fatally aborting the entry.
func simulateBranch(s *simulator, inst *ir.Instruction) astir.Stmt {
	loop, ok := s.currentLoop()
	if !ok {
		s.warn(Warning{Kind: UnknownOpcodeWarning, Opcode: "b (outside any loop)", Address: inst.Address})
		return nil
	}
	target := inst.Target()
	switch target {
	case loop.breakAddr:
		return &astir.Break{}
	case loop.continueAddr:
		return &astir.Continue{}
	default:
		s.warn(Warning{Kind: UnknownOpcodeWarning, Opcode: "b (unresolved target)", Address: inst.Address})
		return nil
	}
}

// simulateConvert applies Convert's Int16-0/1-to-bool coercion (spec.md
// §4.3, "Convert" via the Pop rule's step 6 reused for bare conversions);
// any other conversion is a type relabeling with no expression-level
// effect of its own, so the value passes through unchanged.
func simulateConvert(s *simulator, inst *ir.Instruction) astir.Stmt {
	top := s.pop()
	if inst.Type2 == ir.TypeBoolean {
		if ic, ok := top.expr.(*astir.IntConst); ok && ic.Width == ir.TypeInt16 && (ic.Value == 0 || ic.Value == 1) {
			s.push(&astir.BoolConst{Value: ic.Value == 1})
			return nil
		}
	}
	s.pushSlot(top)
	return nil
}

// simulatePopDelete implements spec.md §4.3's "PopDelete" rule.
func simulatePopDelete(s *simulator) astir.Stmt {
	if s.depth() == 0 {
		return nil
	}
	top := s.pop()
	if top.duplicated {
		return nil
	}
	if _, isVar := top.expr.(*astir.Variable); isVar {
		return nil
	}
	return &astir.ExprStmt{Expr: top.expr}
}

// simulateCall implements spec.md §4.3's "Call" rule: new-object intrinsic
// detection by configured callee name, else a plain function-call node.
func simulateCall(s *simulator, inst *ir.Instruction) {
	argCount := inst.ArgumentCount()
	if inst.Function != nil && inst.Function.Name == s.cfg.Constants.NewObjectFunction {
		args := s.popN(argCount - 1)
		class := s.popExpr()
		funcRef, _ := class.(*astir.FuncRef)
		var classFn *ir.Function
		if funcRef != nil {
			classFn = funcRef.Function
		}
		s.push(&astir.NewObject{Class: classFn, Args: args})
		return
	}
	args := s.popN(argCount)
	s.push(&astir.Call{Function: inst.Function, Args: args})
}

// simulatePush implements spec.md §4.3's "Push (typed)" rule, dispatching
// on Type1.
func simulatePush(s *simulator, inst *ir.Instruction) {
	switch inst.Type1 {
	case ir.TypeInt32:
		if inst.Function != nil {
			s.push(&astir.FuncRef{Function: inst.Function})
			return
		}
		s.push(&astir.IntConst{Width: ir.TypeInt32, Value: int64(inst.Value.Int)})

	case ir.TypeInt64:
		s.push(&astir.IntConst{Width: ir.TypeInt64, Value: inst.Value.Long})

	case ir.TypeInt16:
		s.push(&astir.IntConst{Width: ir.TypeInt16, Value: int64(inst.Value.Short)})

	case ir.TypeDouble:
		s.push(&astir.DoubleConst{Value: inst.Value.Double})

	case ir.TypeString:
		s.push(&astir.StringConst{Value: inst.Value.String})

	case ir.TypeVariable:
		s.push(simulateVariableRead(s, inst))

	default:
		s.push(&astir.InstanceConst{Instance: inst.Instance})
	}
}

// simulateVariableRead builds the variable-read expression a Push
// (Type1 == Variable), PushLocal, PushGlobal, or PushBuiltin instruction
// produces. Left-operand resolution mirrors simulatePop's (spec.md §4.3,
// "Push ... left-side handling mirrors Pop").
func simulateVariableRead(s *simulator, inst *ir.Instruction) astir.Expr {
	v := &astir.Variable{RefVarType: inst.RefVarType, Instance: inst.Instance}
	if inst.Variable != nil {
		v.Name = inst.Variable.Name
	}

	switch inst.RefVarType {
	case ir.RefStackTop:
		v.Left = s.popExpr()
	case ir.RefArray:
		v.Indices = simulateArrayIndices(s)
		v.Left = s.popExpr()
	default:
		if inst.Instance == ir.InstanceStackTop {
			v.Left = s.popExpr()
		}
	}
	return v
}

// simulateArrayIndices implements spec.md §4.3's "Array indexing" rule.
func simulateArrayIndices(s *simulator) []astir.Expr {
	index := s.popExpr()
	return decomposeArrayIndex(s, index)
}

func decomposeArrayIndex(s *simulator, index astir.Expr) []astir.Expr {
	if s.cfg.Policy.ModernArrays {
		return []astir.Expr{index}
	}

	bin, ok := index.(*astir.Binary)
	if !ok || bin.Inst == nil || bin.Inst.Opcode != ir.OpAdd {
		return []astir.Expr{index}
	}
	mul, ok := bin.Left.(*astir.Binary)
	if !ok || mul.Inst == nil || mul.Inst.Opcode != ir.OpMul {
		return []astir.Expr{index}
	}
	limit, ok := mul.Right.(*astir.IntConst)
	if !ok || int32(limit.Value) != s.cfg.Constants.OldArrayLimit {
		return []astir.Expr{index}
	}
	return []astir.Expr{mul.Left, bin.Right}
}

// simulatePop implements spec.md §4.3's "Pop" rule: pop-swap when the
// instruction carries no variable reference, otherwise the seven-step
// assignment resolution.
func simulatePop(s *simulator, inst *ir.Instruction) astir.Stmt {
	if inst.Variable == nil {
		simulatePopSwap(s, inst)
		return nil
	}

	v := &astir.Variable{Name: inst.Variable.Name, RefVarType: inst.RefVarType, Instance: inst.Instance}

	if inst.Instance == ir.InstanceLocal && s.fragment != nil {
		s.fragment.registerLocal(inst.Variable.Name)
	}

	var value astir.Expr
	valuePoppedEarly := inst.Type1 == ir.TypeInt32
	if valuePoppedEarly {
		value = s.popExpr()
	}

	switch inst.RefVarType {
	case ir.RefStackTop:
		v.Left = s.popExpr()
	case ir.RefArray:
		v.Indices = simulateArrayIndices(s)
		v.Left = s.popExpr()
	default:
		if inst.Instance == ir.InstanceStackTop {
			v.Left = s.popExpr()
		}
	}

	if !valuePoppedEarly {
		value = s.popExpr()
	}

	if inst.Type2 == ir.TypeBoolean {
		if ic, ok := value.(*astir.IntConst); ok && ic.Width == ir.TypeInt16 && (ic.Value == 0 || ic.Value == 1) {
			value = &astir.BoolConst{Value: ic.Value == 1}
		}
	}

	return &astir.Assign{Target: v, Value: value}
}

// simulatePopSwap implements the pop-swap shape of spec.md §4.3's "Pop"
// rule: pop e1, pop e2, discard (value-4) more, push e2 then e1.
func simulatePopSwap(s *simulator, inst *ir.Instruction) {
	e1 := s.popExpr()
	e2 := s.popExpr()
	extra := inst.PopSwapSize() - 4
	if extra > 0 {
		s.discard(extra)
	}
	s.push(e2)
	s.push(e1)
}

// simulateExtended implements spec.md §4.3's "Extended" dispatch.
func simulateExtended(s *simulator, inst *ir.Instruction) astir.Stmt {
	switch inst.Extended {
	case ir.ExtSetArrayOwner:
		s.discard(1)
		return nil
	case ir.ExtPushReference:
		s.warn(Warning{Kind: UnsupportedPushReferenceWarning, Extended: int(inst.Extended), Address: inst.Address})
		s.push(&astir.StringConst{Value: "<unsupported push-reference>"})
		return nil
	default:
		s.warn(Warning{Kind: UnknownOpcodeWarning, Opcode: fmt.Sprintf("extended_%d", inst.Extended), Extended: int(inst.Extended), Address: inst.Address})
		return nil
	}
}
