/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package vm

import (
	"sort"

	"github.com/google/btree"
	"github.com/launix-de/scadvm/scad"
)

// HostFunc implements a geometry module on the host side. It receives
// ownership of the argument values and must return one value.
type HostFunc func(heap *Heap, args []Value) Value

// FunctionEntry is one compiled function or module body. Host entries
// carry no bytecode; the evaluator calls Host directly.
type FunctionEntry struct {
	Code       []byte
	Parameters int
	IsModule   bool
	Name       string
	Host       HostFunc
	HostArity  int
}

// GlobalSlot keys one global by (file, identifier); config variables share
// the synthetic scad.ConfigFile handle so they are visible across files.
type GlobalSlot struct {
	File scad.FileHandle
	Name string
	Slot int
}

// StringConst preloads a string literal into its global slot before
// evaluation starts.
type StringConst struct {
	Slot  int
	Value string
}

// Program is the generator output consumed by the evaluator.
type Program struct {
	Functions   []FunctionEntry
	Entry       int
	GlobalCount int
	StringPool  []StringConst
	Globals     *btree.BTreeG[GlobalSlot]
	Warnings    []scad.Warning
}

// GenError is a fatal code generation error (unsupported construct,
// unknown function).
type GenError struct {
	Loc    scad.Location
	Reason string
}

func (e *GenError) Error() string {
	return e.Loc.String() + ": " + e.Reason
}

type funcKey struct {
	file scad.FileHandle
	name string
}

type generator struct {
	fns         []FunctionEntry
	functionMap map[funcKey]int
	moduleMap   map[funcKey]int
	paramsByID  map[int][]*scad.Assign
	globalMap   map[funcKey]int
	globals     *btree.BTreeG[GlobalSlot]
	strings     map[string]int
	stringPool  []StringConst
	host        map[string]HostFunc
	hostEntries map[funcKey]int // name + arity disguised as file
	warnings    []scad.Warning
}

func lessSlot(a, b GlobalSlot) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	return a.Name < b.Name
}

// Generate lowers all translation units into one function table. Entry is
// the unit whose top-level module calls run; every reachable unit's file
// scope assignments initialise their global slots first, dependencies
// before dependants. host maps geometry module names to host callbacks.
func Generate(units []*scad.TranslationUnit, entry *scad.TranslationUnit, host map[string]HostFunc) (prog *Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			if gerr, ok := r.(*GenError); ok {
				prog, err = nil, gerr
				return
			}
			panic(r)
		}
	}()
	g := &generator{
		functionMap: make(map[funcKey]int),
		moduleMap:   make(map[funcKey]int),
		paramsByID:  make(map[int][]*scad.Assign),
		globalMap:   make(map[funcKey]int),
		globals:     btree.NewG(8, lessSlot),
		strings:     make(map[string]int),
		host:        host,
		hostEntries: make(map[funcKey]int),
	}

	byHandle := make(map[scad.FileHandle]*scad.TranslationUnit, len(units))
	for _, u := range units {
		byHandle[u.File] = u
	}
	ordered := orderUnits(units, entry, byHandle)

	// pass 1: assign function ids and global slots so bodies can refer to
	// anything declared anywhere in their unit
	for _, u := range ordered {
		for _, fn := range u.Functions {
			id := g.declare(fn.Name, len(fn.Params), false)
			g.functionMap[funcKey{u.File, fn.Name}] = id
			g.paramsByID[id] = fn.Params
		}
		for _, m := range u.Modules {
			id := g.declare(m.Name, len(m.Params), true)
			g.moduleMap[funcKey{u.File, m.Name}] = id
			g.paramsByID[id] = m.Params
		}
		for _, a := range u.Assignments {
			g.globalSlotFor(u.File, a.Ident)
		}
	}

	// pass 2: compile bodies
	for _, u := range ordered {
		for _, fn := range u.Functions {
			f := g.newFunc(u, nil)
			f.pushParams(fn.Params)
			terminated := f.genExpr(fn.Body, true)
			if !terminated {
				f.emit(Ret)
			}
			g.fns[g.functionMap[funcKey{u.File, fn.Name}]].Code = f.linearize()
		}
		for _, m := range u.Modules {
			f := g.newFunc(u, nil)
			f.pushParams(m.Params)
			f.genBody(&m.Body)
			f.emitOperand(ConstMisc, 2)
			f.depth++
			f.emit(Ret)
			g.fns[g.moduleMap[funcKey{u.File, m.Name}]].Code = f.linearize()
		}
	}

	// entry function: initialise globals of every unit (dependencies
	// first), then run the entry unit's module calls
	ef := g.newFunc(entry, nil)
	for _, u := range ordered {
		for _, a := range u.Assignments {
			if a.Expr == nil {
				continue
			}
			ef.genExpr(a.Expr, false)
			ef.emitOperand(SetGlobalI, g.globalSlotFor(u.File, a.Ident))
			ef.depth--
		}
	}
	for _, call := range entry.ModuleCalls {
		ef.genCall(call)
	}
	ef.emitOperand(ConstMisc, 2)
	ef.depth++
	ef.emit(Ret)
	entryID := g.declare("<entry>", 0, false)
	g.fns[entryID].Code = ef.linearize()

	for _, u := range ordered {
		g.warnings = append(g.warnings, u.Warnings...)
	}
	return &Program{
		Functions:   g.fns,
		Entry:       entryID,
		GlobalCount: len(g.globalMap) + len(g.strings),
		StringPool:  g.stringPool,
		Globals:     g.globals,
		Warnings:    g.warnings,
	}, nil
}

// orderUnits returns dependencies before dependants, entry last.
func orderUnits(units []*scad.TranslationUnit, entry *scad.TranslationUnit, byHandle map[scad.FileHandle]*scad.TranslationUnit) []*scad.TranslationUnit {
	visited := make(map[scad.FileHandle]bool)
	var ordered []*scad.TranslationUnit
	var visit func(u *scad.TranslationUnit)
	visit = func(u *scad.TranslationUnit) {
		if u == nil || visited[u.File] {
			return
		}
		visited[u.File] = true
		uses := make([]scad.FileHandle, 0, len(u.Uses))
		for h := range u.Uses {
			uses = append(uses, h)
		}
		sort.Slice(uses, func(i, j int) bool { return uses[i] < uses[j] })
		for _, h := range uses {
			visit(byHandle[h])
		}
		ordered = append(ordered, u)
	}
	for _, u := range units {
		if u != entry {
			visit(u)
		}
	}
	visit(entry)
	return ordered
}

func (g *generator) declare(name string, params int, isModule bool) int {
	g.fns = append(g.fns, FunctionEntry{Name: name, Parameters: params, IsModule: isModule})
	return len(g.fns) - 1
}

func (g *generator) globalSlotFor(file scad.FileHandle, name string) int {
	if name != "" && name[0] == '$' {
		file = scad.ConfigFile
	}
	key := funcKey{file, name}
	if slot, ok := g.globalMap[key]; ok {
		return slot
	}
	slot := len(g.globalMap) + len(g.strings)
	g.globalMap[key] = slot
	g.globals.ReplaceOrInsert(GlobalSlot{File: file, Name: name, Slot: slot})
	return slot
}

// stringSlot interns a string literal as a preloaded global.
func (g *generator) stringSlot(s string) int {
	if slot, ok := g.strings[s]; ok {
		return slot
	}
	slot := len(g.globalMap) + len(g.strings)
	g.strings[s] = slot
	g.stringPool = append(g.stringPool, StringConst{Slot: slot, Value: s})
	return slot
}

func (g *generator) hostEntry(name string, arity int) int {
	key := funcKey{scad.FileHandle(arity), name}
	if id, ok := g.hostEntries[key]; ok {
		return id
	}
	id := g.declare(name, arity, true)
	g.fns[id].Host = g.host[name]
	g.fns[id].HostArity = arity
	g.hostEntries[key] = id
	return id
}

//
// Per-function compilation: basic blocks plus a statically simulated
// operand stack depth, from which local slot indices fall out.
//

type basicBlock struct {
	iterBranch int // >= 0: the block begins with Iter branching there on has-next
	bytes      []byte
	jumpFalse  int // >= 0: emit JumpFalseI to that block after bytes
	next       int // >= 0: fall through or jump; -1: terminal
}

type genFunc struct {
	g      *generator
	unit   *scad.TranslationUnit
	parent *genFunc
	blocks []*basicBlock
	cur    int
	scopes []map[string]int
	depth  int
}

func (g *generator) newFunc(unit *scad.TranslationUnit, parent *genFunc) *genFunc {
	f := &genFunc{g: g, unit: unit, parent: parent}
	f.blocks = []*basicBlock{{iterBranch: -1, jumpFalse: -1, next: -1}}
	return f
}

func (f *genFunc) fail(loc scad.Location, reason string) {
	panic(&GenError{loc, reason})
}

func (f *genFunc) warn(loc scad.Location, message string) {
	f.g.warnings = append(f.g.warnings, scad.Warning{Loc: loc, Message: message})
}

func (f *genFunc) block() *basicBlock { return f.blocks[f.cur] }

// startBlock opens a new block the previous one falls into.
func (f *genFunc) startBlock() int {
	id := len(f.blocks)
	if f.block().next < 0 {
		f.block().next = id
	}
	f.blocks = append(f.blocks, &basicBlock{iterBranch: -1, jumpFalse: -1, next: -1})
	f.cur = id
	return id
}

// startBlockNoFall opens a new block without touching the previous block's
// edges (used after back edges and terminals).
func (f *genFunc) startBlockNoFall() int {
	id := len(f.blocks)
	f.blocks = append(f.blocks, &basicBlock{iterBranch: -1, jumpFalse: -1, next: -1})
	f.cur = id
	return id
}

func (f *genFunc) emit(op Opcode) {
	f.block().bytes = addInst(f.block().bytes, op)
}

func (f *genFunc) emitOperand(op Opcode, operand int) {
	switch op {
	case ConstMisc:
		f.block().bytes = append(f.block().bytes, byte(op), byte(operand))
	default:
		f.block().bytes = addInstImm(f.block().bytes, op, operand)
	}
}

func (f *genFunc) emitNumber(value float64) {
	f.block().bytes = addDouble(f.block().bytes, value)
	f.depth++
}

func (f *genFunc) pushScope() { f.scopes = append(f.scopes, map[string]int{}) }
func (f *genFunc) popScope()  { f.scopes = f.scopes[:len(f.scopes)-1] }

func (f *genFunc) pushParams(params []*scad.Assign) {
	f.pushScope()
	scope := f.scopes[len(f.scopes)-1]
	for _, p := range params {
		scope[p.Ident] = f.depth
		f.depth++
	}
}

// bind names the value just pushed as a local.
func (f *genFunc) bind(name string) {
	f.scopes[len(f.scopes)-1][name] = f.depth - 1
}

// lookupLocal searches the frame-local scopes, innermost first.
func (f *genFunc) lookupLocal(name string) (int, bool) {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if slot, ok := f.scopes[i][name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// genIdent resolves a variable per the search order: config table, current
// frame, outer frames (GetParentI), file scope, else a warning and Undef.
func (f *genFunc) genIdent(e *scad.IdentExpr) {
	if e.IsConfig() {
		f.emitOperand(GetGlobalI, f.g.globalSlotFor(scad.ConfigFile, e.Name))
		f.depth++
		return
	}
	if slot, ok := f.lookupLocal(e.Name); ok {
		f.emitOperand(GetI, slot)
		f.depth++
		return
	}
	up := 1
	for outer := f.parent; outer != nil; outer = outer.parent {
		if slot, ok := outer.lookupLocal(e.Name); ok {
			if up > 255 {
				f.fail(e.At, "scope nesting too deep")
			}
			f.block().bytes = append(f.block().bytes, byte(GetParentI), byte(up))
			f.block().bytes = addImm(f.block().bytes, slot)
			f.depth++
			return
		}
		up++
	}
	if slot, ok := f.g.globalMap[funcKey{f.unit.File, e.Name}]; ok {
		f.emitOperand(GetGlobalI, slot)
		f.depth++
		return
	}
	f.warn(e.At, "undefined variable '"+e.Name+"'")
	f.emitOperand(ConstMisc, 2)
	f.depth++
}

// genExpr lowers one expression, leaving exactly one value on the stack.
// It returns true when control does not fall through (tail call emitted).
func (f *genFunc) genExpr(e scad.Expr, tail bool) bool {
	switch v := e.(type) {
	case *scad.NumberExpr:
		f.emitNumber(v.Value)
	case *scad.StringExpr:
		f.emitOperand(GetGlobalI, f.g.stringSlot(v.Value))
		f.depth++
	case *scad.BoolExpr:
		operand := 0
		if v.Value {
			operand = 1
		}
		f.emitOperand(ConstMisc, operand)
		f.depth++
	case *scad.UndefExpr:
		f.emitOperand(ConstMisc, 2)
		f.depth++
	case *scad.IdentExpr:
		f.genIdent(v)
	case *scad.UnaryExpr:
		f.genExpr(v.Operand, false)
		if v.Op == scad.Not {
			f.block().bytes = addUnaryOp(f.block().bytes, BuiltinNot)
		} else {
			f.block().bytes = addUnaryOp(f.block().bytes, BuiltinNeg)
		}
	case *scad.BinaryExpr:
		f.genExpr(v.Lhs, false)
		f.genExpr(v.Rhs, false)
		f.block().bytes = addBinOp(f.block().bytes, BinOpCode(v.Op))
		f.depth--
	case *scad.IfExpr:
		return f.genIfExpr(v, tail)
	case *scad.CallExpr:
		return f.genCallExpr(v, tail)
	case *scad.ListExpr:
		f.emit(MakeList)
		f.depth++
		for _, el := range v.Elems {
			f.genExpr(el.Expr, false)
			if el.Splat {
				f.block().bytes = addBinOp(f.block().bytes, BinConcat)
			} else {
				f.block().bytes = addBinOp(f.block().bytes, BinAppend)
			}
			f.depth--
		}
	case *scad.RangeExpr:
		f.genExpr(v.End, false)
		f.genExpr(v.Start, false)
		if v.Step != nil {
			f.genExpr(v.Step, false)
		} else {
			f.emitNumber(1)
		}
		f.emit(MakeRange)
		f.depth -= 2
	case *scad.IndexExpr:
		f.genExpr(v.List, false)
		f.genExpr(v.Index, false)
		f.block().bytes = addBinOp(f.block().bytes, BinIndex)
		f.depth--
	case *scad.LetExpr:
		if len(v.Bindings) == 0 {
			return f.genExpr(v.Body, tail)
		}
		f.pushScope()
		first := f.depth
		for _, b := range v.Bindings {
			f.genLetBinding(b)
		}
		f.genExpr(v.Body, false)
		f.emitOperand(SetI, first)
		f.depth--
		for i := 1; i < len(v.Bindings); i++ {
			f.emit(Pop)
			f.depth--
		}
		f.popScope()
	case *scad.ListCompExpr:
		f.genListComp(v)
	case *scad.ListCompCExpr:
		f.genListCompC(v)
	case *scad.LambdaExpr:
		f.fail(v.At, "lambda not supported")
	default:
		f.fail(e.Loc(), "unsupported expression")
	}
	return false
}

func (f *genFunc) genLetBinding(b *scad.Assign) {
	if b.Expr != nil {
		f.genExpr(b.Expr, false)
	} else {
		f.emitOperand(ConstMisc, 2)
		f.depth++
	}
	f.bind(b.Ident)
}

// genIfExpr lowers to the classic three blocks: then, else, tail. Both
// branches leave exactly one value on the stack.
func (f *genFunc) genIfExpr(v *scad.IfExpr, tail bool) bool {
	f.genExpr(v.Cond, false)
	condBlock := f.block()
	entryDepth := f.depth - 1 // JumpFalseI pops the condition

	f.startBlock()
	f.depth = entryDepth
	thenTerm := f.genExpr(v.Then, tail)
	thenEnd := f.cur
	thenDepth := f.depth

	elseID := f.startBlockNoFall()
	condBlock.jumpFalse = elseID
	f.depth = entryDepth
	elseTerm := f.genExpr(v.Else, tail)
	elseEnd := f.cur

	tailID := f.startBlock() // else falls through
	if !thenTerm {
		f.blocks[thenEnd].next = tailID
	}
	if elseTerm {
		f.blocks[elseEnd].next = -1
	}
	f.depth = thenDepth
	return thenTerm && elseTerm
}

func (f *genFunc) genCallExpr(v *scad.CallExpr, tail bool) bool {
	ident, ok := v.Fun.(*scad.IdentExpr)
	if !ok {
		f.fail(v.At, "lambda not supported")
	}
	if id, found := f.g.functionMap[f.funcLookup(ident.Name)]; found {
		params := f.g.fns[id].Parameters
		f.genArgs(f.g.paramsByID[id], v.Args, v.At)
		if tail {
			f.emitOperand(TailCallI, id)
			f.depth = f.depth - params + 1
			return true
		}
		f.emitOperand(CallI, id)
		f.depth = f.depth - params + 1
		return false
	}
	if b, found := Builtins[ident.Name]; found {
		if len(v.Args) != 1 || v.Args[0].Ident != "" {
			f.fail(v.At, "builtin "+ident.Name+" expects one argument")
		}
		f.genExpr(v.Args[0].Expr, false)
		f.block().bytes = addUnaryOp(f.block().bytes, b)
		return false
	}
	f.fail(v.At, "unknown function call '"+ident.Name+"'")
	return false
}

// funcLookup finds the declaring file for a function name: the current
// file first, then the unit's use set in handle order.
func (f *genFunc) funcLookup(name string) funcKey {
	key := funcKey{f.unit.File, name}
	if _, ok := f.g.functionMap[key]; ok {
		return key
	}
	uses := make([]scad.FileHandle, 0, len(f.unit.Uses))
	for h := range f.unit.Uses {
		uses = append(uses, h)
	}
	sort.Slice(uses, func(i, j int) bool { return uses[i] < uses[j] })
	for _, h := range uses {
		k := funcKey{h, name}
		if _, ok := f.g.functionMap[k]; ok {
			return k
		}
	}
	return key // miss; caller reports
}

// moduleLookup is funcLookup for modules.
func (f *genFunc) moduleLookup(name string) (int, bool) {
	if id, ok := f.g.moduleMap[funcKey{f.unit.File, name}]; ok {
		return id, true
	}
	uses := make([]scad.FileHandle, 0, len(f.unit.Uses))
	for h := range f.unit.Uses {
		uses = append(uses, h)
	}
	sort.Slice(uses, func(i, j int) bool { return uses[i] < uses[j] })
	for _, h := range uses {
		if id, ok := f.g.moduleMap[funcKey{h, name}]; ok {
			return id, true
		}
	}
	return 0, false
}

// genArgs pushes one value per parameter, matching named arguments and
// falling back to defaults. Named config arguments set the shared table
// before the call.
func (f *genFunc) genArgs(params []*scad.Assign, args []*scad.Assign, at scad.Location) {
	named := make(map[string]scad.Expr)
	var positional []scad.Expr
	for _, a := range args {
		if a.Ident == "" {
			positional = append(positional, a.Expr)
		} else if a.Ident[0] == '$' {
			f.genExpr(a.Expr, false)
			f.emitOperand(SetGlobalI, f.g.globalSlotFor(scad.ConfigFile, a.Ident))
			f.depth--
		} else {
			named[a.Ident] = a.Expr
		}
	}
	if len(positional) > len(params) {
		f.fail(at, "too many arguments")
	}
	for name := range named {
		known := false
		for _, p := range params {
			if p.Ident == name {
				known = true
				break
			}
		}
		if !known {
			f.fail(at, "unknown argument '"+name+"'")
		}
	}
	for i, p := range params {
		if expr, ok := named[p.Ident]; ok {
			f.genExpr(expr, false)
		} else if i < len(positional) {
			f.genExpr(positional[i], false)
		} else if p.Expr != nil {
			f.genExpr(p.Expr, false)
		} else {
			f.emitOperand(ConstMisc, 2)
			f.depth++
		}
	}
}

// moveLocal replaces the local slot with undef and leaves the old value on
// top, so a later in-place append sees a unique reference.
func (f *genFunc) moveLocal(slot int) {
	f.emitOperand(GetI, slot)
	f.depth++
	f.emitOperand(ConstMisc, 2)
	f.depth++
	f.emitOperand(SetI, slot)
	f.depth--
}

// genListComp lowers [for (...) body]: a result vector below the loop
// temporaries, advanced by Iter; fall-through is the only exit.
func (f *genFunc) genListComp(v *scad.ListCompExpr) {
	f.emit(MakeList)
	f.depth++
	resultSlot := f.depth - 1
	f.pushScope()
	f.genCompLoop(v.Bindings, 0, func() {
		if v.Cond != nil {
			f.genExpr(v.Cond, false)
			guard := f.block()
			f.startBlock()
			f.depth--
			f.genAppendBody(resultSlot, v.Body)
			cont := f.startBlock()
			guard.jumpFalse = cont
			return
		}
		f.genAppendBody(resultSlot, v.Body)
	})
	f.popScope()
}

func (f *genFunc) genAppendBody(resultSlot int, body scad.Expr) {
	f.moveLocal(resultSlot)
	f.genExpr(body, false)
	f.block().bytes = addBinOp(f.block().bytes, BinAppend)
	f.depth--
	f.emitOperand(SetI, resultSlot)
	f.depth--
}

// genCompLoop nests one Iter loop per binding, innermost running inner().
// The iter block branches forward into the body while elements remain and
// falls through to the exit when the iteration is done.
func (f *genFunc) genCompLoop(bindings []*scad.Assign, i int, inner func()) {
	if i == len(bindings) {
		inner()
		return
	}
	b := bindings[i]
	f.genExpr(b.Expr, false)
	f.emitNumber(-1)
	iterID := f.startBlock()
	iterBlock := f.block()
	bodyID := f.startBlockNoFall()
	iterBlock.iterBranch = bodyID
	elemSlot := f.depth
	f.depth++ // the branch path pushed the element
	f.scopes[len(f.scopes)-1][b.Ident] = elemSlot
	f.genCompLoop(bindings, i+1, inner)
	f.emit(Pop)
	f.depth--
	f.block().next = iterID
	exitID := f.startBlockNoFall()
	iterBlock.next = exitID
	f.depth -= 2 // the fall-through path dropped iterable and index
}

// genListCompC lowers [for (init; cond; update) body] as a while loop over
// stack-slot bindings.
func (f *genFunc) genListCompC(v *scad.ListCompCExpr) {
	f.emit(MakeList)
	f.depth++
	resultSlot := f.depth - 1
	f.pushScope()
	for _, b := range v.Init {
		f.genLetBinding(b)
	}
	loopID := f.startBlock()
	f.genExpr(v.Cond, false)
	condBlock := f.block()
	f.startBlock()
	f.depth--
	f.genAppendBody(resultSlot, v.Body)
	for _, b := range v.Update {
		slot, ok := f.lookupLocal(b.Ident)
		if !ok {
			f.fail(b.At, "update of unknown loop variable '"+b.Ident+"'")
		}
		f.genExpr(b.Expr, false)
		f.emitOperand(SetI, slot)
		f.depth--
	}
	f.block().next = loopID
	exitID := f.startBlockNoFall()
	condBlock.jumpFalse = exitID
	for range v.Init {
		f.emit(Pop)
		f.depth--
	}
	f.popScope()
}

//
// Statement lowering.
//

// genBody lowers a module body in the current frame: assignments become
// locals, children run in order, locals are popped at the end.
func (f *genFunc) genBody(body *scad.ModuleBody) {
	f.pushScope()
	for _, a := range body.Assignments {
		f.genLetBinding(a)
	}
	for _, child := range body.Children {
		f.genCall(child)
	}
	for range body.Assignments {
		f.emit(Pop)
		f.depth--
	}
	f.popScope()
}

func (f *genFunc) genCall(call scad.ModuleCall) {
	switch v := call.(type) {
	case *scad.ModuleModifier:
		if v.Tag == '*' {
			return // disabled subtree
		}
		f.genCall(v.Inner)
	case *scad.IfModule:
		f.genExpr(v.Cond, false)
		condBlock := f.block()
		f.depth--
		f.startBlock()
		f.genBody(&v.Then)
		thenEnd := f.cur
		elseID := f.startBlockNoFall()
		condBlock.jumpFalse = elseID
		f.genBody(&v.Else)
		tailID := f.startBlock()
		f.blocks[thenEnd].next = tailID
	case *scad.SingleModuleCall:
		f.genSingleCall(v)
	}
}

func (f *genFunc) genSingleCall(v *scad.SingleModuleCall) {
	switch v.Name {
	case "echo":
		for _, a := range v.Args {
			f.genExpr(a.Expr, false)
			f.emit(Echo)
			f.emit(Pop)
			f.depth--
		}
		return
	case "let":
		f.pushScope()
		for _, b := range v.Args {
			f.genLetBinding(b)
		}
		f.genBody(&v.Body)
		for range v.Args {
			f.emit(Pop)
			f.depth--
		}
		f.popScope()
		return
	case "for", "intersection_for":
		f.pushScope()
		f.genCompLoop(v.Args, 0, func() {
			f.genBody(&v.Body)
		})
		f.popScope()
		return
	case "group":
		f.genBody(&v.Body)
		return
	case "children":
		// children blocks run after their module call at the call site;
		// nothing to instantiate here
		return
	}
	if id, ok := f.moduleLookup(v.Name); ok {
		f.genArgs(f.g.paramsByID[id], v.Args, v.At)
		f.emitOperand(CallI, id)
		f.depth = f.depth - f.g.fns[id].Parameters + 1
		f.emit(Pop)
		f.depth--
		f.genChildBlock(v)
		return
	}
	if _, ok := f.g.host[v.Name]; ok {
		arity := 0
		for _, a := range v.Args {
			if a.Ident == "" || a.Ident[0] != '$' {
				arity++
			}
		}
		for _, a := range v.Args {
			if a.Ident != "" && a.Ident[0] == '$' {
				f.genExpr(a.Expr, false)
				f.emitOperand(SetGlobalI, f.g.globalSlotFor(scad.ConfigFile, a.Ident))
				f.depth--
				continue
			}
			f.genExpr(a.Expr, false)
		}
		id := f.g.hostEntry(v.Name, arity)
		f.emitOperand(CallI, id)
		f.depth = f.depth - arity + 1
		f.emit(Pop)
		f.depth--
		f.genChildBlock(v)
		return
	}
	f.warn(v.At, "unknown module '"+v.Name+"'")
	f.genChildBlock(v)
}

// genChildBlock compiles a trailing { } block as its own module entry that
// reads the surrounding frame through GetParentI, and calls it right after
// the module itself.
func (f *genFunc) genChildBlock(v *scad.SingleModuleCall) {
	if len(v.Body.Assignments) == 0 && len(v.Body.Children) == 0 {
		return
	}
	child := f.g.newFunc(f.unit, f)
	child.genBody(&v.Body)
	child.emitOperand(ConstMisc, 2)
	child.depth++
	child.emit(Ret)
	id := f.g.declare(v.Name+".children", 0, true)
	f.g.fns[id].Code = child.linearize()
	f.emitOperand(CallI, id)
	f.depth++
	f.emit(Pop)
	f.depth--
}

//
// Linearisation: blocks in creation order, labels resolved to relative
// offsets. Branch immediates start short and are promoted to the long form
// until the layout is stable.
//

func (f *genFunc) linearize() []byte {
	blocks := f.blocks
	n := len(blocks)
	type widths struct {
		iter, jf, j int // total instruction size: 0 absent, else 2 or 6
	}
	w := make([]widths, n)
	hasJump := make([]bool, n)
	for i, b := range blocks {
		if b.iterBranch >= 0 {
			w[i].iter = 2
		}
		if b.jumpFalse >= 0 {
			w[i].jf = 2
		}
		if b.next >= 0 && b.next != i+1 {
			w[i].j = 2
			hasJump[i] = true
		}
	}
	start := make([]int, n+1)
	for {
		pos := 0
		for i, b := range blocks {
			start[i] = pos
			pos += w[i].iter + len(b.bytes) + w[i].jf + w[i].j
		}
		start[n] = pos
		stable := true
		fits := func(imm, width int) bool {
			return width == 6 || (imm > -128 && imm <= 127)
		}
		for i, b := range blocks {
			if b.iterBranch >= 0 {
				imm := start[b.iterBranch] - start[i]
				if !fits(imm, w[i].iter) {
					w[i].iter = 6
					stable = false
				}
			}
			if b.jumpFalse >= 0 {
				at := start[i] + w[i].iter + len(b.bytes)
				imm := start[b.jumpFalse] - at
				if !fits(imm, w[i].jf) {
					w[i].jf = 6
					stable = false
				}
			}
			if hasJump[i] {
				at := start[i] + w[i].iter + len(b.bytes) + w[i].jf
				imm := start[b.next] - at
				if !fits(imm, w[i].j) {
					w[i].j = 6
					stable = false
				}
			}
		}
		if stable {
			break
		}
	}
	var code []byte
	emitBranch := func(op Opcode, imm, width int) {
		code = append(code, byte(op))
		if width == 2 {
			code = append(code, byte(int8(imm)))
		} else {
			code = append(code, longImmMarker)
			code = append(code,
				byte(uint32(int32(imm))),
				byte(uint32(int32(imm))>>8),
				byte(uint32(int32(imm))>>16),
				byte(uint32(int32(imm))>>24))
		}
	}
	for i, b := range blocks {
		if b.iterBranch >= 0 {
			emitBranch(Iter, start[b.iterBranch]-start[i], w[i].iter)
		}
		code = append(code, b.bytes...)
		if b.jumpFalse >= 0 {
			at := start[i] + w[i].iter + len(b.bytes)
			emitBranch(JumpFalseI, start[b.jumpFalse]-at, w[i].jf)
		}
		if hasJump[i] {
			at := start[i] + w[i].iter + len(b.bytes) + w[i].jf
			emitBranch(JumpI, start[b.next]-at, w[i].j)
		}
	}
	return code
}
