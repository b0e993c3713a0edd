package haku

import "strconv"

// Per-function ceilings fixed by the bytecode encoding: locals, captures,
// and call argument counts are all u8 operands.
const (
	maxLocals   = 255
	maxCaptures = 255
	maxCallArgs = 255
)

// maxCompilerDiagnostics bounds the diagnostic list; further diagnostics
// are dropped once it fills up.
const maxCompilerDiagnostics = 64

// captureSource describes, from the point of view of the function a
// closure is created *inside of*, where one of the closure's captured
// values is copied from at the moment its OpFunction executes.
type captureSource struct {
	source uint8 // CaptureLocal or CaptureCapture
	index  uint8
}

// scope tracks the locals and captures of one function body being
// compiled. The toplevel program is the outermost scope.
type scope struct {
	locals       []string
	captureNames []string
	captures     []captureSource
}

// Compiler lowers a parsed Ast into bytecode emitted into a single chunk.
// Lambda bodies are emitted inline: OpFunction jumps over them via its
// `then` operand.
type Compiler struct {
	ast    *Ast
	code   string
	system *System
	defs   *Defs
	chunk  *Chunk

	diagnostics []Diagnostic
	scopes      []*scope
}

func NewCompiler(ast *Ast, code string, system *System, defs *Defs, chunk *Chunk) *Compiler {
	return &Compiler{
		ast:         ast,
		code:        code,
		system:      system,
		defs:        defs,
		chunk:       chunk,
		diagnostics: make([]Diagnostic, 0, maxCompilerDiagnostics),
		scopes:      []*scope{{}},
	}
}

func (c *Compiler) Diagnostics() []Diagnostic { return c.diagnostics }

func (c *Compiler) diagnose(span Span, message string) {
	if len(c.diagnostics) < maxCompilerDiagnostics {
		c.diagnostics = append(c.diagnostics, newDiagnostic(span, message))
	}
}

func (c *Compiler) text(id NodeID) string {
	return c.ast.Span(id).Slice(c.code)
}

// significant returns id's children with raw syntax tokens (commas,
// keywords, parentheses - anything the parser recorded via a bare
// advance()) filtered out, leaving the children that carry meaning.
func (c *Compiler) significant(id NodeID) []NodeID {
	children := c.ast.Children(id)
	out := make([]NodeID, 0, len(children))
	for _, kid := range children {
		if c.ast.Kind(kid) != NodeToken {
			out = append(out, kid)
		}
	}
	return out
}

func (c *Compiler) currentScope() *scope { return c.scopes[len(c.scopes)-1] }

// CompileProgram lowers root (a NodeToplevel) into chunk. Diagnostics are
// always returned, even alongside a non-nil error; a non-empty diagnostic
// list means the chunk must not be executed.
func CompileProgram(ast *Ast, root NodeID, code string, system *System, defs *Defs, chunk *Chunk) (ClosureSpec, []Diagnostic, error) {
	c := NewCompiler(ast, code, system, defs, chunk)
	if err := c.compileToplevel(root); err != nil {
		return ClosureSpec{}, c.diagnostics, err
	}
	localCount := len(c.scopes[0].locals)
	if localCount > maxLocals {
		localCount = 0
	}
	return ClosureSpec{LocalCount: uint8(localCount)}, c.diagnostics, nil
}

func (c *Compiler) compileToplevel(root NodeID) error {
	statements := c.significant(root)

	// Prepass: declare every `name = value` ahead of compiling any bodies,
	// so defs can be mutually recursive and referenced before their
	// definition in source order.
	for _, stmt := range statements {
		lhs, _, ok := c.defParts(stmt)
		if !ok {
			continue
		}
		if c.ast.Kind(lhs) != NodeIdent {
			continue
		}
		switch _, err := c.defs.Add(c.text(lhs)); err.(type) {
		case nil:
		case ErrDefAlreadyExists:
			c.diagnose(c.ast.Span(lhs), "redefinitions of defs are not allowed")
		case ErrTooManyDefs:
			c.diagnose(c.ast.Span(lhs), "too many defs")
		}
	}

	hadResult := false
	for i, stmt := range statements {
		if lhs, rhs, ok := c.defParts(stmt); ok {
			if err := c.compileDef(stmt, lhs, rhs); err != nil {
				return err
			}
			continue
		}

		if err := c.compileExpr(stmt); err != nil {
			return err
		}
		hadResult = true
		if i != len(statements)-1 {
			c.diagnose(c.ast.Span(statements[i+1]), "result value may not be followed by anything else")
			break
		}
	}

	if !hadResult {
		if err := c.chunk.EmitOpcode(OpNil); err != nil {
			return err
		}
	}
	return c.chunk.EmitOpcode(OpReturn)
}

// defParts recognizes the toplevel def form `name = value`, returning its
// left- and right-hand sides.
func (c *Compiler) defParts(stmt NodeID) (lhs, rhs NodeID, ok bool) {
	if c.ast.Kind(stmt) != NodeBinary {
		return 0, 0, false
	}
	parts := c.significant(stmt)
	if len(parts) != 3 || c.ast.Kind(parts[1]) != NodeOp || c.text(parts[1]) != "=" {
		return 0, 0, false
	}
	return parts[0], parts[2], true
}

func (c *Compiler) compileDef(stmt, lhs, rhs NodeID) error {
	if c.ast.Kind(lhs) != NodeIdent {
		c.diagnose(c.ast.Span(lhs), "only a plain name can appear on the left of `=`")
	}

	// The prepass declared the name unless the table overflowed, in which
	// case a diagnostic already fired - substitute slot 0.
	var id DefID
	if c.ast.Kind(lhs) == NodeIdent {
		id, _ = c.defs.Lookup(c.text(lhs))
	}

	if err := c.compileExpr(rhs); err != nil {
		return err
	}
	if err := c.chunk.EmitOpcode(OpSetDef); err != nil {
		return err
	}
	return c.chunk.EmitU16(uint16(id))
}

// compileExpr compiles id, leaving exactly one value on the stack.
func (c *Compiler) compileExpr(id NodeID) error {
	switch c.ast.Kind(id) {
	case NodeParenEmpty:
		return c.chunk.EmitOpcode(OpNil)

	case NodeIdent:
		return c.compileIdent(id)

	case NodeTag:
		return c.compileTag(id)

	case NodeNumber:
		return c.compileNumber(id)

	case NodeColor:
		return c.compileColor(id)

	case NodeList:
		return c.compileList(id)

	case NodeUnary:
		return c.compileUnary(id)

	case NodeBinary:
		return c.compileBinary(id)

	case NodeCall:
		return c.compileCall(id)

	case NodeParen:
		parts := c.significant(id)
		if len(parts) != 1 {
			return c.chunk.EmitOpcode(OpNil)
		}
		return c.compileExpr(parts[0])

	case NodeLambda:
		return c.compileLambda(id)

	case NodeIf:
		return c.compileIf(id)

	case NodeLet:
		return c.compileLet(id)

	case NodeError:
		// The parser already diagnosed this node; emit Nil so the rest of
		// the program still produces balanced bytecode.
		return c.chunk.EmitOpcode(OpNil)

	default:
		c.diagnose(c.ast.Span(id), "this expression cannot be compiled")
		return c.chunk.EmitOpcode(OpNil)
	}
}

// variable is the result of resolving a name against a scope.
type variable struct {
	capture bool
	index   uint8
}

// findVariable resolves name against the scope at scopeIndex: its own
// locals (right to left, so shadowing works), then recursively the
// enclosing scopes. A name pulled from an outer scope registers a capture
// on every intermediate scope it passes through.
func (c *Compiler) findVariable(name string, scopeIndex int, span Span) (variable, bool) {
	s := c.scopes[scopeIndex]
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i] == name {
			return variable{capture: false, index: uint8(i)}, true
		}
	}
	if scopeIndex == 0 {
		return variable{}, false
	}

	outer, ok := c.findVariable(name, scopeIndex-1, span)
	if !ok {
		return variable{}, false
	}
	source := captureSource{source: CaptureLocal, index: outer.index}
	if outer.capture {
		source.source = CaptureCapture
	}
	return c.addCapture(s, name, source, span)
}

func (c *Compiler) addCapture(s *scope, name string, source captureSource, span Span) (variable, bool) {
	for i, n := range s.captureNames {
		if n == name {
			return variable{capture: true, index: uint8(i)}, true
		}
	}
	if len(s.captures) >= maxCaptures {
		c.diagnose(span, "too many variables captured from outer functions in this scope")
		return variable{capture: true, index: 0}, true
	}
	index := uint8(len(s.captures))
	s.captureNames = append(s.captureNames, name)
	s.captures = append(s.captures, source)
	return variable{capture: true, index: index}, true
}

func (c *Compiler) compileIdent(id NodeID) error {
	name := c.text(id)
	span := c.ast.Span(id)

	if v, ok := c.findVariable(name, len(c.scopes)-1, span); ok {
		op := OpLocal
		if v.capture {
			op = OpCapture
		}
		if err := c.chunk.EmitOpcode(op); err != nil {
			return err
		}
		return c.chunk.EmitU8(v.index)
	}

	if defID, ok := c.defs.Lookup(name); ok {
		if err := c.chunk.EmitOpcode(OpDef); err != nil {
			return err
		}
		return c.chunk.EmitU16(uint16(defID))
	}

	c.diagnose(span, "undefined variable")
	return c.chunk.EmitOpcode(OpNil)
}

func (c *Compiler) compileTag(id NodeID) error {
	switch c.text(id) {
	case "True":
		return c.chunk.EmitOpcode(OpTrue)
	case "False":
		return c.chunk.EmitOpcode(OpFalse)
	default:
		c.diagnose(c.ast.Span(id), "tags are reserved for future use")
		return c.chunk.EmitOpcode(OpNil)
	}
}

func (c *Compiler) compileNumber(id NodeID) error {
	n, err := strconv.ParseFloat(c.text(id), 32)
	if err != nil {
		c.diagnose(c.ast.Span(id), "invalid number literal")
		n = 0
	}
	if err := c.chunk.EmitOpcode(OpNumber); err != nil {
		return err
	}
	return c.chunk.EmitF32(float32(n))
}

func (c *Compiler) compileColor(id NodeID) error {
	channels := parseColor(c.text(id))
	if err := c.chunk.EmitOpcode(OpRgba); err != nil {
		return err
	}
	for _, channel := range channels {
		if err := c.chunk.EmitU8(channel); err != nil {
			return err
		}
	}
	return nil
}

// parseColor decodes a #RGB/#RGBA/#RRGGBB/#RRGGBBAA literal into byte
// channels. The lexer already diagnosed malformed literals; here we
// decode best-effort.
func parseColor(text string) [4]uint8 {
	hex := text[1:]
	if len(hex) == 3 || len(hex) == 4 {
		expanded := make([]byte, 0, 8)
		for i := 0; i < len(hex); i++ {
			expanded = append(expanded, hex[i], hex[i])
		}
		hex = string(expanded)
	}
	channels := [4]uint8{0, 0, 0, 255}
	for i := 0; i*2+1 < len(hex) && i < 4; i++ {
		v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return [4]uint8{0, 0, 0, 255}
		}
		channels[i] = uint8(v)
	}
	return channels
}

func (c *Compiler) compileList(id NodeID) error {
	items := c.significant(id)
	for _, item := range items {
		if err := c.compileExpr(item); err != nil {
			return err
		}
	}
	count := len(items)
	if count > 0xFFFF {
		c.diagnose(c.ast.Span(id), "list has too many elements")
		count = 0
	}
	if err := c.chunk.EmitOpcode(OpList); err != nil {
		return err
	}
	return c.chunk.EmitU16(uint16(count))
}

func (c *Compiler) compileUnary(id NodeID) error {
	parts := c.significant(id)
	if len(parts) != 2 {
		return c.chunk.EmitOpcode(OpNil)
	}
	opNode, operand := parts[0], parts[1]

	if err := c.compileExpr(operand); err != nil {
		return err
	}

	index, ok := c.system.Resolve(ArityUnary, c.text(opNode))
	if !ok {
		c.diagnose(c.ast.Span(opNode), "this unary operator is currently unimplemented")
		return nil
	}
	if err := c.chunk.EmitOpcode(OpSystem); err != nil {
		return err
	}
	if err := c.chunk.EmitU8(index); err != nil {
		return err
	}
	return c.chunk.EmitU8(1)
}

func (c *Compiler) compileBinary(id NodeID) error {
	parts := c.significant(id)
	if len(parts) != 3 || c.ast.Kind(parts[1]) != NodeOp {
		return c.chunk.EmitOpcode(OpNil)
	}
	lhs, opNode, rhs := parts[0], parts[1], parts[2]
	op := c.text(opNode)

	if op == "=" {
		c.diagnose(c.ast.Span(opNode), "defs `name = value` may only appear at the top level")
		return c.chunk.EmitOpcode(OpNil)
	}

	if err := c.compileExpr(lhs); err != nil {
		return err
	}
	if err := c.compileExpr(rhs); err != nil {
		return err
	}

	index, ok := c.system.Resolve(ArityBinary, op)
	if !ok {
		c.diagnose(c.ast.Span(opNode), "this binary operator is currently unimplemented")
		return nil
	}
	if err := c.chunk.EmitOpcode(OpSystem); err != nil {
		return err
	}
	if err := c.chunk.EmitU8(index); err != nil {
		return err
	}
	return c.chunk.EmitU8(2)
}

func (c *Compiler) compileCall(id NodeID) error {
	parts := c.significant(id)
	if len(parts) == 0 {
		return c.chunk.EmitOpcode(OpNil)
	}
	callee, args := parts[0], parts[1:]

	// Arguments are evaluated left to right, before the callee: for a
	// plain OpCall the callee value then sits on top of its arguments,
	// which is exactly the layout the VM wants.
	for _, arg := range args {
		if err := c.compileExpr(arg); err != nil {
			return err
		}
	}

	argc := len(args)
	if argc > maxCallArgs {
		c.diagnose(c.ast.Span(id), "function call has too many arguments")
		argc = 0
	}

	if c.ast.Kind(callee) == NodeIdent {
		if index, ok := c.system.Resolve(ArityNary, c.text(callee)); ok {
			if err := c.chunk.EmitOpcode(OpSystem); err != nil {
				return err
			}
			if err := c.chunk.EmitU8(index); err != nil {
				return err
			}
			return c.chunk.EmitU8(uint8(argc))
		}
	}

	if err := c.compileExpr(callee); err != nil {
		return err
	}
	if err := c.chunk.EmitOpcode(OpCall); err != nil {
		return err
	}
	return c.chunk.EmitU8(uint8(argc))
}

func (c *Compiler) compileIf(id NodeID) error {
	parts := c.significant(id)
	if len(parts) != 3 {
		return c.chunk.EmitOpcode(OpNil)
	}
	condition, ifTrue, ifFalse := parts[0], parts[1], parts[2]

	if err := c.compileExpr(condition); err != nil {
		return err
	}

	if err := c.chunk.EmitOpcode(OpJumpIfNot); err != nil {
		return err
	}
	falseJump, err := c.chunk.EmitPlaceholderU16()
	if err != nil {
		return err
	}

	if err := c.compileExpr(ifTrue); err != nil {
		return err
	}
	if err := c.chunk.EmitOpcode(OpJump); err != nil {
		return err
	}
	endJump, err := c.chunk.EmitPlaceholderU16()
	if err != nil {
		return err
	}

	c.chunk.PatchU16(falseJump, uint16(c.chunk.Offset()))
	if err := c.compileExpr(ifFalse); err != nil {
		return err
	}
	c.chunk.PatchU16(endJump, uint16(c.chunk.Offset()))

	return nil
}

func (c *Compiler) compileLet(id NodeID) error {
	parts := c.significant(id)
	if len(parts) != 3 {
		return c.chunk.EmitOpcode(OpNil)
	}
	identNode, value, body := parts[0], parts[1], parts[2]

	// The value is compiled before the binding enters scope, so a binding
	// cannot refer to itself on its own right-hand side.
	if err := c.compileExpr(value); err != nil {
		return err
	}

	s := c.currentScope()
	slot := len(s.locals)
	bound := slot < maxLocals
	if !bound {
		c.diagnose(c.ast.Span(identNode), "too many names bound in this function at a single time")
		slot = 0
	} else {
		s.locals = append(s.locals, c.text(identNode))
	}

	if err := c.chunk.EmitOpcode(OpSetLocal); err != nil {
		return err
	}
	if err := c.chunk.EmitU8(uint8(slot)); err != nil {
		return err
	}

	// The slot stays allocated for the remainder of the enclosing scope;
	// only the name goes out of scope with the `let`'s own extent.
	if err := c.compileExpr(body); err != nil {
		return err
	}
	if bound {
		s.locals[slot] = ""
	}
	return nil
}

func (c *Compiler) compileLambda(id NodeID) error {
	parts := c.significant(id)
	if len(parts) < 1 || c.ast.Kind(parts[0]) != NodeParams {
		return c.chunk.EmitOpcode(OpNil)
	}
	paramsNode := parts[0]

	paramNodes := c.significant(paramsNode)
	params := make([]string, len(paramNodes))
	for i, p := range paramNodes {
		params[i] = c.text(p)
	}
	paramCount := len(params)
	if paramCount > maxLocals {
		c.diagnose(c.ast.Span(paramsNode), "too many function parameters")
		paramCount = 0
		params = nil
	}

	if err := c.chunk.EmitOpcode(OpFunction); err != nil {
		return err
	}
	if err := c.chunk.EmitU8(uint8(paramCount)); err != nil {
		return err
	}
	thenOffset, err := c.chunk.EmitPlaceholderU16()
	if err != nil {
		return err
	}

	// The body is emitted inline, directly after the OpFunction operands;
	// `then` is patched to point past its Return, where the closure's
	// metadata (local count, capture table) lives.
	c.scopes = append(c.scopes, &scope{locals: params})
	if len(parts) >= 2 {
		if err := c.compileExpr(parts[1]); err != nil {
			c.scopes = c.scopes[:len(c.scopes)-1]
			return err
		}
	} else {
		if err := c.chunk.EmitOpcode(OpNil); err != nil {
			c.scopes = c.scopes[:len(c.scopes)-1]
			return err
		}
	}
	if err := c.chunk.EmitOpcode(OpReturn); err != nil {
		c.scopes = c.scopes[:len(c.scopes)-1]
		return err
	}

	s := c.currentScope()
	c.scopes = c.scopes[:len(c.scopes)-1]

	c.chunk.PatchU16(thenOffset, uint16(c.chunk.Offset()))

	letCount := len(s.locals) - paramCount
	if letCount < 0 || letCount > maxLocals {
		letCount = 0
	}
	if err := c.chunk.EmitU8(uint8(letCount)); err != nil {
		return err
	}
	if err := c.chunk.EmitU8(uint8(len(s.captures))); err != nil {
		return err
	}
	for _, capture := range s.captures {
		if err := c.chunk.EmitU8(capture.source); err != nil {
			return err
		}
		if err := c.chunk.EmitU8(capture.index); err != nil {
			return err
		}
	}
	return nil
}
