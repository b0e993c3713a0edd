package haku

// Limits is the enumerated record of every resource ceiling a Haku
// instance enforces. All fields are required; a zero limit makes the
// corresponding resource unusable rather than unbounded.
type Limits struct {
	MaxSourceCodeLen       int `yaml:"max_source_code_len"`
	MaxChunks              int `yaml:"max_chunks"`
	MaxDefs                int `yaml:"max_defs"`
	MaxTokens              int `yaml:"max_tokens"`
	MaxParserEvents        int `yaml:"max_parser_events"`
	AstCapacity            int `yaml:"ast_capacity"`
	ChunkCapacity          int `yaml:"chunk_capacity"`
	StackCapacity          int `yaml:"stack_capacity"`
	CallStackCapacity      int `yaml:"call_stack_capacity"`
	RefCapacity            int `yaml:"ref_capacity"`
	Fuel                   int `yaml:"fuel"`
	Memory                 int `yaml:"memory"`
	PixmapStackCapacity    int `yaml:"pixmap_stack_capacity"`
	TransformStackCapacity int `yaml:"transform_stack_capacity"`
}

// DefaultLimits is sized for a single brush running inside a shared,
// multi-tenant canvas - generous enough for real brushes, tight enough
// that a pathological one cannot stall or exhaust the host process.
func DefaultLimits() Limits {
	return Limits{
		MaxSourceCodeLen:       65536,
		MaxChunks:              2,
		MaxDefs:                256,
		MaxTokens:              4096,
		MaxParserEvents:        4096,
		AstCapacity:            4096,
		ChunkCapacity:          65536,
		StackCapacity:          1024,
		CallStackCapacity:      256,
		RefCapacity:            2048,
		Fuel:                   65536,
		Memory:                 1 << 20,
		PixmapStackCapacity:    4,
		TransformStackCapacity: 16,
	}
}

// maxLexerDiagnostics and maxParserDiagnostics bound the per-phase
// diagnostic lists, same as the compiler's.
const (
	maxLexerDiagnostics  = 64
	maxParserDiagnostics = 64
)

// brushState is the compiled program SetBrush leaves behind for EvalBrush
// to instantiate.
type brushState struct {
	chunk ChunkID
	spec  ClosureSpec
	ready bool
}

// Haku is the embeddable façade a host (the canvas server, a CLI, a test)
// drives: compile a brush's source once with SetBrush, then evaluate and
// render it as many times as the canvas needs with EvalBrush/RenderValue,
// calling ResetVm between plots to roll the VM back to its post-compile
// snapshot.
type Haku struct {
	limits Limits

	system      *System
	systemImage SystemImage
	defs        *Defs
	defsImage   DefsImage
	vm          *Vm
	vmImage     VmImage

	brush brushState
}

// New builds a fresh Haku instance with no brush loaded.
func New(limits Limits) *Haku {
	system := NewSystem(limits.MaxChunks)
	defs := NewDefs(limits.MaxDefs)
	vm := NewVm(defs, VmLimits{
		StackCapacity:     limits.StackCapacity,
		CallStackCapacity: limits.CallStackCapacity,
		RefCapacity:       limits.RefCapacity,
		Fuel:              limits.Fuel,
		Memory:            limits.Memory,
	})

	return &Haku{
		limits:      limits,
		system:      system,
		systemImage: system.Image(),
		defs:        defs,
		defsImage:   defs.Image(),
		vm:          vm,
		vmImage:     vm.Image(),
	}
}

// Reset rolls the system and def tables back to their post-construction
// images, dropping every compiled chunk and declared def. The loaded
// brush (if any) is invalidated.
func (h *Haku) Reset() {
	h.system.Restore(h.systemImage)
	h.defs.Restore(h.defsImage)
	h.brush = brushState{}
}

// ResetVm rolls the Vm back to the snapshot taken after the most recent
// successful SetBrush, reclaiming refs and def values an evaluation
// created and restoring the fuel and memory budgets. The Vm must be idle
// or left dirty by an exception; either way the restore is valid because
// the snapshot is a prefix of both.
func (h *Haku) ResetVm() {
	h.vm.Restore(h.vmImage)
}

// SetBrush lexes, parses, and compiles source as the brush's toplevel
// program, replacing any previously loaded brush. Compilation starts from
// the post-construction system/def images; on failure both are rolled
// back to their state before this call, so a failed edit never disturbs a
// brush that was working before it.
//
// The returned diagnostics are non-nil exactly when the error is a
// HakuError with StatusDiagnosticsEmitted.
func (h *Haku) SetBrush(source string) ([]Diagnostic, error) {
	// Restoring an image can only truncate, so the chunks and def names
	// present before this call are copied out to be put back on failure.
	preChunks := append([]*Chunk(nil), h.system.chunks...)
	preDefNames := append([]string(nil), h.defs.names...)
	preBrush := h.brush
	rollback := func() {
		h.system.chunks = append(h.system.chunks[:0], preChunks...)
		h.defs.Restore(h.defsImage)
		for _, name := range preDefNames[h.defs.Len():] {
			_, _ = h.defs.Add(name)
		}
		h.brush = preBrush
	}

	h.system.Restore(h.systemImage)
	h.defs.Restore(h.defsImage)
	h.brush = brushState{}

	fail := func(err error) ([]Diagnostic, error) {
		rollback()
		return nil, &HakuError{Status: statusFor(err), Err: err}
	}

	code, err := NewSourceCode(source, uint32(h.limits.MaxSourceCodeLen))
	if err != nil {
		return fail(err)
	}

	lexer := NewLexer(code, h.limits.MaxTokens, maxLexerDiagnostics)
	if err := lexer.Lex(); err != nil {
		return fail(err)
	}

	parser := NewParser(lexer.Lexis, h.limits.MaxParserEvents, maxParserDiagnostics)
	Toplevel(parser)
	ast := NewAst(h.limits.AstCapacity)
	root, err := parser.IntoAst(ast)
	if err != nil {
		return fail(err)
	}

	chunk := NewChunk(h.limits.ChunkCapacity)
	spec, compilerDiagnostics, err := CompileProgram(ast, root, code.Text(), h.system, h.defs, chunk)
	if err != nil {
		return fail(err)
	}

	diagnostics := make([]Diagnostic, 0,
		len(lexer.Diagnostics)+len(parser.Diagnostics)+len(compilerDiagnostics))
	diagnostics = append(diagnostics, lexer.Diagnostics...)
	diagnostics = append(diagnostics, parser.Diagnostics...)
	diagnostics = append(diagnostics, compilerDiagnostics...)
	if len(diagnostics) > 0 {
		rollback()
		return diagnostics, &HakuError{Status: StatusDiagnosticsEmitted, Diagnostics: diagnostics}
	}

	chunkID, err := h.system.AddChunk(chunk)
	if err != nil {
		return fail(err)
	}

	// Reclaim anything a prior evaluation left in the VM before taking the
	// snapshot ResetVm will roll back to.
	h.vm.Restore(h.vmImage)

	h.brush = brushState{chunk: chunkID, spec: spec, ready: true}
	h.vmImage = h.vm.Image()
	return nil, nil
}

// Diagnose runs the front-end phases over source without touching the
// instance's compiled state, returning whatever diagnostics they emit.
// Useful for editor-style live feedback.
func (h *Haku) Diagnose(source string) ([]Diagnostic, error) {
	scratch := New(h.limits)
	diagnostics, err := scratch.SetBrush(source)
	return diagnostics, err
}

// EvalBrush instantiates the compiled brush as a fresh closure and runs
// it to completion, returning the value it produces (for a well-behaved
// brush, a scribble or a list of scribbles).
//
// On an exception the Vm is rolled back to the post-compile snapshot
// automatically; the returned HakuError carries the message.
func (h *Haku) EvalBrush() (Value, error) {
	if !h.brush.ready {
		return Value{}, &HakuError{Status: StatusEvalException, Err: raise("brush is not compiled and ready to be used")}
	}

	h.vm.ApplyDefs(h.defs)

	closureID, err := h.vm.CreateRef(ClosureRef(&Closure{
		Chunk:      h.brush.chunk,
		Offset:     0,
		ParamCount: 0,
		LocalCount: h.brush.spec.LocalCount,
	}))
	if err != nil {
		h.ResetVm()
		return Value{}, &HakuError{Status: StatusOutOfRefSlots, Err: err}
	}

	value, err := h.vm.Run(h.system, closureID)
	if err != nil {
		h.ResetVm()
		return Value{}, &HakuError{Status: StatusEvalException, Err: err}
	}
	return value, nil
}

// RenderValue rasterizes value - the result of EvalBrush on this same
// instance, whose refs must not have been rolled back yet - into pixmap,
// translated by (tx, ty).
func (h *Haku) RenderValue(pixmap *Pixmap, value Value, tx, ty float32) error {
	renderer := NewRenderer(pixmap, RendererLimits{
		PixmapStackCapacity:    h.limits.PixmapStackCapacity,
		TransformStackCapacity: h.limits.TransformStackCapacity,
	})
	renderer.Translate(tx, ty)
	if err := renderer.Render(h.vm, value); err != nil {
		h.ResetVm()
		return &HakuError{Status: StatusRenderException, Err: err}
	}
	return nil
}

// Limits returns the limits the instance was constructed with.
func (h *Haku) Limits() Limits { return h.limits }

// System exposes the underlying System, e.g. for disassembly tooling.
func (h *Haku) System() *System { return h.system }

// Defs exposes the underlying def table.
func (h *Haku) Defs() *Defs { return h.defs }

// Vm exposes the underlying Vm.
func (h *Haku) Vm() *Vm { return h.vm }

// BrushChunk returns the compiled brush's chunk id, if one is loaded.
func (h *Haku) BrushChunk() (ChunkID, bool) {
	return h.brush.chunk, h.brush.ready
}
