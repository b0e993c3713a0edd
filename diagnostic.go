package haku

// Diagnostic is a non-fatal, source-attributed message produced by the
// lexer, parser, or compiler. A brush only compiles successfully once all
// three phases report zero diagnostics.
type Diagnostic struct {
	Span    Span
	Message string
}

func newDiagnostic(span Span, message string) Diagnostic {
	return Diagnostic{Span: span, Message: message}
}
