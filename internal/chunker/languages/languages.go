// Package languages registers tree-sitter grammars and structural queries
// with a chunker registry.
package languages

import "mnemo/internal/chunker"

// DefaultRegistry returns a registry with all bundled grammars registered.
func DefaultRegistry() *chunker.Registry {
	r := chunker.NewRegistry()
	RegisterGo(r)
	RegisterJavaScript(r)
	RegisterTypeScript(r)
	RegisterPython(r)
	return r
}
