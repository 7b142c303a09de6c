package plugin

// NewDefaultRegistry returns a Registry with the four built-in project-type
// plugins registered, in the priority order the Worker engine dispatches
// against: rule (5), file (10), render (15), code (20).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewRulePlugin())
	r.Register(NewFilePlugin())
	r.Register(NewRenderPlugin())
	r.Register(NewCodePlugin())
	return r
}
