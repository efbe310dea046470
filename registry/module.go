package registry

// Module is one named prompt unit declared in local source, either parsed
// from the manifest or constructed programmatically.
type Module struct {
	Name         string
	Model        string
	Prompts      []Prompt
	ParsingMode  string
	OutputFields []string
}

// Prompt is one ordered template in a module declaration.
type Prompt struct {
	Role    string
	Step    int
	Content string
}

// ModuleOption configures a module declaration.
type ModuleOption func(*Module)

// WithModel sets the default model identifier.
func WithModel(model string) ModuleOption {
	return func(m *Module) {
		m.Model = model
	}
}

// WithPrompt appends a prompt template. Steps are assigned in call order.
func WithPrompt(role, content string) ModuleOption {
	return func(m *Module) {
		m.Prompts = append(m.Prompts, Prompt{
			Role:    role,
			Step:    len(m.Prompts) + 1,
			Content: content,
		})
	}
}

// WithParsingMode sets the structured-output parsing mode.
func WithParsingMode(mode string) ModuleOption {
	return func(m *Module) {
		m.ParsingMode = mode
	}
}

// WithOutputFields sets the structured-output field names.
func WithOutputFields(fields ...string) ModuleOption {
	return func(m *Module) {
		m.OutputFields = fields
	}
}

// NewModule constructs a module declaration. When exactly one registry is
// active (see Activate) the declaration is registered there; otherwise the
// caller registers it explicitly.
func NewModule(name string, opts ...ModuleOption) *Module {
	m := &Module{Name: name}
	for _, opt := range opts {
		opt(m)
	}
	if reg, ok := soleActiveRegistry(); ok {
		reg.Register(m)
	}
	return m
}
