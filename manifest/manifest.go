// Package manifest loads prompt-module declarations from fastllm.toml.
// Loading always produces a fresh registry; a live one is never mutated,
// which keeps registry swaps atomic for the sync channel.
package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/parse"
	"github.com/weavel-fastllm/fastllm/registry"
)

// DefaultPath is the manifest filename looked up in the project directory.
const DefaultPath = "fastllm.toml"

// Manifest is one parsed declaration set plus the files backing it. Files
// always starts with the manifest path itself, followed by every referenced
// content file; the watcher derives its watch set from it.
type Manifest struct {
	Path     string
	Registry *registry.Registry
	Files    []string
}

type manifestFile struct {
	Module []moduleDecl `toml:"module"`
	Sample []sampleDecl `toml:"sample"`
}

type moduleDecl struct {
	Name       string       `toml:"name"`
	Model      string       `toml:"model"`
	Parsing    string       `toml:"parsing"`
	OutputKeys []string     `toml:"output_keys"`
	Prompt     []promptDecl `toml:"prompt"`
}

type promptDecl struct {
	Role        string `toml:"role"`
	Step        int    `toml:"step"`
	Content     string `toml:"content"`
	ContentFile string `toml:"content_file"`
}

type sampleDecl struct {
	Name  string         `toml:"name"`
	Input map[string]any `toml:"input"`
}

// Load parses the manifest at path and builds a registry from it.
func Load(path string) (*Manifest, error) {
	var mf manifestFile
	md, err := toml.DecodeFile(path, &mf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse manifest %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf("unknown manifest keys in %s: %s", path, strings.Join(keys, ", "))
	}

	m := &Manifest{
		Path:     path,
		Registry: registry.New(),
		Files:    []string{path},
	}
	dir := filepath.Dir(path)

	seen := make(map[string]bool, len(mf.Module))
	for _, decl := range mf.Module {
		if decl.Name == "" {
			return nil, errors.Newf("manifest %s: module without a name", path)
		}
		if seen[decl.Name] {
			return nil, errors.Newf("manifest %s: duplicate module %q", path, decl.Name)
		}
		seen[decl.Name] = true

		mod, files, err := buildModule(dir, decl)
		if err != nil {
			return nil, errors.Wrapf(err, "manifest %s: module %q", path, decl.Name)
		}
		if err := m.Registry.Register(mod); err != nil {
			return nil, err
		}
		m.Files = append(m.Files, files...)
	}

	sampleSeen := make(map[string]bool, len(mf.Sample))
	for _, decl := range mf.Sample {
		if decl.Name == "" {
			return nil, errors.Newf("manifest %s: sample without a name", path)
		}
		if sampleSeen[decl.Name] {
			return nil, errors.Newf("manifest %s: duplicate sample %q", path, decl.Name)
		}
		sampleSeen[decl.Name] = true

		if err := m.Registry.RegisterSample(decl.Name, decl.Input); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func buildModule(dir string, decl moduleDecl) (*registry.Module, []string, error) {
	if decl.Parsing != "" && !parse.Mode(decl.Parsing).Valid() {
		return nil, nil, errors.Newf("unknown parsing mode %q", decl.Parsing)
	}

	mod := &registry.Module{
		Name:         decl.Name,
		Model:        decl.Model,
		ParsingMode:  decl.Parsing,
		OutputFields: decl.OutputKeys,
	}

	var files []string
	for i, p := range decl.Prompt {
		switch p.Role {
		case "system", "user", "assistant":
		default:
			return nil, nil, errors.Newf("prompt %d: unknown role %q", i+1, p.Role)
		}
		if p.Content != "" && p.ContentFile != "" {
			return nil, nil, errors.Newf("prompt %d: content and content_file are mutually exclusive", i+1)
		}

		content := p.Content
		if p.ContentFile != "" {
			resolved := p.ContentFile
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(dir, resolved)
			}
			raw, err := os.ReadFile(resolved)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "prompt %d: content_file", i+1)
			}
			content = string(raw)
			files = append(files, resolved)
		}
		if content == "" {
			return nil, nil, errors.Newf("prompt %d: empty content", i+1)
		}

		step := p.Step
		if step == 0 {
			step = i + 1
		}
		mod.Prompts = append(mod.Prompts, registry.Prompt{
			Role:    p.Role,
			Step:    step,
			Content: content,
		})
	}

	return mod, files, nil
}
