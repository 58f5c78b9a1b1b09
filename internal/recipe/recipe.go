package recipe

import "maps"

const (

	// Manifest filename assumed when a recipe does not name one.
	DefaultManifest = "requirements.txt"

	// Entry file assumed when a recipe does not name one.
	DefaultEntryFile = "newapp.py"

	// Port declared on the artifact when a recipe does not expose one.
	DefaultPort = 5000

	// Working directory for the install command and the entrypoint.
	DefaultWorkdir = "/app"

	// Interpreter recorded in the default entrypoint.
	defaultInterpreter = "python"
)

// Describes one image build end-to-end: the base runtime to start from,
// the dependency manifest to install, and the launch metadata declared on
// the output artifact.
//
// A plan is fixed at authoring time. The builder never mutates it.
type Plan struct {
	Base       string            // Base runtime reference (name:tag).
	Manifest   string            // Dependency manifest path, relative to the build context.
	Install    string            // Shell command that installs the manifest's packages.
	Workdir    string            // Working directory for install and entrypoint.
	Port       int               // Exposed TCP port declared on the artifact.
	Env        map[string]string // Environment variable bindings declared on the artifact.
	Entrypoint []string          // Command recorded on the artifact, executed at launch.
}

// Returns the default plan for a Flask application with the given entry
// file, rooted at the given base runtime reference.
//
// The declared surface matches the canonical recipe: port 5000/tcp,
// FLASK_APP bound to the entry file, FLASK_ENV=production, and the
// interpreter run against the entry file.
func Default(base, entryFile string) Plan {
	if entryFile == "" {
		entryFile = DefaultEntryFile
	}
	return Plan{
		Base:     base,
		Manifest: DefaultManifest,
		Install:  "pip install -r " + DefaultManifest,
		Workdir:  DefaultWorkdir,
		Port:     DefaultPort,
		Env: map[string]string{
			"FLASK_APP": entryFile,
			"FLASK_ENV": "production",
		},
		Entrypoint: []string{defaultInterpreter, entryFile},
	}
}

// Returns a copy of the plan with its own env map.
//
// Plans are passed across goroutines by the daemon; Clone keeps callers
// from sharing the mutable map.
func (p Plan) Clone() Plan {
	out := p
	out.Env = maps.Clone(p.Env)
	out.Entrypoint = append([]string(nil), p.Entrypoint...)
	return out
}
