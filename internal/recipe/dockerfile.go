package recipe

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// Pipeline positions used to enforce the linear recipe shape. Instructions
// must advance through these positions in order; metadata instructions
// (EXPOSE, ENV, WORKDIR, CMD) may appear anywhere after FROM.
const (
	posStart    = iota // Nothing parsed yet.
	posBase            // FROM seen.
	posManifest        // Dependency manifest staged.
	posInstall         // Install command recorded.
	posSource          // Source tree staged.
)

// Parses a Dockerfile-compatible recipe into a [Plan].
//
// Only the linear five-step shape is accepted: a single FROM, a COPY that
// stages exactly the dependency manifest, a single RUN that installs it,
// a COPY that stages the full source tree, and metadata instructions
// (EXPOSE, ENV, WORKDIR, CMD). Anything else, including additional stages
// and additional RUN steps, is rejected.
func Parse(r io.Reader) (Plan, error) {
	res, err := parser.Parse(r)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	plan := Plan{Env: make(map[string]string)}
	pos := posStart

	for _, node := range res.AST.Children {
		instruction := strings.ToLower(node.Value)
		args := instructionArgs(node)

		switch instruction {
		case "from":
			if pos != posStart {
				return Plan{}, invalidf(node, "only one FROM is supported")
			}
			if len(args) != 1 {
				return Plan{}, invalidf(node, "FROM requires exactly one reference")
			}
			plan.Base = args[0]
			pos = posBase

		case "copy":
			if err := parseCopy(&plan, &pos, node, args); err != nil {
				return Plan{}, err
			}

		case "run":
			if pos != posManifest {
				return Plan{}, invalidf(node, "install step requires a staged manifest")
			}
			if len(args) == 0 {
				return Plan{}, invalidf(node, "RUN requires a command")
			}
			plan.Install = strings.Join(args, " ")
			pos = posInstall

		case "expose":
			if pos == posStart {
				return Plan{}, invalidf(node, "EXPOSE before FROM")
			}
			if plan.Port != 0 {
				return Plan{}, invalidf(node, "only one exposed port is supported")
			}
			port, err := parsePort(args)
			if err != nil {
				return Plan{}, invalidf(node, "%s", err)
			}
			plan.Port = port

		case "env":
			if pos == posStart {
				return Plan{}, invalidf(node, "ENV before FROM")
			}
			pairs := envArgs(node)
			if len(pairs) == 0 || len(pairs)%2 != 0 {
				return Plan{}, invalidf(node, "ENV requires key-value pairs")
			}
			for i := 0; i < len(pairs); i += 2 {
				plan.Env[pairs[i]] = pairs[i+1]
			}

		case "workdir":
			if pos == posStart || len(args) != 1 {
				return Plan{}, invalidf(node, "WORKDIR requires one path after FROM")
			}
			plan.Workdir = args[0]

		case "cmd", "entrypoint":
			if pos == posStart {
				return Plan{}, invalidf(node, "%s before FROM", strings.ToUpper(instruction))
			}
			if len(plan.Entrypoint) != 0 {
				return Plan{}, invalidf(node, "only one entrypoint command is supported")
			}
			plan.Entrypoint = entrypointArgs(node, args)

		default:
			return Plan{}, fmt.Errorf("%w: %s (line %d)", ErrUnsupported, strings.ToUpper(node.Value), node.StartLine)
		}
	}

	return finishPlan(plan, pos)
}

// Parses a recipe file from disk.
func ParseFile(path string) (Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	defer f.Close()
	return Parse(f)
}

// Handles the two COPY roles in the linear shape: staging the dependency
// manifest before the install step, and staging the full source tree after
// it. The manifest copy must name a single file; the source copy must be
// the whole context (".").
func parseCopy(plan *Plan, pos *int, node *parser.Node, args []string) error {
	if len(args) != 2 {
		return invalidf(node, "COPY requires a source and a destination")
	}

	src := args[0]
	if src == "." {
		if *pos != posInstall {
			return invalidf(node, "source tree staged before dependency install")
		}
		*pos = posSource
		return nil
	}

	if *pos != posBase {
		return invalidf(node, "manifest must be staged immediately after FROM")
	}
	if strings.ContainsAny(src, "*?[") {
		return invalidf(node, "manifest copy does not support wildcards")
	}
	plan.Manifest = src
	*pos = posManifest
	return nil
}

// Applies defaults and checks that the recipe reached the end of the
// pipeline with every required declaration present.
func finishPlan(plan Plan, pos int) (Plan, error) {
	switch pos {
	case posStart:
		return Plan{}, fmt.Errorf("%w: missing FROM", ErrInvalid)
	case posBase:
		return Plan{}, fmt.Errorf("%w: missing dependency manifest copy", ErrInvalid)
	case posManifest:
		return Plan{}, fmt.Errorf("%w: missing install step", ErrInvalid)
	case posInstall:
		return Plan{}, fmt.Errorf("%w: missing source tree copy", ErrInvalid)
	}

	if plan.Port == 0 {
		return Plan{}, fmt.Errorf("%w: recipe must expose a port", ErrInvalid)
	}
	if len(plan.Entrypoint) == 0 {
		return Plan{}, fmt.Errorf("%w: recipe must declare an entrypoint command", ErrInvalid)
	}
	if plan.Workdir == "" {
		plan.Workdir = DefaultWorkdir
	}

	return plan, nil
}

// Extracts the argument chain of an instruction node.
func instructionArgs(node *parser.Node) []string {
	var args []string
	for n := node.Next; n != nil; n = n.Next {
		args = append(args, n.Value)
	}
	return args
}

// Extracts the key-value arguments of an ENV instruction.
//
// The parser emits three nodes per binding: the key, the value, and a
// literal "=" marking the binding form. The marker carries no data and
// is dropped here.
func envArgs(node *parser.Node) []string {
	var args []string
	for n := node.Next; n != nil; n = n.Next {
		if n.Value == "=" {
			continue
		}
		args = append(args, n.Value)
	}
	return args
}

// Returns the entrypoint command for a CMD or ENTRYPOINT instruction.
//
// Exec form (JSON array) is used as-is. Shell form is split into fields:
// the launcher runs the command directly, so there is no shell to expand
// anything and the fields are the literal argv.
func entrypointArgs(node *parser.Node, args []string) []string {
	if node.Attributes["json"] {
		return args
	}
	return strings.Fields(strings.Join(args, " "))
}

// Parses an EXPOSE argument list into a single TCP port.
func parsePort(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one port, got %d", len(args))
	}

	raw := args[0]
	if port, proto, ok := strings.Cut(raw, "/"); ok {
		if proto != "tcp" {
			return 0, fmt.Errorf("only tcp ports are supported, got %q", proto)
		}
		raw = port
	}

	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", args[0])
	}
	return port, nil
}

// Formats an invalid-recipe error with the offending line number.
func invalidf(node *parser.Node, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s (line %d)", ErrInvalid, msg, node.StartLine)
}
