package ctl

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fabricdb/fabctl/internal/output"
)

// Separator is the reserved token that splits a flat argument vector into
// individual command invocations.
const Separator = "--"

// BoundCommand is one parsed command invocation: descriptor, positional
// arguments, resolved options, and the per-attempt output sinks. Output and
// Table are reset at the start of every retry attempt so nothing leaks
// across attempts.
type BoundCommand struct {
	Syntax  *Syntax
	Args    []string
	Options map[string]*string // name -> value; nil value for bare flags

	Output bytes.Buffer
	Table  *output.Table

	// Meta is a scratch slot for handlers that carry a value from the run
	// phase to the postprocess phase. Reset with the other sinks at the
	// start of every attempt.
	Meta any
}

// Opt returns a command-local option value. ok reports presence; val is nil
// for bare flags.
func (c *BoundCommand) Opt(name string) (val *string, ok bool) {
	val, ok = c.Options[name]
	return val, ok
}

// HasOpt reports option presence.
func (c *BoundCommand) HasOpt(name string) bool {
	_, ok := c.Options[name]
	return ok
}

// OptString returns an option's value, or def when absent or bare.
func (c *BoundCommand) OptString(name, def string) string {
	val, ok := c.Options[name]
	if !ok || val == nil {
		return def
	}
	return *val
}

// UsageError reports a malformed invocation: unknown command, bad option,
// or an argument count outside the descriptor's bounds. Detected entirely
// during parsing, before any transaction exists.
type UsageError struct {
	Command string
	Message string
}

func (e *UsageError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s: %s", e.Command, e.Message)
	}
	return e.Message
}

func usageErrorf(command, format string, args ...any) *UsageError {
	return &UsageError{Command: command, Message: fmt.Sprintf(format, args...)}
}

// ParseCommands splits args on the separator token and binds each segment
// against the registry. localOptions carries option values already consumed
// by an outer parser (the daemon's request scanner); they attach to the
// first command and are validated against its descriptor.
//
// Within a segment, tokens starting with "--" are command-local options and
// may appear on either side of the command name; the first non-option token
// names the command. Parsing never touches the database.
func ParseCommands(reg *Registry, args []string, localOptions map[string]*string) ([]*BoundCommand, error) {
	segments := [][]string{{}}
	for _, tok := range args {
		if tok == Separator {
			segments = append(segments, []string{})
			continue
		}
		last := len(segments) - 1
		segments[last] = append(segments[last], tok)
	}

	cmds := make([]*BoundCommand, 0, len(segments))
	for _, segment := range segments {
		locals := localOptions
		localOptions = nil
		cmd, err := parseOne(reg, segment, locals)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func parseOne(reg *Registry, segment []string, locals map[string]*string) (*BoundCommand, error) {
	var name string
	var positional []string
	rawOptions := make(map[string]*string, len(locals))
	for k, v := range locals {
		rawOptions[k] = v
	}

	for _, tok := range segment {
		if strings.HasPrefix(tok, "--") && tok != Separator {
			optName, optVal := splitOption(tok)
			if _, dup := rawOptions[optName]; dup {
				return nil, usageErrorf(name, "option --%s specified multiple times", optName)
			}
			rawOptions[optName] = optVal
			continue
		}
		if name == "" {
			name = tok
			continue
		}
		positional = append(positional, tok)
	}

	if name == "" {
		return nil, &UsageError{Message: "missing command name; use --help for usage"}
	}
	syntax := reg.Lookup(name)
	if syntax == nil {
		return nil, usageErrorf("", "unknown command %q; use --help for usage", name)
	}

	for optName, optVal := range rawOptions {
		opt, ok := syntax.option(optName)
		if !ok {
			return nil, usageErrorf(name, "--%s is not a valid option", optName)
		}
		switch opt.Arity {
		case NoArg:
			if optVal != nil {
				return nil, usageErrorf(name, "--%s does not take a value", optName)
			}
		case RequiredArg:
			if optVal == nil || *optVal == "" {
				return nil, usageErrorf(name, "--%s requires a value", optName)
			}
		}
	}

	if len(positional) < syntax.MinArgs {
		return nil, usageErrorf(name, "requires at least %d arguments (got %d); usage: %s %s",
			syntax.MinArgs, len(positional), syntax.Name, syntax.Usage)
	}
	if syntax.MaxArgs != Unlimited && len(positional) > syntax.MaxArgs {
		return nil, usageErrorf(name, "takes at most %d arguments (got %d); usage: %s %s",
			syntax.MaxArgs, len(positional), syntax.Name, syntax.Usage)
	}

	return &BoundCommand{
		Syntax:  syntax,
		Args:    positional,
		Options: rawOptions,
	}, nil
}

func splitOption(tok string) (name string, val *string) {
	body := strings.TrimPrefix(tok, "--")
	if i := strings.IndexByte(body, '='); i >= 0 {
		v := body[i+1:]
		return body[:i], &v
	}
	return body, nil
}
