package engine

import (
	"fmt"
	"time"
)

// WaitMode selects which downstream consumer a convergence wait observes.
type WaitMode int

const (
	// WaitNone: return as soon as the batch commits.
	WaitNone WaitMode = iota
	// WaitRelay: block until the relay database has processed the
	// committed generation.
	WaitRelay
	// WaitAgents: block until every fabric agent has caught up.
	WaitAgents
)

func (m WaitMode) String() string {
	switch m {
	case WaitNone:
		return "none"
	case WaitRelay:
		return "relay"
	case WaitAgents:
		return "agents"
	default:
		return fmt.Sprintf("WaitMode(%d)", int(m))
	}
}

// ParseWaitMode parses a --wait flag value.
func ParseWaitMode(s string) (WaitMode, error) {
	switch s {
	case "none":
		return WaitNone, nil
	case "relay":
		return WaitRelay, nil
	case "agents":
		return WaitAgents, nil
	default:
		return WaitNone, fmt.Errorf("invalid wait mode %q (expected none, relay, or agents)", s)
	}
}

// Options is the per-invocation configuration. The daemon resets it to the
// zero value before applying each request's overrides, so nothing leaks
// from one request into the next.
type Options struct {
	Wait    WaitMode
	DryRun  bool
	Oneline bool

	// Timeout bounds the whole invocation: snapshot stabilization across
	// retries and any convergence wait. Zero means no deadline.
	Timeout time.Duration
}

// Reset restores every field to its default.
func (o *Options) Reset() { *o = Options{} }
