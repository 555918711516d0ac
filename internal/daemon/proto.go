// Package daemon implements the long-lived server mode: a unix socket
// accepting newline-delimited JSON requests, each carrying one full command
// line to execute against a warm replica snapshot.
package daemon

// Request is one client invocation. Args is the raw argument vector exactly
// as the client received it, global options included; the server re-parses
// it per request so option state never leaks between clients.
type Request struct {
	Method string   `json:"method"`
	Args   []string `json:"args,omitempty"`
}

// Response carries the outcome of one request. Exactly one of Result and
// Error is meaningful; an empty Error means success.
type Response struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Recognized request methods.
const (
	// MethodRun executes a command batch.
	MethodRun = "run"
	// MethodExit asks the server to shut down after replying.
	MethodExit = "exit"
)
