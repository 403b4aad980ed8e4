// Package tools holds the static set of actions the agent may invoke.
//
// A Registry is built once at start-up and shared by the HTTP service, the
// interactive CLI and the MCP server. Tools never return errors to the
// caller: every failure is rendered as text starting with the failure marker
// so the model can reason about it.
package tools
