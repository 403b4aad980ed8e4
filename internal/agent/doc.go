// Package agent implements the tool-calling loop that connects the language
// model with the certificate tools. Each turn is exposed as an ordered,
// finite sequence of fragments tagged with the step that produced them.
package agent
