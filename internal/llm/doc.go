// Package llm contains the provider-neutral message, tool and request types
// used by the agent loop, plus adapters (openai, ollama, gemini) that map
// them onto each vendor SDK. Every adapter returns one complete turn: the
// assistant text and any tool calls the model requested.
package llm
