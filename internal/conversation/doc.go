// Package conversation keeps per-thread chat history for the agent. The
// verify endpoint and the chat surfaces use two fixed thread ids so that
// certificate analyses and free-form chat never share context.
package conversation
