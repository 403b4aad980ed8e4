// Package knowledge supplies short reference notes that the agent appends to
// its system prompt when the user's message mentions a related topic.
package knowledge
