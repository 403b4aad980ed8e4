// Package verification turns accepted certificate submissions and chat
// messages into agent turns.
//
// Dispatcher runs the fixed verification prompt on the verification thread
// and keeps the agent's narrative. Relay forwards free-form chat to the
// management thread and returns both the narrative and the tool outputs.
package verification
