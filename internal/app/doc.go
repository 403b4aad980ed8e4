// Package app assembles the long-lived collaborators shared by certd and
// certctl: the chain binding, the tool registry and its observers, the
// agent, and the verification front-ends. An App is built once at start-up
// and only read afterwards.
package app
