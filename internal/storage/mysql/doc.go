// Package mysql persists the activity ledger: one row per agent tool
// invocation. It embeds the schema migrations and offers a JSON-lines file
// implementation for local development.
package mysql
