// Package api exposes the certificate verification service over HTTP.
//
// The core routes are an HTML status page at "/",
// multipart uploads at /verify, JSON chat at /chat and a liveness probe at
// /health. On top of those it serves Prometheus metrics, a websocket chat
// stream and the tool activity ledger. Every error body has the shape
// {"error": "..."}.
package api
