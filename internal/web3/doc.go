// Package web3 houses blockchain connectivity utilities for the certificate
// service: the chain client abstraction, the transaction signer loaded from a
// raw key or an encrypted keystore, and the YAML chain definitions. The
// UniversityCertificate binding lives in the ethereum sub-package and the
// named-chain registry in provider.
package web3
