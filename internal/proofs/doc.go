// Package proofs computes the content fingerprints attached to every
// certificate submission: the sha256 content digest, the "scan_"-salted scan
// digest, and a CIDv1 content address suitable for the contract's ipfsHash
// field.
package proofs
