// Package ledger holds the ledger-facing primitives used by sprinkler.
//
// It owns the value types that cross the RPC boundary (public keys,
// signatures, blockhashes, keyed accounts), address derivation
// (program-derived, associated token and metadata addresses), and
// transaction assembly and signing.
//
// The Client interface is the consumed port: everything the pipeline asks
// of the cluster goes through it. internal/rpc provides the JSON-RPC
// adapter; internal/testutil provides an in-memory fake.
//
// Signing is local and synchronous. Sender glues a Signer to a Client:
// it fetches a recent blockhash, compiles and signs a legacy transaction
// for a single instruction, and submits it.
package ledger
