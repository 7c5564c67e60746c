// Package main is the entry point for cbsetup, the one-shot provisioner that
// prepares a Couchbase node for the todo service: cluster init, bucket,
// scopes, collections and primary index.
package main

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	Execute()
}
