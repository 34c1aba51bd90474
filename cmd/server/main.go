// Package main is the entry point for the Document Viewer API.
//
// The binary has three commands: serve (the default API server with its
// worker pool), migrate (schema management) and validate (check a local
// PDF without starting anything).
package main

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	Execute()
}
