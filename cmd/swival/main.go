// Command swival runs the agent loop CLI: a single task to completion, or
// a minimal REPL that feeds successive lines from stdin as tasks.
package main

import "os"

func main() {
	os.Exit(Execute())
}
