// Command scopecheck runs span propagation scenarios against a live event
// loop and reports which ones hold.
package main

import "github.com/zoobzio/scopez/internal/cli"

func main() {
	cli.Execute()
}
