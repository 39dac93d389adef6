// Command certbake compiles CA certificate bundles into C++ headers for
// firmware builds.
package main

import "github.com/princespaghetti/certbake/internal/cli"

func main() {
	cli.Execute()
}
