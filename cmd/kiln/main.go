// Kiln is a build orchestrator for native-extension game projects.
package main

import (
	"fmt"
	"os"

	"github.com/kiln-build/kiln/pkg/cli"
	"github.com/kiln-build/kiln/pkg/types"
)

// Version is overridable at link time
var Version = "0.1.0"

// main is the single place errors become exit codes: each error
// category has its own code so callers can script against failures.
func main() {
	if err := cli.Execute(Version); err != nil {
		fmt.Fprintf(os.Stderr, "🔥 [Kiln] %v\n", err)
		os.Exit(types.ExitCodeFor(err))
	}
}
