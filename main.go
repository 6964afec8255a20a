package main

import (
	"os"

	"github.com/redfoxsec/audit-core/cmd"
)

// main function remains to call Execute.
func main() {
	cmd.Execute(os.Args[1:])
}
