// Command stocker signs in to the stock analysis API and calls it with the
// resulting session.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Seann-Moser/stocker/commands"
)

var version = "dev"

func main() {
	if err := commands.NewRootCommand(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
