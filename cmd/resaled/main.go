// Command resaled is the resale marketplace daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alanyoungcy/resale/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "resaled: %v\n", err)
		os.Exit(1)
	}
}
