package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BrandonDHaskell/Argus/server/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "argus-server:", err)
		os.Exit(1)
	}
}
