package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/estisync/internal/client/cli"
)

func main() {

	ctx := context.Background()
	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

}
