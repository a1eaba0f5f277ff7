// Command labelqueue runs the multi-tenant human-labeling queue service.
package main

import (
	"fmt"
	"os"

	"github.com/klabs/labelqueue/cmd/labelqueue/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
