package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/opensandbox/ptyctl/cmd/ptyctl/cmd"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		return
	}
	var exit *cmd.ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
