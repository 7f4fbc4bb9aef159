// Command ganauditd runs the adversarial code-audit server.
package main

import (
	"fmt"
	"os"

	"github.com/ganaudit/ganauditd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
