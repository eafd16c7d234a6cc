// Command admin runs maintenance tasks against the tagapp record store.
package main

import (
	"fmt"
	"os"

	"tagapp/internal/admin"
)

func main() {
	if err := admin.NewRootCommand(admin.OpenFromConfig).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
