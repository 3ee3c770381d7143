/* main.go */

package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/forge/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
