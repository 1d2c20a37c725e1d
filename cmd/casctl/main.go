// Command casctl controls Open CAS cache instances declared in opencas.conf.
package main

import (
	"os"

	"github.com/opencache-labs/casctl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
