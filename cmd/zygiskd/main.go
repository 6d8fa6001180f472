// zygiskd supervises the Zygisk injection daemons, brokers per-module
// companion processes, and abstracts over the installed root solution.
package main

import (
	"os"

	"github.com/zygisksu/zygiskd/internal/zygiskdcmd"
)

func main() {
	os.Exit(zygiskdcmd.Execute())
}
