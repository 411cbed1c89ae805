// Command syncctl migrates catalog, customer and order data from a Magento
// store into a Medusa store, and operates the resulting dead letter queue,
// checkpoints and reports.
package main

import (
	"os"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
