// Command skusync downloads SKU artifacts from S3-compatible object storage.
//
//	skusync --bucket sku-assets --excel skus.xlsx --local ./downloads
//
// Exit status is 0 when every identifier was synced (or on --dry-run) and 1
// otherwise.
package main

import (
	"errors"
	"fmt"
	"os"

	"skusync.evalgo.org/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		// an incomplete sync has already been reported in the log stream
		if !errors.Is(err, cli.ErrIncompleteSync) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
