// The main package for the ingest executable.
package main

import (
	"github.com/zonedesk/ingest/cmd"
)

func main() {
	cmd.Execute()
}
