// orgctl provisions organizations in the Postgres store: go run ./cmd/orgctl org create --id acme --name Acme --domain app.acme.io
package main

import (
	"fmt"
	"os"

	"telemetry-ingest/backend/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.PostgresOpener).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "orgctl:", err)
		os.Exit(1)
	}
}
