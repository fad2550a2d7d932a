package main

import (
	"context"
	"os"

	"github.com/odyssey-erp/scorecard/cmd/scorecardctl/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), cli.Options{}))
}
