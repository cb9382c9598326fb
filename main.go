package main

import (
	"os"

	"github.com/aspects-ai/agent-backend/cli"
)

func main() {
	cmd := cli.RootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
