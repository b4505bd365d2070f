package main

import (
	"os"

	cli "github.com/membranehq/ai-agent-example/cmd/agentchat"
)

func main() {
	cli.Run(os.Args[1:])
}
