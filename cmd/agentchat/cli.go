// Package agentchat implements the command line interface of the chat
// orchestration service.
package agentchat

import (
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"
)

// Run parses flags and executes the selected command.
func Run(args []string) {
	opts := &Options{}
	var first string
	if len(args) > 0 {
		first = args[0]
	}
	opts.Init(first)

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		// flags already prints a user-friendly message; exit with code 1.
		log.Fatalf("%v", err)
	}

	if opts.Version {
		fmt.Println(Version())
		os.Exit(0)
	}
}
