package agentchat

// Options is the root command grouping sub-commands. The struct tags are
// interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Version bool `short:"v" long:"version" description:"print version and exit"`

	Serve *ServeCmd `command:"serve" description:"Start the chat HTTP server"`
}

// Init instantiates the sub-command referenced by the first argument so that
// flags.Parse can populate its fields.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	}
}
