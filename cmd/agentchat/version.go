package agentchat

// version is overridable at build time via -ldflags "-X ...version=v1.2.3".
var version = "dev"

// Version returns the build version string.
func Version() string {
	return "agentchat " + version
}
