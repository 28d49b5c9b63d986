package version

// Name identifies the service in logs, traces, and event subjects.
const Name = "deployflow"

// Version is overridden at build time via -ldflags.
var Version = "dev"
