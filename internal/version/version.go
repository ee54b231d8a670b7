package version

// Version is set at build time with -ldflags "-X github.com/bnema/forwarder/internal/version.Version=...".
var Version = "dev"
