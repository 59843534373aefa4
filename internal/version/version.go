package version

// Version is overridden at build time with
// -ldflags "-X github.com/paralyuzov/raven-client/internal/version.Version=v1.2.3".
var Version = "dev"
