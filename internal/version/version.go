package version

// Version is the engine release version, overridable at build time via
// -ldflags "-X marketdeck/internal/version.Version=...".
var Version = "0.4.0"
