package version

// Version is the current version of dbgate.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.0.0"

// Name is the application name.
const Name = "dbgate"

// Description is a short description of the application.
const Description = "Multi-tenant inventory data gateway and cross-engine migration tool"
