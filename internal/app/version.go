package app

// Build metadata, stamped with -ldflags:
//
//	go build -ldflags "-X github.com/large-farva/sightline/internal/app.Version=v0.3.0" ./cmd/sightlined
var (
	Version   = "dev"
	GoVersion = "unknown"
	BuiltAt   = "unknown"
)
