package main

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "v0.1.0"

func main() {
	// Bootstrap (Cobra handles CLI)
	Execute()
}
