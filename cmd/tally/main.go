// Tally manages the analytics store of a meal-ordering platform: it keeps
// the store under its storage budget with retention cleanup, and serves
// storage operations and health over a small ops HTTP server.
//
// Usage:
//
//	# Start the retention scheduler and ops server
//	tally run
//
//	# Start with a custom configuration file
//	tally run --config /etc/tally/config.yaml
//
//	# Show current storage usage
//	tally storage stats
//
//	# Run a threshold-triggered cleanup now
//	tally storage cleanup
//
//	# Halve retention windows and clean every category
//	tally storage emergency --yes
//
//	# Show version information
//	tally version
package main

import "os"

func main() {
	os.Exit(Execute())
}
