// Package cmd implements the torchstate command line interface. It wires
// the serve, get, and perf subcommands; configuration comes from flags,
// TSS_* environment variables, and optional .env files.
package cmd
