// Package meta holds build-time identity constants shared by cmd/dcq.
package meta

// Version is the CLI's reported version string.
const Version = "0.1.0"
