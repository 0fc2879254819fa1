package model

// Shared defaults used by both the server and client binaries.
const (
	DefaultPort      = 8080
	DefaultChunkSize = 4096
	DefaultWorkers   = 4
)
