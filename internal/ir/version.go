package ir

// Version constants for the attribute model and the executor wire protocol.
const (
	// IRVersion is the attribute model version.
	IRVersion = "1"

	// WireVersion is the executor IPC envelope version.
	WireVersion = 1

	// EngineVersion is the rollout scheduler version.
	EngineVersion = "0.1.0"
)
