package types

// Version is the canonical agent version.
// The CLI, handshake, and journal records all report this value.
const Version = "0.3.0"

// ProtocolVersion is the Logline Protocol (LLP) revision spoken by the agent.
// Carried as the trailing field of the handshake record.
const ProtocolVersion uint8 = 1

// DefaultPort is the collector's conventional listening port.
const DefaultPort = 12500
