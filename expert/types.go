// Package expert provides rule-based anomaly detection over packet records
package expert

import (
	"fmt"
)

// Severity represents the severity level of an expert info
type Severity int

const (
	SeverityChat    Severity = iota // Informational, normal behavior
	SeverityNote                    // Notable but not necessarily problematic
	SeverityWarning                 // Potential issue
	SeverityError                   // Definite problem
)

// String returns a human-readable string for the severity
func (s Severity) String() string {
	switch s {
	case SeverityChat:
		return "Chat"
	case SeverityNote:
		return "Note"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Symbol returns a single character symbol for the severity
func (s Severity) Symbol() string {
	switch s {
	case SeverityChat:
		return "."
	case SeverityNote:
		return "i"
	case SeverityWarning:
		return "!"
	case SeverityError:
		return "X"
	default:
		return "?"
	}
}

// Group represents the category of expert info
type Group string

const (
	GroupSequence  Group = "Sequence"  // TCP sequence analysis
	GroupProtocol  Group = "Protocol"  // Protocol-level issues
	GroupSecurity  Group = "Security"  // Security concerns
	GroupMalformed Group = "Malformed" // Malformed packets
)

// ExpertInfo represents a single expert information entry
type ExpertInfo struct {
	PacketNum   int      // frame.number where the issue was detected
	Severity    Severity // Severity level
	Group       Group    // Category group
	Protocol    string   // Protocol involved (TCP, IP, ...)
	Summary     string   // Short summary (e.g., "TCP Retransmission")
	Details     string   // Detailed description
	RelatedPkts []int    // Related packet numbers (for context)
	StreamKey   string   // Stream identifier if applicable
}

// String returns a formatted string representation
func (e *ExpertInfo) String() string {
	return fmt.Sprintf("[%s] #%d %s: %s - %s",
		e.Severity.Symbol(),
		e.PacketNum,
		e.Protocol,
		e.Summary,
		e.Details,
	)
}

// TCPExpertType represents specific TCP expert info types
type TCPExpertType int

const (
	TCPRetransmission TCPExpertType = iota
	TCPOutOfOrder
	TCPZeroWindow
	TCPConnectionReset
	TCPConnectionRefused
	TCPSYNFlood
	TCPPortScan
)

// String returns a human-readable description
func (t TCPExpertType) String() string {
	switch t {
	case TCPRetransmission:
		return "TCP Retransmission"
	case TCPOutOfOrder:
		return "TCP Out-Of-Order"
	case TCPZeroWindow:
		return "TCP Zero Window"
	case TCPConnectionReset:
		return "TCP Connection Reset"
	case TCPConnectionRefused:
		return "TCP Connection Refused"
	case TCPSYNFlood:
		return "Potential SYN Flood"
	case TCPPortScan:
		return "Potential Port Scan"
	default:
		return "Unknown TCP Issue"
	}
}

// Severity returns the default severity for this TCP expert type
func (t TCPExpertType) Severity() Severity {
	switch t {
	case TCPOutOfOrder:
		return SeverityNote
	case TCPRetransmission, TCPZeroWindow, TCPConnectionReset:
		return SeverityWarning
	case TCPConnectionRefused, TCPSYNFlood, TCPPortScan:
		return SeverityError
	default:
		return SeverityNote
	}
}

// Group returns the category of this TCP expert type
func (t TCPExpertType) Group() Group {
	switch t {
	case TCPSYNFlood, TCPPortScan:
		return GroupSecurity
	default:
		return GroupSequence
	}
}
