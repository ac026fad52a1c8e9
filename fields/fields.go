// Package fields holds the canonical tshark field projection and the record
// normalizer that turns tshark's tab-separated output into PacketRecords.
package fields

import (
	"strings"
)

// FieldDef describes one projected tshark field
type FieldDef struct {
	Name        string // tshark field name (e.g., "tcp.srcport")
	Description string // Human-readable description
}

// canonical is the fixed projection requested from tshark. Its order defines
// PacketRecord field order; do not reorder.
var canonical = []FieldDef{
	// Frame
	{"frame.encap_type", "Encapsulation type"},
	{"frame.time", "Arrival time"},
	{"frame.offset_shift", "Time shift for this packet"},
	{"frame.time_epoch", "Epoch arrival time"},
	{"frame.time_delta", "Time delta from previous captured frame"},
	{"frame.time_relative", "Time since reference or first frame"},
	{"frame.number", "Frame number"},
	{"frame.len", "Frame length on the wire"},
	{"frame.marked", "Frame is marked"},
	{"frame.protocols", "Protocols in frame"},

	// Ethernet
	{"eth.dst", "Destination MAC"},
	{"eth.dst_resolved", "Destination MAC (resolved)"},
	{"eth.src", "Source MAC"},
	{"eth.src_resolved", "Source MAC (resolved)"},
	{"eth.type", "EtherType"},

	// IPv4
	{"ip.version", "IP version"},
	{"ip.hdr_len", "Header length"},
	{"ip.dsfield", "Differentiated services field"},
	{"ip.dsfield.dscp", "DSCP"},
	{"ip.len", "Total length"},
	{"ip.id", "Identification"},
	{"ip.flags", "Flags"},
	{"ip.flags.rb", "Reserved bit"},
	{"ip.flags.df", "Don't fragment"},
	{"ip.flags.mf", "More fragments"},
	{"ip.frag_offset", "Fragment offset"},
	{"ip.ttl", "Time to live"},
	{"ip.proto", "Protocol"},
	{"ip.checksum", "Header checksum"},
	{"ip.checksum.status", "Header checksum status"},
	{"ip.src", "Source address"},
	{"ip.dst", "Destination address"},

	// TCP
	{"tcp.srcport", "Source port"},
	{"tcp.dstport", "Destination port"},
	{"tcp.stream", "Stream index"},
	{"tcp.len", "TCP segment length"},
	{"tcp.seq", "Sequence number (relative)"},
	{"tcp.nxtseq", "Next sequence number"},
	{"tcp.ack", "Acknowledgment number (relative)"},
	{"tcp.hdr_len", "Header length"},
	{"tcp.flags", "Flags"},
	{"tcp.flags.res", "Reserved"},
	{"tcp.flags.cwr", "Congestion window reduced"},
	{"tcp.flags.urg", "Urgent"},
	{"tcp.flags.ack", "Acknowledgment"},
	{"tcp.flags.push", "Push"},
	{"tcp.flags.reset", "Reset"},
	{"tcp.flags.syn", "Syn"},
	{"tcp.flags.fin", "Fin"},
	{"tcp.flags.str", "TCP flags as string"},
	{"tcp.window_size", "Calculated window size"},
	{"tcp.window_size_scalefactor", "Window size scaling factor"},
	{"tcp.checksum", "Checksum"},
	{"tcp.checksum.status", "Checksum status"},
	{"tcp.urgent_pointer", "Urgent pointer"},
	{"tcp.time_relative", "Time since first frame in this stream"},
	{"tcp.time_delta", "Time since previous frame in this stream"},
	{"tcp.analysis.bytes_in_flight", "Bytes in flight"},
	{"tcp.analysis.push_bytes_sent", "Bytes sent since last PSH flag"},
	{"tcp.segment", "Reassembled segment frames"},
	{"tcp.segment.count", "Segment count"},
	{"tcp.reassembled.length", "Reassembled TCP length"},
	{"tcp.payload", "TCP payload (hex)"},

	// UDP
	{"udp.srcport", "Source port"},
	{"udp.dstport", "Destination port"},
	{"udp.length", "Length"},
	{"udp.checksum", "Checksum"},
	{"udp.checksum.status", "Checksum status"},
	{"udp.stream", "Stream index"},

	// Data
	{"data.len", "Data length"},
}

// Field names with special handling during normalization.
const (
	FieldPayload  = "tcp.payload"
	FieldFlagsStr = "tcp.flags.str"
)

// DisplayFilter restricts file parsing to transport-layer frames.
const DisplayFilter = "tcp or udp"

// Canonical returns the canonical field names in projection order.
func Canonical() []string {
	names := make([]string, len(canonical))
	for i, f := range canonical {
		names[i] = f.Name
	}
	return names
}

// Registry indexes the canonical fields by name
type Registry struct {
	fields map[string]*FieldDef
	order  []string
}

// NewRegistry creates a registry holding the canonical projection
func NewRegistry() *Registry {
	r := &Registry{fields: make(map[string]*FieldDef, len(canonical))}
	for i := range canonical {
		f := canonical[i]
		r.fields[f.Name] = &f
		r.order = append(r.order, f.Name)
	}
	return r
}

// Get returns a field definition by name
func (r *Registry) Get(name string) *FieldDef {
	return r.fields[name]
}

// List returns all field names in canonical order
func (r *Registry) List() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ListByPrefix returns field names matching a prefix, in canonical order
func (r *Registry) ListByPrefix(prefix string) []string {
	var names []string
	for _, name := range r.order {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names
}

// GetFieldInfo returns a formatted info line for a field
func (r *Registry) GetFieldInfo(name string) string {
	f := r.fields[name]
	if f == nil {
		return ""
	}
	return padRight(f.Name, 32) + f.Description
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s + " "
	}
	return s + strings.Repeat(" ", n-len(s))
}

// TsharkArgs returns the "-e <field>" argument list for the projection.
func TsharkArgs() []string {
	args := make([]string, 0, 2*len(canonical))
	for _, f := range canonical {
		args = append(args, "-e", f.Name)
	}
	return args
}
