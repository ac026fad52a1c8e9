// Package filter provides display filter functionality using expr-lang/expr
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Zerofisher/anxun/pkg/model"
)

// PacketEnv is the environment for expression evaluation
// It maps Wireshark-like field names to record data
type PacketEnv struct {
	// Frame fields
	Frame struct {
		Number    int     `expr:"number"`
		Len       int     `expr:"len"`
		TimeEpoch float64 `expr:"time_epoch"`
		Protocols string  `expr:"protocols"`
		Marked    bool    `expr:"marked"`
	} `expr:"frame"`

	// Ethernet fields
	Eth struct {
		Src  string `expr:"src"`
		Dst  string `expr:"dst"`
		Type string `expr:"type"`
	} `expr:"eth"`

	// IP fields
	IP struct {
		Src     string `expr:"src"`
		Dst     string `expr:"dst"`
		Proto   int    `expr:"proto"`
		TTL     int    `expr:"ttl"`
		Len     int    `expr:"len"`
		Version int    `expr:"version"`
	} `expr:"ip"`

	// TCP fields
	TCP struct {
		SrcPort uint16 `expr:"srcport"`
		DstPort uint16 `expr:"dstport"`
		Seq     uint32 `expr:"seq"`
		Ack     uint32 `expr:"ack"`
		Flags   struct {
			Syn bool   `expr:"syn"`
			Ack bool   `expr:"ack"`
			Fin bool   `expr:"fin"`
			Rst bool   `expr:"reset"`
			Psh bool   `expr:"push"`
			Urg bool   `expr:"urg"`
			Str string `expr:"str"`
		} `expr:"flags"`
		Len        int    `expr:"len"`
		Stream     int    `expr:"stream"`
		WindowSize int    `expr:"window_size"`
		Payload    string `expr:"payload"`
	} `expr:"tcp"`

	// UDP fields
	UDP struct {
		SrcPort uint16 `expr:"srcport"`
		DstPort uint16 `expr:"dstport"`
		Length  int    `expr:"length"`
		Stream  int    `expr:"stream"`
	} `expr:"udp"`

	// Data fields
	Data struct {
		Len int `expr:"len"`
	} `expr:"data"`

	// Protocol flags (for simple protocol filtering like "tcp", "udp", "dns")
	IsTCP  bool `expr:"is_tcp"`
	IsUDP  bool `expr:"is_udp"`
	IsDNS  bool `expr:"is_dns"`
	IsHTTP bool `expr:"is_http"`
	IsTLS  bool `expr:"is_tls"`
	IsICMP bool `expr:"is_icmp"`
	IsARP  bool `expr:"is_arp"`
}

// Filter is a compiled display filter.
type Filter struct {
	source  string
	program *vm.Program
}

// Compile compiles a display filter expression
func Compile(filterStr string) (*Filter, error) {
	// Preprocess the filter to handle Wireshark-style syntax
	processed := preprocessFilter(filterStr)

	program, err := expr.Compile(processed, expr.Env(PacketEnv{}), expr.AsBool())
	if err != nil {
		return nil, model.Invalidf("无效的过滤表达式 '%s': %v", filterStr, err)
	}
	return &Filter{source: filterStr, program: program}, nil
}

// String returns the filter as written.
func (f *Filter) String() string {
	return f.source
}

// Match evaluates the filter against one record. Evaluation errors count
// as no match.
func (f *Filter) Match(rec model.PacketRecord) bool {
	result, err := expr.Run(f.program, RecordToEnv(rec))
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

// Apply returns the records that match, in order.
func (f *Filter) Apply(records []model.PacketRecord) []model.PacketRecord {
	out := make([]model.PacketRecord, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

var protocolMap = map[string]string{
	"tcp":  "is_tcp",
	"udp":  "is_udp",
	"dns":  "is_dns",
	"http": "is_http",
	"tls":  "is_tls",
	"icmp": "is_icmp",
	"arp":  "is_arp",
}

// either-side fields expand into an or over their two concrete fields.
var eitherFields = map[string][2]string{
	"tcp.port": {"tcp.srcport", "tcp.dstport"},
	"udp.port": {"udp.srcport", "udp.dstport"},
	"ip.addr":  {"ip.src", "ip.dst"},
	"eth.addr": {"eth.src", "eth.dst"},
}

// preprocessFilter converts Wireshark-style filter syntax to expr syntax
func preprocessFilter(filter string) string {
	words := tokenizeFilter(filter)

	// Replace standalone protocol names (not part of field names like tcp.port)
	for i, word := range words {
		replacement, ok := protocolMap[strings.ToLower(word)]
		if !ok {
			continue
		}
		if (i+1 >= len(words) || words[i+1] != ".") && (i == 0 || words[i-1] != ".") {
			words[i] = replacement
		}
	}
	filter = strings.Join(words, "")

	filter = expandEither(filter)

	// Handle "in {x, y, z}" syntax - convert to "in [x, y, z]"
	filter = strings.ReplaceAll(filter, "{", "[")
	filter = strings.ReplaceAll(filter, "}", "]")

	return filter
}

// tokenizeFilter breaks a filter string into tokens while preserving structure
func tokenizeFilter(filter string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, ch := range filter {
		if inQuote {
			current.WriteRune(ch)
			if ch == '"' {
				inQuote = false
				flush()
			}
			continue
		}
		switch ch {
		case '"':
			flush()
			inQuote = true
			current.WriteRune(ch)
		case ' ', '\t', '\n':
			flush()
			tokens = append(tokens, string(ch))
		case '.', '(', ')', '[', ']', '{', '}', ',', '!':
			flush()
			tokens = append(tokens, string(ch))
		case '=', '>', '<', '&', '|':
			if current.Len() > 0 && !isOperator(current.String()) {
				flush()
			}
			current.WriteRune(ch)
		default:
			// Check if current is an operator and we're starting a new token
			if current.Len() > 0 && isOperator(current.String()) {
				flush()
			}
			current.WriteRune(ch)
		}
	}
	flush()

	return tokens
}

func isOperator(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", ">", "<", "&&", "||", "=", "!":
		return true
	}
	return false
}

var eitherPattern = regexp.MustCompile(`(^|[^\w.])([a-z]+\.(?:port|addr))\s*(==|!=)\s*("[^"]*"|[\w.:]+)`)

// expandEither rewrites "tcp.port == v" style comparisons into comparisons on
// both concrete fields. Address literals are quoted when written bare.
func expandEither(filter string) string {
	return eitherPattern.ReplaceAllStringFunc(filter, func(m string) string {
		sub := eitherPattern.FindStringSubmatch(m)
		pair, ok := eitherFields[sub[2]]
		if !ok {
			return m
		}
		op, value := sub[3], sub[4]
		if !strings.HasPrefix(value, "\"") {
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				value = strconv.Quote(value)
			}
		}
		join := "or"
		if op == "!=" {
			join = "and"
		}
		return fmt.Sprintf("%s(%s %s %s %s %s %s %s)", sub[1], pair[0], op, value, join, pair[1], op, value)
	})
}

// RecordToEnv converts a PacketRecord to a PacketEnv for expression evaluation
func RecordToEnv(rec model.PacketRecord) PacketEnv {
	env := PacketEnv{}
	get := func(name string) string {
		v, _ := rec.Get(name)
		return v
	}

	// Frame fields
	env.Frame.Number = parseInt(get("frame.number"))
	env.Frame.Len = parseInt(get("frame.len"))
	env.Frame.TimeEpoch, _ = strconv.ParseFloat(get("frame.time_epoch"), 64)
	env.Frame.Protocols = get("frame.protocols")
	env.Frame.Marked = parseBool(get("frame.marked"))

	// Ethernet fields
	env.Eth.Src = get("eth.src")
	env.Eth.Dst = get("eth.dst")
	env.Eth.Type = get("eth.type")

	// IP fields
	env.IP.Src = get("ip.src")
	env.IP.Dst = get("ip.dst")
	env.IP.Proto = parseInt(get("ip.proto"))
	env.IP.TTL = parseInt(get("ip.ttl"))
	env.IP.Len = parseInt(get("ip.len"))
	env.IP.Version = parseInt(get("ip.version"))

	// TCP fields
	env.TCP.SrcPort = parsePort16(get("tcp.srcport"))
	env.TCP.DstPort = parsePort16(get("tcp.dstport"))
	env.TCP.Seq = uint32(parseInt(get("tcp.seq")))
	env.TCP.Ack = uint32(parseInt(get("tcp.ack")))
	env.TCP.Flags.Syn = parseBool(get("tcp.flags.syn"))
	env.TCP.Flags.Ack = parseBool(get("tcp.flags.ack"))
	env.TCP.Flags.Fin = parseBool(get("tcp.flags.fin"))
	env.TCP.Flags.Rst = parseBool(get("tcp.flags.reset"))
	env.TCP.Flags.Psh = parseBool(get("tcp.flags.push"))
	env.TCP.Flags.Urg = parseBool(get("tcp.flags.urg"))
	env.TCP.Flags.Str = get("tcp.flags.str")
	env.TCP.Len = parseInt(get("tcp.len"))
	env.TCP.Stream = parseInt(get("tcp.stream"))
	env.TCP.WindowSize = parseInt(get("tcp.window_size"))
	env.TCP.Payload = get("tcp.payload")

	// UDP fields
	env.UDP.SrcPort = parsePort16(get("udp.srcport"))
	env.UDP.DstPort = parsePort16(get("udp.dstport"))
	env.UDP.Length = parseInt(get("udp.length"))
	env.UDP.Stream = parseInt(get("udp.stream"))

	env.Data.Len = parseInt(get("data.len"))

	// Protocol flags come from the frame's protocol stack, falling back to
	// the presence of transport fields.
	stack := strings.Split(strings.ToLower(env.Frame.Protocols), ":")
	has := func(p string) bool {
		for _, s := range stack {
			if s == p {
				return true
			}
		}
		return false
	}
	_, tcpPort := rec.Get("tcp.srcport")
	_, udpPort := rec.Get("udp.srcport")
	env.IsTCP = has("tcp") || tcpPort
	env.IsUDP = has("udp") || udpPort
	env.IsDNS = has("dns") || has("mdns")
	env.IsHTTP = has("http") || has("http2")
	env.IsTLS = has("tls") || has("ssl")
	env.IsICMP = has("icmp") || has("icmpv6")
	env.IsARP = has("arp")

	return env
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	if strings.HasPrefix(s, "0x") {
		v, _ := strconv.ParseInt(s[2:], 16, 64)
		return int(v)
	}
	v, _ := strconv.Atoi(s)
	return v
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "set":
		return true
	}
	return false
}

func parsePort16(s string) uint16 {
	v, _ := strconv.ParseUint(s, 10, 16)
	return uint16(v)
}
