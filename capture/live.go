package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/Zerofisher/anxun/pkg/model"
)

// CaptureLive runs a bounded capture and summarizes the captured packets.
// The only error returned is a validation error; tool failures and empty
// captures yield an empty slice.
func (i *Invoker) CaptureLive(ctx context.Context, req model.CaptureRequest) ([]model.CapturedPacketSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	packets := []model.CapturedPacketSummary{}

	iface := i.resolveInterface(ctx, req.Interface)
	maxPackets := min(req.PacketCount, model.MaxCapturePackets)

	tmp, cleanup, err := i.tempFile("anxun_capture_*.pcap")
	if err != nil {
		i.logger.LogError("failed to create capture file", map[string]string{"error": err.Error()})
		return packets, nil
	}
	defer cleanup()

	i.logger.LogInfo("starting live capture", map[string]string{
		"interface": iface,
		"duration":  strconv.Itoa(req.Duration),
		"packets":   strconv.Itoa(maxPackets),
	})
	args := []string{
		"-i", iface,
		"-a", "duration:" + strconv.Itoa(req.Duration),
		"-c", strconv.Itoa(maxPackets),
		"-w", tmp,
	}
	if !i.run(ctx, args, nil) {
		return packets, nil
	}

	if info, err := os.Stat(tmp); err != nil || info.Size() == 0 {
		i.logger.LogWarn("no packets captured or file is empty", map[string]string{"path": tmp})
		return packets, nil
	}

	var dump bytes.Buffer
	if !i.run(ctx, []string{"-r", tmp, "-T", "json"}, &dump) {
		return packets, nil
	}
	packets, err = ParseJSONDump(dump.Bytes())
	if err != nil {
		i.logger.LogError("failed to parse tshark JSON output", map[string]string{"error": err.Error()})
		return []model.CapturedPacketSummary{}, nil
	}

	if len(packets) == 0 {
		i.logger.LogWarn("no packets were successfully processed", nil)
		return packets, nil
	}
	if i.sink != nil {
		path, err := i.sink.SaveLiveCapture(packets)
		if err != nil {
			i.logger.LogWarn("failed to save live capture", map[string]string{"error": err.Error()})
		} else {
			i.logger.LogInfo("live capture saved", map[string]string{"path": path, "packets": strconv.Itoa(len(packets))})
		}
	}
	return packets, nil
}

// dumpPacket is one element of tshark -T json output.
type dumpPacket struct {
	Source struct {
		Layers map[string]json.RawMessage `json:"layers"`
	} `json:"_source"`
}

// ParseJSONDump converts tshark -T json output into summaries. Packets whose
// layers cannot be read are skipped.
func ParseJSONDump(data []byte) ([]model.CapturedPacketSummary, error) {
	packets := []model.CapturedPacketSummary{}
	if len(bytes.TrimSpace(data)) == 0 {
		return packets, nil
	}

	var dump []dumpPacket
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, err
	}
	for _, p := range dump {
		layers := p.Source.Layers
		frame := layer(layers, "frame")
		ip := layer(layers, "ip")
		tcp := layer(layers, "tcp")
		udp := layer(layers, "udp")

		packets = append(packets, model.CapturedPacketSummary{
			Timestamp: value(frame, "frame.time"),
			Protocol:  value(frame, "frame.protocols"),
			Length:    value(frame, "frame.len"),
			SrcIP:     value(ip, "ip.src"),
			DstIP:     value(ip, "ip.dst"),
			SrcPort:   port(tcp, "tcp.srcport", udp, "udp.srcport"),
			DstPort:   port(tcp, "tcp.dstport", udp, "udp.dstport"),
		})
	}
	return packets, nil
}

// layer decodes one protocol layer as a field map. A missing or malformed
// layer yields nil.
func layer(layers map[string]json.RawMessage, name string) map[string]json.RawMessage {
	raw, ok := layers[name]
	if !ok {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Tunnelled packets repeat a layer as an array; use the outermost.
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return fields
}

// value returns a field as text, or NotAvailable.
func value(fields map[string]json.RawMessage, key string) string {
	if v := lookup(fields, key); v != "" {
		return v
	}
	return model.NotAvailable
}

// port prefers the TCP field and falls back to UDP.
func port(tcp map[string]json.RawMessage, tcpKey string, udp map[string]json.RawMessage, udpKey string) string {
	if v := lookup(tcp, tcpKey); v != "" {
		return v
	}
	return value(udp, udpKey)
}

func lookup(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
