package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Zerofisher/anxun/pkg/model"
)

// Capture file formats recognized by Inspect.
const (
	FormatPcap    = "pcap"
	FormatPcapNG  = "pcapng"
	FormatUnknown = "unknown"
)

// FileInfo describes a capture file without running tshark.
type FileInfo struct {
	Format    string         `json:"format"`
	LinkType  string         `json:"link_type,omitempty"`
	Packets   int            `json:"packets"`
	Transport map[string]int `json:"transport,omitempty"` // tcp / udp / other
	Truncated bool           `json:"truncated,omitempty"`
}

// Inspect identifies the format of path and counts its packets. Empty files
// and files whose header is corrupt are rejected as invalid input. Formats
// other than pcap and pcapng are reported as FormatUnknown and left to
// tshark.
func Inspect(path string) (FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return FileInfo{}, model.Invalidf("文件为空或不是有效的抓包文件")
		}
		return FileInfo{}, fmt.Errorf("read capture header: %w", err)
	}

	var (
		src      packetSource
		info     FileInfo
		linkType layers.LinkType
	)
	switch {
	case binary.BigEndian.Uint32(magic) == 0x0A0D0D0A:
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return FileInfo{}, model.Invalidf("pcapng文件头损坏: %v", err)
		}
		src, linkType, info.Format = r, r.LinkType(), FormatPcapNG
	case isPcapMagic(magic):
		r, err := pcapgo.NewReader(br)
		if err != nil {
			return FileInfo{}, model.Invalidf("pcap文件头损坏: %v", err)
		}
		src, linkType, info.Format = r, r.LinkType(), FormatPcap
	default:
		return FileInfo{Format: FormatUnknown}, nil
	}

	info.LinkType = linkType.String()
	info.Transport = map[string]int{}
	for {
		data, _, err := src.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				info.Truncated = true
			}
			break
		}
		info.Packets++
		info.Transport[transportOf(data, linkType)]++
	}
	return info, nil
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

func isPcapMagic(b []byte) bool {
	switch binary.LittleEndian.Uint32(b) {
	case 0xa1b2c3d4, 0xd4c3b2a1, 0xa1b23c4d, 0x4d3cb2a1:
		return true
	}
	return false
}

func transportOf(data []byte, linkType layers.LinkType) string {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	switch {
	case pkt.Layer(layers.LayerTypeTCP) != nil:
		return "tcp"
	case pkt.Layer(layers.LayerTypeUDP) != nil:
		return "udp"
	default:
		return "other"
	}
}
