package capture

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/Zerofisher/anxun/pkg/model"
)

// FallbackInterface is returned when tshark cannot list interfaces.
var FallbackInterface = model.Interface{
	ID:          "1",
	Device:      "any",
	Name:        "Any available interface",
	DisplayName: "1. Any available interface",
}

// wirelessKeywords select a preferred interface when "any" must be resolved.
var wirelessKeywords = []string{"wlan", "wi-fi", "wireless", "无线", "wifi"}

// ListInterfaces runs tshark -D. It never fails: on error or empty output
// the single FallbackInterface is returned.
func (i *Invoker) ListInterfaces(ctx context.Context) []model.Interface {
	var out bytes.Buffer
	if !i.run(ctx, []string{"-D"}, &out) {
		return []model.Interface{FallbackInterface}
	}

	ifaces := ParseInterfaces(out.String())
	if len(ifaces) == 0 {
		i.logger.LogWarn("tshark listed no interfaces", nil)
		return []model.Interface{FallbackInterface}
	}
	i.logger.LogInfo("found network interfaces", map[string]string{"count": strconv.Itoa(len(ifaces))})
	return ifaces
}

// ParseInterfaces parses tshark -D output, e.g.
//
//	1. \Device\NPF_{GUID} (WLAN)
//	2. eth0
//
// Lines without a space after the id are skipped.
func ParseInterfaces(output string) []model.Interface {
	var ifaces []model.Interface
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, info, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		id = strings.TrimRight(id, ".")

		device, name := info, info
		if strings.Contains(info, "(") && strings.Contains(info, ")") {
			name = strings.TrimRight(info[strings.LastIndex(info, "(")+1:], ")")
			device = strings.TrimSpace(info[:strings.Index(info, "(")])
		}

		ifaces = append(ifaces, model.Interface{
			ID:          id,
			Device:      device,
			Name:        name,
			DisplayName: id + ". " + name,
		})
	}
	return ifaces
}

// resolveInterface maps "any" to a concrete interface id where the platform
// requires one, preferring wireless interfaces.
func (i *Invoker) resolveInterface(ctx context.Context, requested string) string {
	if requested != "any" || !i.explicitInterface {
		return requested
	}

	ifaces := i.ListInterfaces(ctx)
	if len(ifaces) == 0 {
		return requested
	}
	for _, iface := range ifaces {
		name := strings.ToLower(iface.Name)
		for _, kw := range wirelessKeywords {
			if strings.Contains(name, kw) {
				i.logger.LogInfo("using WLAN interface", map[string]string{"id": iface.ID, "name": iface.Name})
				return iface.ID
			}
		}
	}
	i.logger.LogInfo("using first available interface", map[string]string{"id": ifaces[0].ID})
	return ifaces[0].ID
}
