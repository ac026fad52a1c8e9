package capture

import (
	"context"
	"io"
	"os"
	"strconv"

	"github.com/Zerofisher/anxun/fields"
	"github.com/Zerofisher/anxun/pkg/model"
)

// ParseFile projects the canonical field list out of a capture file and
// normalizes the first lines of output into records. Tool failures yield an
// empty slice.
func (i *Invoker) ParseFile(ctx context.Context, path string) []model.PacketRecord {
	records := []model.PacketRecord{}

	tmp, cleanup, err := i.tempFile("anxun_fields_*.txt")
	if err != nil {
		i.logger.LogError("failed to create temp output file", map[string]string{"error": err.Error()})
		return records
	}
	defer cleanup()

	out, err := os.OpenFile(tmp, os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		i.logger.LogError("failed to open temp output file", map[string]string{"error": err.Error()})
		return records
	}
	defer out.Close()

	args := []string{"-r", path}
	args = append(args, fields.TsharkArgs()...)
	args = append(args, "-T", "fields", "-Y", fields.DisplayFilter)

	i.logger.LogInfo("running tshark field projection", map[string]string{"file": path})
	if !i.run(ctx, args, out) {
		return records
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		i.logger.LogError("failed to rewind temp output file", map[string]string{"error": err.Error()})
		return records
	}
	parsed, err := i.normalizer.Lines(out)
	if err != nil {
		// Keep what was read before the failure.
		i.logger.LogWarn("tshark output read incomplete", map[string]string{"error": err.Error()})
	}
	if parsed != nil {
		records = parsed
	}
	i.logger.LogInfo("processed packets", map[string]string{"count": strconv.Itoa(len(records))})
	return records
}
