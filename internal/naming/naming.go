// Package naming computes deterministic output paths for shard blobs.
package naming

import (
	"fmt"
	"strings"

	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Namer builds blob paths of the form
//
//	{prefix}{window_start}/{filename_prefix}-{shard:05d}-of-{count:05d}{ext}
//
// The path is a pure function of its inputs: re-emitting a shard after a
// crash resolves to the same path and overwrites rather than duplicating.
type Namer struct {
	prefix         string
	filenamePrefix string
}

// windowStartLayout keeps paths free of characters that are awkward in
// object keys (colons in particular).
const windowStartLayout = "2006-01-02T15-04-05"

// New creates a namer. The prefix must end in a path separator; the config
// loader enforces this. An empty filename prefix defaults to "output".
func New(prefix, filenamePrefix string) *Namer {
	if filenamePrefix == "" {
		filenamePrefix = "output"
	}
	return &Namer{prefix: prefix, filenamePrefix: filenamePrefix}
}

// Path returns the final blob path for one shard of a window.
func (n *Namer) Path(id record.WindowID, shardIndex, shardCount int, extension string) string {
	return fmt.Sprintf("%s%s/%s-%05d-of-%05d%s",
		n.prefix,
		id.Start.UTC().Format(windowStartLayout),
		n.filenamePrefix,
		shardIndex,
		shardCount,
		extension,
	)
}

// TempPath returns the staging path used before an atomic finalize. It lives
// beside the final path under a dotted prefix so incomplete writes are never
// mistaken for output.
func (n *Namer) TempPath(id record.WindowID, shardIndex, shardCount int, extension string) string {
	final := n.Path(id, shardIndex, shardCount, extension)
	dir, file := splitPath(final)
	return dir + ".tmp-" + file
}

// OutputFile builds the OutputFile descriptor for a shard.
func (n *Namer) OutputFile(id record.WindowID, format record.FileFormat, shardIndex, shardCount int, extension string) record.OutputFile {
	return record.OutputFile{
		Path:       n.Path(id, shardIndex, shardCount, extension),
		Format:     format,
		Window:     id,
		ShardIndex: shardIndex,
		ShardCount: shardCount,
	}
}

func splitPath(p string) (dir, file string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i+1], p[i+1:]
}
