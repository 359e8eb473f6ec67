package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/renameio/v2"
)

// MasterPlaylistName is the file name of the master playlist inside an asset's tree.
const MasterPlaylistName = "master.m3u8"

// ErrEmptyPlaylist is returned when asked to write a master playlist without variants.
var ErrEmptyPlaylist = errors.New("master playlist has no variants")

// BuildMasterPlaylist renders entries, in the given order, as an HLS master playlist.
func BuildMasterPlaylist(entries []StreamEntry) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,NAME=%q,CODECS=%q\n",
			e.Bandwidth, e.Resolution, e.Name, e.Codecs))
		b.WriteString(e.URI)
		b.WriteString("\n")
	}

	return b.String()
}

// WriteMasterPlaylist writes the playlist to path atomically: readers see
// either no file or the complete document.
func WriteMasterPlaylist(path string, entries []StreamEntry) error {
	if len(entries) == 0 {
		return ErrEmptyPlaylist
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending master playlist: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.WriteString(BuildMasterPlaylist(entries)); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace master playlist: %w", err)
	}
	return nil
}
