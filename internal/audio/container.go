package audio

import "strings"

// Container identifies the container format of a received audio fragment.
// The hint comes from the client's MIME type and drives the on-disk file
// extension and the stitcher's demuxer selection.
type Container string

const (
	ContainerWebMOpus Container = "webm-opus"
	ContainerOggOpus  Container = "ogg-opus"
	ContainerMP3      Container = "mp3"
	ContainerMP4      Container = "mp4"
	ContainerAAC      Container = "aac"
	ContainerFLAC     Container = "flac"
	ContainerWAV      Container = "wav"
)

// ContainerFromMIME maps a client-supplied MIME type to a container hint.
// Browser recorders report types like "audio/webm;codecs=opus"; the codec
// suffix is ignored. Unknown types default to WebM-Opus, the format every
// major browser recorder emits.
func ContainerFromMIME(mimeType string) Container {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	switch mt {
	case "audio/webm", "video/webm":
		return ContainerWebMOpus
	case "audio/ogg", "application/ogg", "audio/opus":
		return ContainerOggOpus
	case "audio/mpeg", "audio/mp3":
		return ContainerMP3
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "video/mp4":
		return ContainerMP4
	case "audio/aac", "audio/aacp":
		return ContainerAAC
	case "audio/flac", "audio/x-flac":
		return ContainerFLAC
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ContainerWAV
	default:
		return ContainerWebMOpus
	}
}

// ContainerFromExt maps a persisted fragment's file extension back to its
// container hint; used when rebuilding session state from disk.
func ContainerFromExt(ext string) Container {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "webm":
		return ContainerWebMOpus
	case "ogg", "opus":
		return ContainerOggOpus
	case "mp3":
		return ContainerMP3
	case "m4a", "mp4":
		return ContainerMP4
	case "aac":
		return ContainerAAC
	case "flac":
		return ContainerFLAC
	case "wav":
		return ContainerWAV
	default:
		return ContainerWebMOpus
	}
}

// Ext returns the file extension used when persisting a fragment
func (c Container) Ext() string {
	switch c {
	case ContainerWebMOpus:
		return "webm"
	case ContainerOggOpus:
		return "ogg"
	case ContainerMP3:
		return "mp3"
	case ContainerMP4:
		return "m4a"
	case ContainerAAC:
		return "aac"
	case ContainerFLAC:
		return "flac"
	case ContainerWAV:
		return "wav"
	default:
		return "bin"
	}
}

// MIME returns the canonical MIME type for the container
func (c Container) MIME() string {
	switch c {
	case ContainerWebMOpus:
		return "audio/webm"
	case ContainerOggOpus:
		return "audio/ogg"
	case ContainerMP3:
		return "audio/mpeg"
	case ContainerMP4:
		return "audio/mp4"
	case ContainerAAC:
		return "audio/aac"
	case ContainerFLAC:
		return "audio/flac"
	case ContainerWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// DemuxerName returns the ffmpeg input format name for the container
func (c Container) DemuxerName() string {
	switch c {
	case ContainerWebMOpus:
		return "webm"
	case ContainerOggOpus:
		return "ogg"
	case ContainerMP3:
		return "mp3"
	case ContainerMP4:
		return "mp4"
	case ContainerAAC:
		return "aac"
	case ContainerFLAC:
		return "flac"
	case ContainerWAV:
		return "wav"
	default:
		return "matroska"
	}
}

// IsFragmented reports whether fragments of this container share header
// state across fragment boundaries. WebM carries its EBML header only in
// the first recorder fragment, so later fragments are not independently
// decodable and byte concatenation of arbitrary subsets fails.
func (c Container) IsFragmented() bool {
	return c == ContainerWebMOpus
}
