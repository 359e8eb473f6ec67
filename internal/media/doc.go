// Package media wraps the external ffprobe and ffmpeg binaries.
//
// Both are treated as black boxes: FFprobe reports the pixel dimensions of a
// source's primary video stream, and FFmpeg turns a declarative EncodeOptions
// value into one HLS rendition on disk. Binary paths are passed to the
// constructors so concurrent runs never share mutable process state.
package media
