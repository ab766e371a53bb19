// Package ffmpeg implements the media stage collaborators on top of the
// ffmpeg and ffprobe command line tools.
//
//   - FrameExtractor: stills evenly spaced between 5% and 95% of the video
//   - ExtractAudio: 16 kHz mono PCM WAV for speech recognition
//   - ThumbnailGenerator: 1280x720 JPEG with a styled caption
//
// Tool failures are reported as services.ErrExternalTool with the tail of
// ffmpeg's stderr; unreadable or streamless inputs as services.ErrValidation.
package ffmpeg
