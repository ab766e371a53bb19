// Package whisper implements stage.Transcriber with the openai-whisper
// command line tool.
//
// The transcriber extracts the best speech track to a 16 kHz mono WAV,
// runs whisper with JSON output, and converts the result into a
// stage.TranscriptResult. Sources without audio produce an empty
// transcript rather than an error.
package whisper
