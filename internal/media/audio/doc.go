// Package audio picks the audio stream to transcribe from a video file.
//
// Phone and camera recordings usually carry a single track, but screen
// recordings and edited exports can carry several (microphone, system
// audio, music, commentary). The selection prefers, in order:
//  1. A track in the configured transcription language
//  2. The container's default track
//  3. Tracks whose title suggests speech over music or system audio
//  4. Earlier tracks
//
// Key types:
//   - Selection: the chosen stream and its ordinal among audio streams
//
// Primary entry point:
//   - SelectForSpeech: ranks audio streams and returns the best candidate
package audio
