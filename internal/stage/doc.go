// Package stage defines the fixed pipeline stages, the result contract of each
// external collaborator, and the normalisation applied to collaborator output
// before it is persisted on a job.
//
// Collaborators (ffmpeg, whisper, the LLM, the thumbnail renderer) return
// these types and nothing else; provider-specific shapes stop at the adapter.
package stage
