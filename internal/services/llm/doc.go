// Package llm provides an OpenAI-compatible chat client (OpenRouter by
// default) and the metadata generator built on it.
//
// The metadata generator sends the transcript, the source file name and a
// handful of extracted frames to the configured model and asks for a JSON
// draft: title, description, tags, category and the index of the frame that
// would make the best thumbnail. Drafts are normalised by the stage package
// before they reach job state.
//
// # Configuration
//
// Requires api_key and model, and optionally base_url, referer, title and
// timeout_seconds.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSONWithImages: send prompts (and optional frames), receive JSON.
// Client.HealthCheck: verify API key and model availability.
// NewMetadataGenerator: stage.MetadataGenerator backed by a Client.
//
// # Failures
//
// The client sends exactly one request per call. The stage executor retries
// with a durable attempt counter, so the generator only maps failures onto
// the services error markers: 429 is rate limited, 408 and 5xx are transient,
// 401 and 403 are configuration errors, and other statuses are validation
// errors.
package llm
