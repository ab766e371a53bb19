// Package youtube implements stage.UploadService with the YouTube Data API
// v3 and an OAuth installed-app token.
//
// Every upload carries a marker tag derived from the job id
// ("vidpilot-<id prefix>"). FindExisting scans the channel's recent uploads
// for that tag so a job whose upload outcome was lost is not published
// twice.
//
// Authorize runs the one-time browser consent flow used by
// "vidpilot auth youtube" and stores the token next to the configuration.
package youtube
