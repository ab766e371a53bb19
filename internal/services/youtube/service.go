package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"vidpilot/internal/config"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
	"vidpilot/internal/textutil"
)

const (
	markerPrefix   = "vidpilot-"
	markerIDLength = 12
	uploadChunk    = 8 * 1024 * 1024
	// recentUploads bounds FindExisting to the newest page of the channel.
	recentUploads = 50
	watchURLBase  = "https://youtu.be/"
)

// MarkerTag returns the tag that ties an upload to its job.
func MarkerTag(jobID string) string {
	return markerPrefix + textutil.ShortID(jobID, markerIDLength)
}

// VideoURL returns the short watch URL for a video id.
func VideoURL(videoID string) string {
	return watchURLBase + videoID
}

// Service uploads videos to one channel.
type Service struct {
	api            *yt.Service
	channelID      string
	defaultPrivacy string
	categoryID     string
	notify         bool
	logger         *slog.Logger
}

// NewService builds an uploader for the authorized account. Additional
// client options are appended after the authorized HTTP client, so tests can
// point the service at a fake endpoint.
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...option.ClientOption) (*Service, error) {
	if len(opts) == 0 {
		client, err := HTTPClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = []option.ClientOption{option.WithHTTPClient(client)}
	}
	api, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stage.Upload, "create client", "youtube api client", err)
	}
	return &Service{
		api:            api,
		channelID:      strings.TrimSpace(cfg.YouTube.ChannelID),
		defaultPrivacy: cfg.YouTube.DefaultPrivacy,
		categoryID:     cfg.YouTube.CategoryID,
		notify:         cfg.YouTube.NotifySubscribers,
		logger:         logging.NewComponentLogger(logger, "youtube"),
	}, nil
}

// Upload implements stage.UploadService.
func (s *Service) Upload(ctx context.Context, req stage.UploadRequest) (stage.UploadResult, error) {
	file, err := os.Open(req.VideoPath)
	if err != nil {
		return stage.UploadResult{}, services.Wrap(services.ErrValidation, stage.Upload, "open video", req.VideoPath, err)
	}
	defer file.Close()

	privacy := req.Privacy
	if privacy == "" {
		privacy = s.defaultPrivacy
	}
	category := req.CategoryID
	if category == "" {
		category = s.categoryID
	}
	tags := append(slices.Clone(req.Tags), MarkerTag(req.JobID))
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       req.Title,
			Description: req.Description,
			Tags:        tags,
			CategoryId:  category,
		},
		Status: &yt.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	logger := logging.WithContext(ctx, s.logger)
	logger.Info("uploading video",
		logging.String(logging.FieldEventType, "youtube_upload_started"),
		logging.String("title", req.Title),
		logging.String("privacy", privacy),
	)
	uploaded, err := s.api.Videos.Insert([]string{"snippet", "status"}, video).
		NotifySubscribers(s.notify).
		Media(file, googleapi.ChunkSize(uploadChunk)).
		Context(ctx).
		Do()
	if err != nil {
		return stage.UploadResult{}, classify("insert video", err)
	}

	if req.ThumbnailPath != "" {
		if err := s.setThumbnail(ctx, uploaded.Id, req.ThumbnailPath); err != nil {
			// The video is live; losing the custom thumbnail is not worth a
			// failed job.
			logging.WarnWithContext(logger, "thumbnail upload failed", "youtube_thumbnail_failed",
				logging.String(logging.FieldImpact, "video published with the auto-generated thumbnail"),
				logging.String(logging.FieldErrorHint, "custom thumbnails require a verified channel"),
				logging.String("video_id", uploaded.Id),
				logging.Error(err),
			)
		}
	}
	return stage.UploadResult{VideoID: uploaded.Id, VideoURL: VideoURL(uploaded.Id)}, nil
}

func (s *Service) setThumbnail(ctx context.Context, videoID, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = s.api.Thumbnails.Set(videoID).Media(file).Context(ctx).Do()
	return err
}

// FindExisting implements stage.UploadService by scanning the channel's
// newest uploads for the job's marker tag.
func (s *Service) FindExisting(ctx context.Context, jobID string) (stage.UploadResult, bool, error) {
	playlist, err := s.uploadsPlaylist(ctx)
	if err != nil {
		return stage.UploadResult{}, false, err
	}
	items, err := s.api.PlaylistItems.List([]string{"contentDetails"}).
		PlaylistId(playlist).
		MaxResults(recentUploads).
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			// A channel without uploads has no uploads playlist yet.
			return stage.UploadResult{}, false, nil
		}
		return stage.UploadResult{}, false, classify("list uploads", err)
	}
	ids := make([]string, 0, len(items.Items))
	for _, item := range items.Items {
		if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
			ids = append(ids, item.ContentDetails.VideoId)
		}
	}
	if len(ids) == 0 {
		return stage.UploadResult{}, false, nil
	}
	videos, err := s.api.Videos.List([]string{"snippet"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		return stage.UploadResult{}, false, classify("list videos", err)
	}
	marker := MarkerTag(jobID)
	for _, video := range videos.Items {
		if video.Snippet != nil && slices.Contains(video.Snippet.Tags, marker) {
			return stage.UploadResult{VideoID: video.Id, VideoURL: VideoURL(video.Id)}, true, nil
		}
	}
	return stage.UploadResult{}, false, nil
}

func (s *Service) uploadsPlaylist(ctx context.Context) (string, error) {
	call := s.api.Channels.List([]string{"contentDetails"}).Context(ctx)
	if s.channelID != "" {
		call = call.Id(s.channelID)
	} else {
		call = call.Mine(true)
	}
	resp, err := call.Do()
	if err != nil {
		return "", classify("resolve channel", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil || resp.Items[0].ContentDetails.RelatedPlaylists == nil {
		return "", services.Wrap(services.ErrConfiguration, stage.Upload, "resolve channel", "no channel found for the authorized account", nil)
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// HealthCheck implements stage.HealthChecker without spending API quota.
func (s *Service) HealthCheck(context.Context) stage.Health {
	if s == nil || s.api == nil {
		return stage.Unhealthy(stage.Upload, "youtube client not initialised")
	}
	return stage.Healthy(stage.Upload)
}

// classify maps API failures onto the services markers.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stage.Upload, op, "youtube request timed out", err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return services.Wrap(services.ErrConfiguration, stage.Upload, op, "token refresh rejected (run vidpilot auth youtube)", err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		reason := ""
		if len(apiErr.Errors) > 0 {
			reason = apiErr.Errors[0].Reason
		}
		switch {
		case reason == "quotaExceeded" || reason == "rateLimitExceeded" || reason == "userRateLimitExceeded" ||
			apiErr.Code == http.StatusTooManyRequests:
			return services.Wrap(services.ErrRateLimited, stage.Upload, op, "youtube quota or rate limit reached", err)
		case reason == "uploadLimitExceeded":
			return services.Wrap(services.ErrRateLimited, stage.Upload, op, "daily upload limit reached", err)
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, stage.Upload, op, fmt.Sprintf("youtube denied access (%s)", reasonOr(reason, apiErr.Code)), err)
		case apiErr.Code == http.StatusNotFound:
			return services.Wrap(services.ErrNotFound, stage.Upload, op, "youtube resource not found", err)
		case apiErr.Code >= http.StatusInternalServerError:
			return services.Wrap(services.ErrTransient, stage.Upload, op, fmt.Sprintf("youtube http %d", apiErr.Code), err)
		default:
			return services.Wrap(services.ErrValidation, stage.Upload, op, fmt.Sprintf("youtube rejected the request (%s)", reasonOr(reason, apiErr.Code)), err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, stage.Upload, op, "youtube unreachable", err)
	}
	return services.Wrap(services.ErrTransient, stage.Upload, op, "youtube request failed", err)
}

func reasonOr(reason string, code int) string {
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("http %d", code)
}
