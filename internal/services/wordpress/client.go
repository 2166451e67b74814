package wordpress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/services"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	mediaEndpoint      = "/wp-json/wp/v2/media"
	// Some WordPress hosts front the REST API with Mod_Security rules that
	// reject non-browser clients, so identify as one.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Config captures the runtime settings for the WordPress media API.
type Config struct {
	URL            string
	Username       string
	Password       string
	TimeoutSeconds int
}

// Client uploads corrected photos to the WordPress media library.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a WordPress client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			URL:            strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
			Username:       strings.TrimSpace(cfg.Username),
			Password:       cfg.Password,
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Media describes an uploaded media item.
type Media struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

// UploadRequest describes one corrected photo to publish.
type UploadRequest struct {
	FilePath string
	Title    string
	AltText  string
}

// Upload pushes one photo into the media library. HTTP 406 means the host's
// WAF rejected the upload content; that is classified as content-rejected so
// the dispatcher records it as permanent rather than burning retries.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (Media, error) {
	var empty Media
	if c.cfg.URL == "" || c.cfg.Username == "" || c.cfg.Password == "" {
		return empty, services.Wrap(
			services.ErrConfiguration, "publish", "upload media",
			"WordPress URL and credentials are not configured", nil)
	}

	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		return empty, services.Wrap(
			services.ErrValidation, "publish", "upload media",
			fmt.Sprintf("corrected photo missing at %s", req.FilePath), err)
	}

	endpoint := c.cfg.URL + mediaEndpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return empty, fmt.Errorf("wordpress request: new request: %w", err)
	}

	filename := filepath.Base(req.FilePath)
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
	httpReq.Header.Set("Authorization", "Basic "+credentials)
	httpReq.Header.Set("Content-Type", contentTypeFor(filename))
	httpReq.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	httpReq.Header.Set("User-Agent", browserUserAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return empty, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, services.Wrap(
			services.ErrTransient, "publish", "upload media",
			"failed reading upload response body", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return empty, classifyStatus(resp.StatusCode, body)
	}

	var media Media
	if err := json.Unmarshal(body, &media); err != nil {
		return empty, services.Wrap(
			services.ErrTransient, "publish", "upload media",
			"failed decoding media response", err)
	}
	if media.ID == 0 {
		return empty, services.Wrap(
			services.ErrPermanent, "publish", "upload media",
			"media response carried no id", nil)
	}

	if req.Title != "" || req.AltText != "" {
		if err := c.setMediaFields(ctx, media.ID, req.Title, req.AltText); err != nil {
			// The photo is live; metadata is best effort.
			return media, nil
		}
	}
	return media, nil
}

func (c *Client) setMediaFields(ctx context.Context, mediaID int64, title, altText string) error {
	payload := map[string]string{}
	if title != "" {
		payload["title"] = title
	}
	if altText != "" {
		payload["alt_text"] = altText
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s%s/%d", c.cfg.URL, mediaEndpoint, mediaID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(encoded)))
	if err != nil {
		return err
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
	httpReq.Header.Set("Authorization", "Basic "+credentials)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("wordpress media update: http %d", resp.StatusCode)
	}
	return nil
}

// HealthCheck verifies credentials against the media endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.URL == "" || c.cfg.Username == "" || c.cfg.Password == "" {
		return errors.New("wordpress health: url and credentials required")
	}
	endpoint := c.cfg.URL + mediaEndpoint + "?per_page=1"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
	httpReq.Header.Set("Authorization", "Basic "+credentials)
	httpReq.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wordpress health: http %d", resp.StatusCode)
	}
	return nil
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(
			services.ErrTransient, "publish", "upload media",
			"upload timed out", err)
	}
	return services.Wrap(
		services.ErrTransient, "publish", "upload media",
		"upload request failed", err)
}

func classifyStatus(status int, body []byte) error {
	detail := fmt.Sprintf("WordPress returned HTTP %d: %s", status, summarizeBody(body))
	switch {
	case status == http.StatusNotAcceptable:
		return services.Wrap(services.ErrContentRejected, "publish", "upload media",
			"host security rules rejected the upload (HTTP 406)", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "publish", "upload media", detail, nil)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "publish", "upload media", detail, nil)
	default:
		return services.Wrap(services.ErrPermanent, "publish", "upload media", detail, nil)
	}
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		return trimmed[:200] + "..."
	}
	return trimmed
}
