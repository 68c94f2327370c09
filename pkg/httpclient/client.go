package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultDownloadTimeout = 120 * time.Second
	maxRetries             = 2
	backoffFactor          = 1 * time.Second
)

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Client is a shared HTTP layer for JSON requests and file downloads.
// Requests to the configured API base URL automatically carry the API key.
type Client struct {
	http         *http.Client
	downloadHTTP *http.Client
	downloadsDir string
	apiBaseURL   string
	apiKey       string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIAuth injects an X-API-Key header on requests to baseURL.
func WithAPIAuth(baseURL, key string) Option {
	return func(c *Client) {
		c.apiBaseURL = baseURL
		c.apiKey = key
	}
}

// WithTransport overrides the underlying transport (proxies, test servers).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport = rt
		c.downloadHTTP.Transport = rt
	}
}

// New builds a Client that stores unnamed downloads under downloadsDir.
func New(downloadsDir string, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		downloadHTTP: &http.Client{Timeout: defaultDownloadTimeout},
		downloadsDir: downloadsDir,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "MelodyBot/1.0")
	if c.apiBaseURL != "" && strings.HasPrefix(req.URL.String(), c.apiBaseURL) {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func parseErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		if msg, ok := payload["error"].(string); ok {
			return msg
		}
		if msg, ok := payload["message"].(string); ok {
			return msg
		}
	}
	if len(body) > 0 {
		return string(body)
	}
	return "no error details provided"
}

// GetJSON performs a GET and decodes the JSON response into out. Failures are
// retried with exponential backoff except 4xx statuses, which are final.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out interface{}) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffFactor * (1 << (attempt - 1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		c.setHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			logger.L().Warnw("request failed", "url", rawURL, "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode >= 400 {
			msg := parseErrorBody(resp)
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, msg)
			if resp.StatusCode < 500 {
				// client errors do not get better on retry
				return lastErr
			}
			logger.L().Warnw("request failed", "url", rawURL, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response from %s: %w", rawURL, err)
		}
		return nil
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", maxRetries, rawURL, lastErr)
}

// DownloadFile streams rawURL to destPath (derived from the response when
// empty). The transfer goes to a .part temp file renamed into place on
// completion; an existing destination short-circuits unless overwrite is set.
func (c *Client) DownloadFile(ctx context.Context, rawURL, destPath string, overwrite bool) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("empty URL")
	}

	if destPath != "" && !overwrite {
		if _, err := os.Stat(destPath); err == nil {
			logger.L().Debugw("file already exists, skipping download", "path", destPath)
			return destPath, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.downloadHTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("download %s: status %d: %s", rawURL, resp.StatusCode, parseErrorBody(resp))
	}

	if destPath == "" {
		destPath = filepath.Join(c.downloadsDir, c.filenameFor(rawURL, resp))
		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return destPath, nil
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", err
	}

	tempPath := destPath + ".part"
	f, err := os.Create(tempPath)
	if err != nil {
		return "", err
	}
	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return "", err
	}

	logger.Base().Info("downloaded file",
		zap.String("path", destPath), zap.Int64("bytes", written))
	return destPath, nil
}

func (c *Client) filenameFor(rawURL string, resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return sanitizeFilename(name)
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return sanitizeFilename(name)
		}
	}
	return uuid.NewString() + ".tmp"
}

func sanitizeFilename(name string) string {
	return strings.TrimSpace(unsafeFilenameChars.ReplaceAllString(name, ""))
}
