package profile_client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client asks the profile service whether tutor and student profiles exist.
// GET {baseURL}/tutors/{id} and /students/{id} answer 200 when the profile
// exists and 404 when it does not.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new profile service client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *Client) TutorExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	return c.exists(ctx, "tutors", userID)
}

func (c *Client) StudentExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	return c.exists(ctx, "students", userID)
}

func (c *Client) exists(ctx context.Context, kind string, userID uuid.UUID) (bool, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, kind, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to make request to profile service", zap.String("kind", kind), zap.Error(err))
		return false, fmt.Errorf("failed to make request to profile service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		c.logger.Error("Profile service returned unexpected status",
			zap.String("kind", kind),
			zap.String("user_id", userID.String()),
			zap.Int("status", resp.StatusCode))
		return false, fmt.Errorf("profile service returned status: %d", resp.StatusCode)
	}
}
