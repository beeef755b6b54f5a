package tracking

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const trackLoginPath = "/v1/api/trackLoging/%s"

// Client notifies the customer-tracking collaborator of a login. Any 2xx
// response counts as delivered, including bodiless ones.
type Client interface {
	NotifyLogin(ctx context.Context, customerID uuid.UUID) error
}

// StatusError is a non-2xx response from the collaborator. The retry policy
// uses the code to separate retryable server faults from fatal client faults.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracking responded with status %d", e.Code)
}

type HTTPClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

func NewHTTPClient(baseURL, username, password string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) NotifyLogin(ctx context.Context, customerID uuid.UUID) error {
	url := c.baseURL + fmt.Sprintf(trackLoginPath, customerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body) // drain so the connection is reused

	if res.StatusCode/100 != 2 {
		return &StatusError{Code: res.StatusCode}
	}

	return nil
}
