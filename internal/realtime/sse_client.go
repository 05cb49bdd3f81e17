package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/callqueue/internal/logging"
)

// SSEClient subscribes to a record server's /events stream, reconnecting
// after RetryDelay whenever the stream drops.
type SSEClient struct {
	URL        string
	RetryDelay time.Duration

	httpClient *http.Client
	logger     *logging.Logger
}

var _ Subscriber = (*SSEClient)(nil)

func NewSSEClient(url string, logger *logging.Logger) *SSEClient {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &SSEClient{
		URL:        url,
		RetryDelay: 5 * time.Second,
		httpClient: &http.Client{},
		logger:     logger.WithComponent("sse"),
	}
}

// Subscribe returns once the first connection is established.
func (c *SSEClient) Subscribe(ctx context.Context) (<-chan Event, error) {
	resp, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		for {
			c.read(ctx, resp, out)
			if ctx.Err() != nil {
				return
			}
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.RetryDelay):
				}
				resp, err = c.connect(ctx)
				if err == nil {
					break
				}
				c.logger.Debug("event stream reconnect failed", "error", err)
			}
		}
	}()
	return out, nil
}

func (c *SSEClient) connect(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("connect event stream: status %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *SSEClient) read(ctx context.Context, resp *http.Response, out chan<- Event) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		default:
		}
	}
}
