package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"twspacedl/internal/logger"
	"twspacedl/internal/models"
)

// bearerToken is the public token the web player ships with; it only grants
// the same anonymous access a logged-out browser has.
const bearerToken = "Bearer " +
	"AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs" +
	"=1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

const (
	defaultWebBase = "https://twitter.com"
	defaultAPIBase = "https://twitter.com"

	audioSpaceQueryPath = "/i/api/graphql/jyQ0_DEMZHeoluCgHJ-U5Q/AudioSpaceById"
	liveStatusPath      = "/i/api/1.1/live_video_stream/status/"
)

var (
	// guestTokenPattern matches the "gt=<19 digits>" assignment embedded in
	// the landing page markup. A soft dependency on the page's current shape;
	// when it breaks, only scrapeGuestToken needs to change.
	guestTokenPattern = regexp.MustCompile(`gt=(\d{19})`)

	spaceIDPattern = regexp.MustCompile(`spaces/(\w+)`)
)

// ExtractSpaceID pulls the opaque space id out of a spaces URL, or returns
// the input unchanged when it already looks like a bare id.
func ExtractSpaceID(input string) (string, error) {
	if m := spaceIDPattern.FindStringSubmatch(input); m != nil {
		return m[1], nil
	}
	if regexp.MustCompile(`^\w+$`).MatchString(input) {
		return input, nil
	}
	return "", fmt.Errorf("no space id found in %q", input)
}

// Client is responsible for all communication with the platform: guest token
// acquisition, the metadata query, and the live-status endpoint. The guest
// token and the resolved metadata are memoized for the lifetime of the
// client; a run never re-resolves.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
	webBase    string
	apiBase    string

	mu         sync.Mutex
	guestToken string
	metadata   *models.SpaceMetadata
}

// NewClient creates a platform client with a tuned transport.
func NewClient(log logger.Logger, userAgent string) *Client {
	transport := &http.Transport{
		ResponseHeaderTimeout: 10 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		logger:     log,
		userAgent:  userAgent,
		webBase:    defaultWebBase,
		apiBase:    defaultAPIBase,
	}
}

// SetBaseURL points both the landing page and the API at base. Test seam.
func (c *Client) SetBaseURL(base string) {
	c.webBase = base
	c.apiBase = base
}

// HttpClient returns the underlying http.Client instance.
func (c *Client) HttpClient() *http.Client {
	return c.httpClient
}

// GuestToken returns the anonymous guest token, scraping it from the landing
// page on first use.
func (c *Client) GuestToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guestToken != "" {
		return c.guestToken, nil
	}

	token, err := c.scrapeGuestToken(ctx)
	if err != nil {
		return "", err
	}
	c.guestToken = token
	c.logger.Debugf("Acquired guest token %s", token)
	return token, nil
}

func (c *Client) scrapeGuestToken(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.webBase+"/", nil)
	if err != nil {
		return "", &ResolutionError{Message: "failed to fetch landing page", Cause: err}
	}

	m := guestTokenPattern.FindSubmatch(body)
	if m == nil {
		return "", &ResolutionError{
			Message: "guest token not found in landing page; the page markup may have changed",
		}
	}
	return string(m[1]), nil
}

// Resolve fetches the space metadata for spaceID. The media key is the only
// mandatory field; any other missing field defaults to an empty value. The
// result is cached, so calling Resolve twice within a run returns the same
// snapshot without another API round trip.
func (c *Client) Resolve(ctx context.Context, spaceID string) (*models.SpaceMetadata, error) {
	c.mu.Lock()
	if c.metadata != nil {
		meta := c.metadata
		c.mu.Unlock()
		return meta, nil
	}
	c.mu.Unlock()

	token, err := c.GuestToken(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("variables", audioSpaceVariables(spaceID))
	endpoint := c.apiBase + audioSpaceQueryPath + "?" + query.Encode()

	headers := map[string]string{
		"authorization": bearerToken,
		"x-guest-token": token,
	}
	body, err := c.get(ctx, endpoint, headers)
	if err != nil {
		return nil, &ResolutionError{SpaceID: spaceID, Message: "metadata query failed", Cause: err}
	}

	meta, err := decodeSpaceMetadata(spaceID, body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.metadata = meta
	c.mu.Unlock()

	c.logger.Debugf("Resolved space %s: media key %s, state %s", spaceID, meta.MediaKey, meta.State)
	return meta, nil
}

// LiveStatus fetches the live-status endpoint for a media key and returns the
// raw body. The derivation chain owns parsing; an unparseable body is its
// signal that the stream backing was torn down.
func (c *Client) LiveStatus(ctx context.Context, mediaKey string) ([]byte, error) {
	headers := map[string]string{
		"authorization": bearerToken,
		"cookie":        "auth_token=",
	}
	body, err := c.get(ctx, c.apiBase+liveStatusPath+mediaKey, headers)
	if err != nil {
		return nil, fmt.Errorf("live-status fetch for media key %s failed: %w", mediaKey, err)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, rawurl string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", rawurl, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", rawurl, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", rawurl, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d from %s", resp.StatusCode, rawurl)
	}
	return body, nil
}

// audioSpaceVariables builds the GraphQL variables blob the AudioSpaceById
// query expects. The flag set mirrors what the web player sends.
func audioSpaceVariables(spaceID string) string {
	vars := map[string]interface{}{
		"id":                          spaceID,
		"isMetatagsQuery":             false,
		"withSuperFollowsUserFields":  true,
		"withUserResults":             true,
		"withBirdwatchPivots":         false,
		"withReactionsMetadata":       false,
		"withReactionsPerspective":    false,
		"withSuperFollowsTweetFields": true,
		"withReplays":                 true,
		"withScheduledSpaces":         true,
	}
	blob, _ := json.Marshal(vars)
	return string(blob)
}

type audioSpaceResponse struct {
	Data struct {
		AudioSpace struct {
			Metadata struct {
				RestID         string          `json:"rest_id"`
				MediaKey       string          `json:"media_key"`
				State          string          `json:"state"`
				Title          string          `json:"title"`
				StartedAt      int64           `json:"started_at"`
				CreatorResults json.RawMessage `json:"creator_results"`
			} `json:"metadata"`
		} `json:"audioSpace"`
	} `json:"data"`
}

type creatorResults struct {
	Result struct {
		Legacy struct {
			Name       string `json:"name"`
			ScreenName string `json:"screen_name"`
		} `json:"legacy"`
	} `json:"result"`
}

func decodeSpaceMetadata(spaceID string, body []byte) (*models.SpaceMetadata, error) {
	var resp audioSpaceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ResolutionError{
			SpaceID: spaceID,
			Message: "metadata response is not valid JSON",
			Raw:     body,
			Cause:   err,
		}
	}

	root := resp.Data.AudioSpace.Metadata
	if root.MediaKey == "" {
		return nil, &ResolutionError{
			SpaceID: spaceID,
			Message: "metadata response has no media key",
			Raw:     body,
		}
	}

	meta := &models.SpaceMetadata{
		ID:        root.RestID,
		MediaKey:  root.MediaKey,
		State:     models.ParseLifecycleState(root.State),
		Title:     root.Title,
		StartedAt: root.StartedAt,
		Raw:       append(json.RawMessage(nil), body...),
	}
	if meta.ID == "" {
		meta.ID = spaceID
	}

	// Creator fields are display-only; a missing or reshaped creator block
	// degrades to empty strings instead of failing the resolution.
	if len(root.CreatorResults) > 0 {
		var creator creatorResults
		if err := json.Unmarshal(root.CreatorResults, &creator); err == nil {
			meta.CreatorName = creator.Result.Legacy.Name
			meta.CreatorScreenName = creator.Result.Legacy.ScreenName
		}
	}

	return meta, nil
}
