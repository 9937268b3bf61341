package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/grafov/m3u8"

	"twspacedl/internal/logger"
	"twspacedl/internal/models"
)

const (
	// dynamicQuerySuffix and the dynamic/master segment swap are a platform
	// naming convention, not a standards-based URL operation. Keep the
	// transform textual and narrow.
	dynamicQuerySuffix = "?type=live"
	dynamicSegment     = "dynamic"
	masterSegment      = "master"

	// masterPlaylistFilename is the trailing file name of every master URL;
	// stripping it yields the base prefix chunk references are rewritten with.
	masterPlaylistFilename = "master_playlist.m3u8"

	// chunkPlaylistLine is the fixed line index at which the master playlist
	// body carries the chunk-playlist path. Tied to an external, uncontrolled
	// format; parseChunkPlaylistPath fails loudly when the assumption breaks.
	chunkPlaylistLine = 3

	// chunkTokenPrefix marks a segment-file reference in the chunk playlist.
	chunkTokenPrefix = "chunk"
)

// StatusSource supplies the raw live-status body for a media key. Satisfied
// by twitter.Client; tests substitute their own.
type StatusSource interface {
	LiveStatus(ctx context.Context, mediaKey string) ([]byte, error)
}

// Deriver walks the URL chain: media key -> live-status endpoint -> dynamic
// playback URL -> master playlist URL -> chunk playlist URL -> rewritten
// playlist text. Each step feeds the next; the whole result is memoized so a
// capture in progress always sees one stable set of endpoints.
type Deriver struct {
	status     StatusSource
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string

	// masterOverride short-circuits the live-status lookup when the caller
	// already holds a master URL (the only way in for an ended space).
	masterOverride string

	mu        sync.Mutex
	endpoints *models.StreamEndpoints
}

// NewDeriver creates a Deriver using the given status source and HTTP client.
func NewDeriver(status StatusSource, httpClient *http.Client, log logger.Logger, userAgent string) *Deriver {
	return &Deriver{
		status:     status,
		httpClient: httpClient,
		logger:     log,
		userAgent:  userAgent,
	}
}

// SetMasterURL installs an externally supplied master URL. Derivation then
// skips the live-status endpoint entirely and re-enters at the master fetch.
func (d *Deriver) SetMasterURL(masterURL string) {
	d.masterOverride = masterURL
}

// Derive resolves the full endpoint chain for meta. Repeated calls return
// the cached result; the chain is never recomputed mid-run even if the space
// transitions state, because a capture needs a stable reference.
func (d *Deriver) Derive(ctx context.Context, meta *models.SpaceMetadata) (*models.StreamEndpoints, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.endpoints != nil {
		return d.endpoints, nil
	}

	eps := &models.StreamEndpoints{}

	if d.masterOverride != "" {
		eps.MasterURL = d.masterOverride
		d.logger.Infof("Using externally supplied master URL, skipping live-status lookup")
	} else {
		dynURL, err := d.dynamicURL(ctx, meta)
		if err != nil {
			return nil, err
		}
		eps.DynamicURL = dynURL
		eps.MasterURL = MasterFromDynamic(dynURL)
		d.logger.Debugf("Derived master URL: %s", eps.MasterURL)
	}

	chunkURL, err := d.chunkPlaylistURL(ctx, eps.MasterURL)
	if err != nil {
		return nil, err
	}
	eps.ChunkPlaylistURL = chunkURL
	d.logger.Debugf("Chunk playlist URL: %s", chunkURL)

	text, err := d.rewrittenPlaylist(ctx, eps.MasterURL, chunkURL)
	if err != nil {
		return nil, err
	}
	eps.PlaylistText = text

	d.endpoints = eps
	return eps, nil
}

// dynamicURL queries the live-status endpoint and extracts the dynamic
// playback URL from source.location.
func (d *Deriver) dynamicURL(ctx context.Context, meta *models.SpaceMetadata) (string, error) {
	if meta.State == models.StateEnded {
		return "", &BroadcastEndedError{SpaceID: meta.ID}
	}

	body, err := d.status.LiveStatus(ctx, meta.MediaKey)
	if err != nil {
		return "", err
	}

	var status struct {
		Source struct {
			Location string `json:"location"`
		} `json:"source"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return "", &StreamUnavailableError{MediaKey: meta.MediaKey, Raw: body, Cause: err}
	}
	if status.Source.Location == "" {
		return "", &StreamUnavailableError{
			MediaKey: meta.MediaKey,
			Raw:      body,
			Cause:    fmt.Errorf("live-status response has no source.location"),
		}
	}
	return status.Source.Location, nil
}

// MasterFromDynamic derives the master playlist URL from a dynamic playback
// URL: drop the live query suffix and swap the dynamic path segment for
// master. Purely textual; nothing else about the URL changes.
func MasterFromDynamic(dynURL string) string {
	return strings.Replace(strings.TrimSuffix(dynURL, dynamicQuerySuffix), dynamicSegment, masterSegment, 1)
}

// chunkPlaylistURL fetches the master playlist body and combines the
// chunk-playlist path found at the fixed line offset with the master URL's
// network authority.
func (d *Deriver) chunkPlaylistURL(ctx context.Context, masterURL string) (string, error) {
	body, err := d.fetch(ctx, masterURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch master playlist: %w", err)
	}

	path, err := parseChunkPlaylistPath(string(body))
	if err != nil {
		return "", err
	}

	parsed, err := url.Parse(masterURL)
	if err != nil {
		return "", fmt.Errorf("master URL %q is not parseable: %w", masterURL, err)
	}
	return "https://" + parsed.Host + path, nil
}

// parseChunkPlaylistPath extracts the chunk-playlist path from a master
// playlist body. The path lives at a fixed line index; anything else means
// the platform changed the format and the run must stop rather than fetch a
// garbage URL.
func parseChunkPlaylistPath(body string) (string, error) {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if len(lines) <= chunkPlaylistLine {
		return "", fmt.Errorf("master playlist has %d line(s), expected the chunk playlist path at line %d: format may have changed", len(lines), chunkPlaylistLine)
	}
	path := strings.TrimSpace(lines[chunkPlaylistLine])
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("master playlist line %d is %q, expected an absolute path: format may have changed", chunkPlaylistLine, path)
	}
	return path, nil
}

// rewrittenPlaylist fetches the chunk playlist, checks it actually is an HLS
// media playlist, and rewrites its chunk references to be absolute.
func (d *Deriver) rewrittenPlaylist(ctx context.Context, masterURL, chunkURL string) (string, error) {
	body, err := d.fetch(ctx, chunkURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch chunk playlist: %w", err)
	}

	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(string(body)), true)
	if err != nil {
		return "", fmt.Errorf("chunk playlist does not parse as HLS: %w", err)
	}
	if listType != m3u8.MEDIA {
		return "", fmt.Errorf("chunk playlist URL returned a non-media playlist")
	}
	if media, ok := playlist.(*m3u8.MediaPlaylist); ok {
		d.logger.Infof("Chunk playlist carries %d segment(s)", media.Count())
	}

	base := strings.TrimSuffix(masterURL, masterPlaylistFilename)
	return RewritePlaylist(string(body), base), nil
}

// RewritePlaylist prefixes every chunk-file reference in a raw chunk playlist
// with base, making each segment independently fetchable. Applied to fresh
// playlist text, every chunk token gains exactly one prefix; tag lines and
// blank lines pass through untouched.
func RewritePlaylist(text, base string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, chunkTokenPrefix) {
			lines[i] = base + line
		}
	}
	return strings.Join(lines, "\n")
}

func (d *Deriver) fetch(ctx context.Context, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", rawurl, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.httpClient.Do(req)
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
