// Package client talks to the editing API served by routers over HTTP and
// implements session.Remote.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
	"github.com/oumi-open-ai/AIShortX-sub001/session"

	"go.uber.org/zap"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps 404 onto session.ErrNotFound and 409 onto session.ErrStillSaving.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return session.ErrNotFound
	case http.StatusConflict:
		return session.ErrStillSaving
	}
	return nil
}

var segments = map[models.EntityKind]string{
	models.KindCharacter:  "characters",
	models.KindScene:      "scenes",
	models.KindProp:       "props",
	models.KindStoryboard: "storyboards",
}

type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

var _ session.Remote = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request; zero leaves requests bounded only by their context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the API rooted at base, e.g. http://localhost:8080.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(base, "/") + "/v1/api",
		http:    &http.Client{},
		timeout: 15 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("client")
	return c
}

func (c *Client) projectPath(projectID int64, parts ...string) string {
	p := "/projects/" + strconv.FormatInt(projectID, 10)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) entityPath(kind models.EntityKind, projectID, id int64, parts ...string) (string, error) {
	seg, ok := segments[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q: %w", kind, session.ErrInvalidArgument)
	}
	return c.projectPath(projectID, append([]string{seg, strconv.FormatInt(id, 10)}, parts...)...), nil
}

// do sends body as JSON and decodes a 2xx answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// CreateProject creates an empty project; aspectRatio may be empty for the default.
func (c *Client) CreateProject(ctx context.Context, name, aspectRatio string) (*models.Project, error) {
	body := map[string]string{"name": name, "aspectRatio": aspectRatio}
	var resp struct {
		Project models.Project `json:"project"`
	}
	if err := c.do(ctx, http.MethodPost, "/projects", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Project, nil
}

func (c *Client) GetProject(ctx context.Context, projectID int64) (*models.ProjectSnapshot, error) {
	var snap models.ProjectSnapshot
	if err := c.do(ctx, http.MethodGet, c.projectPath(projectID), nil, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func episodeQuery(episodeID *int64) url.Values {
	if episodeID == nil {
		return nil
	}
	return url.Values{"episode_id": {strconv.FormatInt(*episodeID, 10)}}
}

// saveList posts the complete collection and checks the answer is one item per input.
func saveList[T any](ctx context.Context, c *Client, kind models.EntityKind, projectID int64, episodeID *int64, in []T) ([]T, error) {
	if in == nil {
		in = []T{}
	}
	var resp struct {
		Items []T `json:"items"`
	}
	if err := c.do(ctx, http.MethodPost, c.projectPath(projectID, segments[kind]), episodeQuery(episodeID), in, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) != len(in) {
		return nil, fmt.Errorf("save %s: got %d items for %d inputs", kind, len(resp.Items), len(in))
	}
	return resp.Items, nil
}

func (c *Client) SaveCharacters(ctx context.Context, projectID int64, episodeID *int64, in []models.Character) ([]models.Character, error) {
	return saveList(ctx, c, models.KindCharacter, projectID, episodeID, in)
}

func (c *Client) SaveScenes(ctx context.Context, projectID int64, episodeID *int64, in []models.Scene) ([]models.Scene, error) {
	return saveList(ctx, c, models.KindScene, projectID, episodeID, in)
}

func (c *Client) SaveProps(ctx context.Context, projectID int64, episodeID *int64, in []models.Prop) ([]models.Prop, error) {
	return saveList(ctx, c, models.KindProp, projectID, episodeID, in)
}

func (c *Client) SaveStoryboards(ctx context.Context, projectID int64, episodeID *int64, in []models.Storyboard) ([]models.Storyboard, error) {
	return saveList(ctx, c, models.KindStoryboard, projectID, episodeID, in)
}

func (c *Client) PatchFrameMedia(ctx context.Context, projectID, frameID int64, patch models.StoryboardMediaPatch) (*models.Storyboard, error) {
	path, _ := c.entityPath(models.KindStoryboard, projectID, frameID, "media")
	var resp struct {
		Storyboard models.Storyboard `json:"storyboard"`
	}
	if err := c.do(ctx, http.MethodPatch, path, nil, patch, &resp); err != nil {
		return nil, err
	}
	return &resp.Storyboard, nil
}

func (c *Client) DeleteEntity(ctx context.Context, kind models.EntityKind, projectID, id int64) error {
	path, err := c.entityPath(kind, projectID, id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) UpdateProject(ctx context.Context, projectID int64, update models.ProjectUpdate) error {
	return c.do(ctx, http.MethodPut, c.projectPath(projectID), nil, update, nil)
}

type generateBody struct {
	Model string `json:"model,omitempty"`
}

func (c *Client) submit(ctx context.Context, path string, query url.Values, model string) (*session.Job, error) {
	var job session.Job
	if err := c.do(ctx, http.MethodPost, path, query, generateBody{Model: model}, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, errors.New("generate: answer carries no job id")
	}
	return &job, nil
}

func (c *Client) GenerateImage(ctx context.Context, kind models.EntityKind, projectID, id int64, model string) (*session.Job, error) {
	path, err := c.entityPath(kind, projectID, id, "generate", "image")
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, path, nil, model)
}

func (c *Client) GenerateVideo(ctx context.Context, projectID, frameID int64, variant session.VideoVariant, model string) (*session.Job, error) {
	if variant == "" {
		variant = session.VideoPrimary
	}
	path, _ := c.entityPath(models.KindStoryboard, projectID, frameID, "generate", "video")
	return c.submit(ctx, path, url.Values{"variant": {string(variant)}}, model)
}

func (c *Client) RegisterCharacter(ctx context.Context, projectID, characterID int64) (*session.Job, error) {
	path, _ := c.entityPath(models.KindCharacter, projectID, characterID, "register")
	return c.submit(ctx, path, nil, "")
}
