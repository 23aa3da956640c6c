package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
	"github.com/oumi-open-ai/AIShortX-sub001/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorded struct {
	method, path, query string
	body                []byte
}

func stubServer(t *testing.T, status int, answer string) (*Client, <-chan recorded) {
	t.Helper()
	seen := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: body}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, answer)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", WithLogger(zaptest.NewLogger(t))), seen
}

func TestSaveStoryboardsPostsArray(t *testing.T) {
	c, seen := stubServer(t, http.StatusOK, `{"items":[{"id":7,"text":"a"}]}`)
	episode := int64(3)

	out, err := c.SaveStoryboards(context.Background(), 12, &episode, []models.Storyboard{{ID: 1700000000001, Text: "a"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(7), out[0].ID)

	req := <-seen
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/v1/api/projects/12/storyboards", req.path)
	assert.Equal(t, "episode_id=3", req.query)
	var sent []map[string]interface{}
	require.NoError(t, json.Unmarshal(req.body, &sent))
	require.Len(t, sent, 1)
	assert.EqualValues(t, 1700000000001, sent[0]["id"])
}

func TestSaveRejectsShortAnswer(t *testing.T) {
	c, _ := stubServer(t, http.StatusOK, `{"items":[]}`)
	_, err := c.SaveProps(context.Background(), 1, nil, []models.Prop{{Asset: models.Asset{ID: 1700000000001}}})
	assert.ErrorContains(t, err, "got 0 items for 1 inputs")
}

func TestEmptyCollectionIsSentAsArray(t *testing.T) {
	c, seen := stubServer(t, http.StatusOK, `{"items":[]}`)
	_, err := c.SaveScenes(context.Background(), 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string((<-seen).body))
}

func TestErrorAnswers(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		answer  string
		message string
		is      error
	}{
		{name: "not found", status: http.StatusNotFound, answer: `{"error":"record not found"}`, message: "record not found", is: session.ErrNotFound},
		{name: "placeholder", status: http.StatusConflict, answer: `{"error":"still saving"}`, message: "still saving", is: session.ErrStillSaving},
		{name: "plain body", status: http.StatusBadGateway, answer: "upstream down\n", message: "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := stubServer(t, tt.status, tt.answer)
			err := c.DeleteEntity(context.Background(), models.KindScene, 1, 21)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			} else {
				assert.False(t, errors.Is(err, session.ErrNotFound))
			}
		})
	}
}

func TestGenerateVideoVariant(t *testing.T) {
	c, seen := stubServer(t, http.StatusAccepted, `{"jobId":"j-1","status":"pending"}`)

	job, err := c.GenerateVideo(context.Background(), 5, 41, "", "kling")
	require.NoError(t, err)
	assert.Equal(t, "j-1", job.ID)
	req := <-seen
	assert.Equal(t, "/v1/api/projects/5/storyboards/41/generate/video", req.path)
	assert.Equal(t, "variant=primary", req.query)
	assert.JSONEq(t, `{"model":"kling"}`, string(req.body))

	_, err = c.GenerateImage(context.Background(), "episode", 5, 1, "")
	assert.ErrorIs(t, err, session.ErrInvalidArgument)
}

func TestGenerateWithoutJobID(t *testing.T) {
	c, _ := stubServer(t, http.StatusAccepted, `{}`)
	_, err := c.RegisterCharacter(context.Background(), 5, 11)
	assert.Error(t, err)
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.GetProject(context.Background(), 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
