package gdelt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/errors"
)

const artlistBody = `{
  "articles": [
    {
      "url": "https://example.com/btc-rally",
      "title": "Bitcoin rally continues",
      "seendate": "20251129T114500Z",
      "domain": "example.com",
      "language": "English"
    },
    {
      "url": "https://example.com/untitled",
      "seendate": "garbage"
    },
    {
      "title": "no url"
    }
  ]
}`

func TestClient_Search(t *testing.T) {
	start := time.Date(2025, 11, 29, 11, 45, 0, 0, time.UTC)
	end := start.Add(15 * time.Minute)

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(artlistBody))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 100})
	articles, err := c.Search(context.Background(), "BTC", start, end)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"query":         "BTC",
		"mode":          "artlist",
		"format":        "json",
		"startdatetime": "20251129114500",
		"enddatetime":   "20251129120000",
		"maxrecords":    "50",
	}, gotQuery)

	require.Len(t, articles, 2)

	first := articles[0]
	assert.Equal(t, "https://example.com/btc-rally", first.URL)
	assert.Equal(t, "Bitcoin rally continues", first.Title)
	assert.Equal(t, "example.com", first.Domain)
	assert.Equal(t, "English", first.Language)
	assert.Equal(t, start, first.SeenDate)
	assert.Contains(t, string(first.Raw), `"seendate":"20251129T114500Z"`)

	second := articles[1]
	assert.Equal(t, "Untitled", second.Title)
	assert.Equal(t, "en", second.Language)
	assert.True(t, second.SeenDate.IsZero())
}

func TestClient_SearchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 100})
	articles, err := c.Search(context.Background(), "SOL", time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	assert.Empty(t, articles)
}

func TestClient_SearchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "upstream status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantErr: errors.ErrUpstreamStatus,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("Your search contained a phrase that was too short"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL, RateLimit: 100})
			_, err := c.Search(context.Background(), "ETH", time.Now().Add(-time.Minute), time.Now())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestClient_SearchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 100, Timeout: 50 * time.Millisecond})
	_, err := c.Search(context.Background(), "BTC", time.Now().Add(-time.Minute), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
