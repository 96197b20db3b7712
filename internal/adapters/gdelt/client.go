package gdelt

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
	"golang.org/x/time/rate"

	"marketpulse/internal/metrics"
	"marketpulse/pkg/errors"
)

const (
	DefaultBaseURL    = "https://api.gdeltproject.org/api/v2/doc/doc"
	DefaultMaxRecords = 50

	// queryTimeFormat is the layout of startdatetime and enddatetime
	queryTimeFormat = "20060102150405"
	// seenDateFormat is the layout of seendate in artlist responses
	seenDateFormat = "20060102T150405Z"

	defaultTitle    = "Untitled"
	defaultLanguage = "en"

	maxResponseBody = 4 << 20
)

// Article is one entry of an artlist response.
// Raw holds the entry exactly as returned upstream.
type Article struct {
	URL      string
	Title    string
	SeenDate time.Time
	Domain   string
	Language string
	Raw      []byte
}

// Client queries the GDELT DOC 2.0 article list API
type Client struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRecords int
	timeout    time.Duration
	parser     fastjson.ParserPool
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRecords int
	Timeout    time.Duration // per request, default 10s
	RateLimit  float64       // requests per second, default 1
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		http:       cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		maxRecords: cfg.MaxRecords,
		timeout:    cfg.Timeout,
	}
}

// SearchURL builds the artlist query for keyword over [start, end)
func (c *Client) SearchURL(keyword string, start, end time.Time) string {
	q := url.Values{}
	q.Set("query", keyword)
	q.Set("mode", "artlist")
	q.Set("format", "json")
	q.Set("startdatetime", start.UTC().Format(queryTimeFormat))
	q.Set("enddatetime", end.UTC().Format(queryTimeFormat))
	q.Set("maxrecords", strconv.Itoa(c.maxRecords))
	return c.baseURL + "?" + q.Encode()
}

// Search returns the articles GDELT has seen for keyword in the window
func (c *Client) Search(ctx context.Context, keyword string, start, end time.Time) ([]Article, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(keyword, start, end), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build gdelt request")
	}
	req.Header.Set("Accept", "application/json")

	begin := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstreamCall("gdelt", "artlist", time.Since(begin), err)
		return nil, errors.Wrapf(err, "gdelt query %q", keyword)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = errors.Wrapf(errors.ErrUpstreamStatus, "gdelt query %q returned %d", keyword, resp.StatusCode)
		metrics.RecordUpstreamCall("gdelt", "artlist", time.Since(begin), err)
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	metrics.RecordUpstreamCall("gdelt", "artlist", time.Since(begin), err)
	if err != nil {
		return nil, errors.Wrap(err, "read gdelt body")
	}

	return c.parse(body)
}

// parse decodes an artlist body. An empty body or an object without
// "articles" means no matches.
func (c *Client) parse(body []byte) ([]Article, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	p := c.parser.Get()
	defer c.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode gdelt response")
	}

	items := v.GetArray("articles")
	articles := make([]Article, 0, len(items))
	for _, item := range items {
		if item.Type() != fastjson.TypeObject {
			continue
		}
		link := string(item.GetStringBytes("url"))
		if link == "" {
			continue
		}

		a := Article{
			URL:      link,
			Title:    string(item.GetStringBytes("title")),
			Domain:   string(item.GetStringBytes("domain")),
			Language: string(item.GetStringBytes("language")),
			Raw:      item.MarshalTo(nil),
		}
		if a.Title == "" {
			a.Title = defaultTitle
		}
		if a.Language == "" {
			a.Language = defaultLanguage
		}
		if seen, err := time.Parse(seenDateFormat, string(item.GetStringBytes("seendate"))); err == nil {
			a.SeenDate = seen.UTC()
		}

		articles = append(articles, a)
	}

	return articles, nil
}
