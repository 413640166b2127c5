// Package news persists article bodies to object storage and forwards
// the metadata records to the time-series writer. The object body is
// the source of truth for article text; the time-series record carries
// metadata and the s3Path back-reference only.
package news

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/wavepilot/marketd/internal/domain"
)

const (
	fetchTimeout   = 10 * time.Second
	minContentLen  = 100
	maxContentLen  = 50000
	maxMetadataLen = 200
	maxFetchBytes  = 5 << 20
)

// objectPutter is the slice of the S3 API the store consumes
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// tsWriter is the downstream the enriched records are forwarded to
type tsWriter interface {
	WriteNews(ctx context.Context, news []domain.NewsRecord) error
}

// Config holds news store configuration
type Config struct {
	Bucket string // "" disables the object store; metadata still flows
	Region string
	Writer tsWriter
	Log    zerolog.Logger
}

// Store uploads news bodies and records metadata
type Store struct {
	bucket     string
	objects    objectPutter
	writer     tsWriter
	httpClient *http.Client
	log        zerolog.Logger
}

// New builds a Store. When cfg.Bucket is set the S3 client is created
// from the ambient AWS configuration; otherwise uploads are skipped.
func New(ctx context.Context, cfg Config) (*Store, error) {
	s := newStore(cfg, nil)
	if cfg.Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.objects = s3.NewFromConfig(awsCfg)
	}
	return s, nil
}

// NewWithClient injects the object client; used in tests
func NewWithClient(cfg Config, objects objectPutter) *Store {
	return newStore(cfg, objects)
}

func newStore(cfg Config, objects objectPutter) *Store {
	return &Store{
		bucket:     cfg.Bucket,
		objects:    objects,
		writer:     cfg.Writer,
		httpClient: &http.Client{Timeout: fetchTimeout},
		log:        cfg.Log.With().Str("component", "news").Logger(),
	}
}

// objectBody is the JSON document persisted per article
type objectBody struct {
	ID          string               `json:"id"`
	Ticker      string               `json:"ticker"`
	Title       string               `json:"title"`
	URL         string               `json:"url"`
	Source      string               `json:"source"`
	Author      string               `json:"author,omitempty"`
	Description string               `json:"description,omitempty"`
	ImageURL    string               `json:"imageUrl,omitempty"`
	PublishedAt time.Time            `json:"publishedAt"`
	Keywords    []string             `json:"keywords,omitempty"`
	Tickers     []string             `json:"tickers,omitempty"`
	Insights    []domain.NewsInsight `json:"insights,omitempty"`
	Content     string               `json:"content,omitempty"`
}

// SaveNews uploads bodies (when the object store is configured) and
// forwards all records to the time-series writer. A single item's
// upload or fetch failure is logged and skipped; its metadata record is
// still written, just without s3Path.
func (s *Store) SaveNews(ctx context.Context, records []domain.NewsRecord, fetchContent bool) error {
	if s.objects != nil && s.bucket != "" {
		for i := range records {
			s.uploadBody(ctx, &records[i], fetchContent)
		}
	}
	return s.writer.WriteNews(ctx, records)
}

func (s *Store) uploadBody(ctx context.Context, rec *domain.NewsRecord, fetchContent bool) {
	content := ""
	if fetchContent && rec.URL != "" {
		content = s.fetchArticle(ctx, rec.URL)
	}

	key := objectKey(rec)
	body := objectBody{
		ID:          rec.ID,
		Ticker:      rec.Ticker,
		Title:       rec.Title,
		URL:         rec.URL,
		Source:      rec.Source,
		Author:      rec.Author,
		Description: rec.Description,
		ImageURL:    rec.ImageURL,
		PublishedAt: rec.Time,
		Keywords:    rec.Keywords,
		Tickers:     rec.Tickers,
		Insights:    rec.Insights,
		Content:     content,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		s.log.Error().Err(err).Str("id", rec.ID).Msg("Failed to encode news body")
		return
	}

	metadata := map[string]string{
		"news-id":      sanitizeMetadata(rec.ID),
		"ticker":       sanitizeMetadata(rec.Ticker),
		"source":       sanitizeMetadata(rec.Source),
		"published-at": rec.Time.UTC().Format(time.RFC3339),
		"has-content":  fmt.Sprintf("%t", content != ""),
	}
	if rec.Sentiment != "" {
		metadata["sentiment"] = sanitizeMetadata(rec.Sentiment)
	}

	contentType := "application/json"
	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(payload),
		ContentType: &contentType,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.Error().Err(err).Str("id", rec.ID).Str("key", key).Msg("News body upload failed")
		return
	}

	rec.S3Path = fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.log.Debug().Str("id", rec.ID).Str("key", key).Bool("has_content", content != "").Msg("News body uploaded")
}

// fetchArticle GETs the article and extracts readable text. Returns ""
// when the fetch fails or the extraction comes out too short to be a
// real article.
func (s *Store) fetchArticle(ctx context.Context, rawURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("url", rawURL).Msg("Bad article URL")
		return ""
	}
	// Some publishers refuse requests without browser-looking headers
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("url", rawURL).Msg("Article fetch failed")
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Warn().Int("status", resp.StatusCode).Str("url", rawURL).Msg("Article fetch returned non-200")
		return ""
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		s.log.Warn().Err(err).Str("url", rawURL).Msg("Article body read failed")
		return ""
	}

	content := ExtractContent(string(html), rawURL)
	if len(content) < minContentLen {
		s.log.Debug().Int("length", len(content)).Str("url", rawURL).Msg("Extracted content too short, dropping")
		return ""
	}
	return truncate(content, maxContentLen)
}

// truncate caps s at max bytes, backing off to a rune boundary so the
// result stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func objectKey(rec *domain.NewsRecord) string {
	return fmt.Sprintf("raw/news/%s/%s/%s.json", rec.Ticker, rec.Time.UTC().Format("2006-01-02"), rec.ID)
}

// sanitizeMetadata keeps printable ASCII only; S3 object metadata is
// transmitted as HTTP headers and rejects anything else.
func sanitizeMetadata(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return truncate(b.String(), maxMetadataLen)
}
