package news

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavepilot/marketd/internal/domain"
)

type fakePutter struct {
	puts    []*s3.PutObjectInput
	failIDs map[string]bool // keys to reject
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failIDs != nil && f.failIDs[*params.Key] {
		return nil, errors.New("upload rejected")
	}
	f.puts = append(f.puts, params)
	return &s3.PutObjectOutput{}, nil
}

type fakeWriter struct {
	written []domain.NewsRecord
}

func (f *fakeWriter) WriteNews(_ context.Context, news []domain.NewsRecord) error {
	f.written = append(f.written, news...)
	return nil
}

func testRecord() domain.NewsRecord {
	return domain.NewsRecord{
		ID:     "n1",
		Ticker: "AAPL",
		Market: domain.MarketUS,
		Time:   time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
		Title:  "t",
		URL:    "https://x/y",
		Source: "S",
	}
}

func TestSaveNewsWithoutBucket(t *testing.T) {
	writer := &fakeWriter{}
	store := NewWithClient(Config{
		Writer: writer,
		Log:    zerolog.New(nil).Level(zerolog.Disabled),
	}, nil)

	require.NoError(t, store.SaveNews(context.Background(), []domain.NewsRecord{testRecord()}, false))
	require.Len(t, writer.written, 1)
	assert.Empty(t, writer.written[0].S3Path, "no object store, no back-reference")
}

func TestSaveNewsUploadsBody(t *testing.T) {
	putter := &fakePutter{}
	writer := &fakeWriter{}
	store := NewWithClient(Config{
		Bucket: "data-bucket",
		Writer: writer,
		Log:    zerolog.New(nil).Level(zerolog.Disabled),
	}, putter)

	rec := testRecord()
	rec.Sentiment = "positive"
	require.NoError(t, store.SaveNews(context.Background(), []domain.NewsRecord{rec}, false))

	require.Len(t, putter.puts, 1)
	put := putter.puts[0]
	assert.Equal(t, "raw/news/AAPL/2025-01-15/n1.json", *put.Key)
	assert.Equal(t, "false", put.Metadata["has-content"])
	assert.Equal(t, "positive", put.Metadata["sentiment"])

	var body objectBody
	raw, err := io.ReadAll(put.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "n1", body.ID)
	assert.Empty(t, body.Content)

	require.Len(t, writer.written, 1)
	assert.Equal(t, "s3://data-bucket/raw/news/AAPL/2025-01-15/n1.json", writer.written[0].S3Path)
}

func TestSaveNewsContentTooShort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<html><body><p>short body</p></body></html>")
	}))
	defer srv.Close()

	putter := &fakePutter{}
	writer := &fakeWriter{}
	store := NewWithClient(Config{
		Bucket: "data-bucket",
		Writer: writer,
		Log:    zerolog.New(nil).Level(zerolog.Disabled),
	}, putter)

	rec := testRecord()
	rec.URL = srv.URL
	require.NoError(t, store.SaveNews(context.Background(), []domain.NewsRecord{rec}, true))

	require.Len(t, putter.puts, 1, "body uploaded even without content")
	assert.Equal(t, "false", putter.puts[0].Metadata["has-content"])
	require.Len(t, writer.written, 1)
	assert.NotEmpty(t, writer.written[0].S3Path)
}

func TestSaveNewsFetchesContent(t *testing.T) {
	article := strings.Repeat("Apple shipped a record quarter. ", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<html><body><article><p>"+article+"</p></article></body></html>")
	}))
	defer srv.Close()

	putter := &fakePutter{}
	writer := &fakeWriter{}
	store := NewWithClient(Config{
		Bucket: "data-bucket",
		Writer: writer,
		Log:    zerolog.New(nil).Level(zerolog.Disabled),
	}, putter)

	rec := testRecord()
	rec.URL = srv.URL
	require.NoError(t, store.SaveNews(context.Background(), []domain.NewsRecord{rec}, true))

	require.Len(t, putter.puts, 1)
	assert.Equal(t, "true", putter.puts[0].Metadata["has-content"])

	var body objectBody
	raw, err := io.ReadAll(putter.puts[0].Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Contains(t, body.Content, "Apple shipped a record quarter.")
}

func TestSaveNewsUploadFailureIsolated(t *testing.T) {
	putter := &fakePutter{failIDs: map[string]bool{"raw/news/AAPL/2025-01-15/n1.json": true}}
	writer := &fakeWriter{}
	store := NewWithClient(Config{
		Bucket: "data-bucket",
		Writer: writer,
		Log:    zerolog.New(nil).Level(zerolog.Disabled),
	}, putter)

	first := testRecord()
	second := testRecord()
	second.ID = "n2"
	require.NoError(t, store.SaveNews(context.Background(), []domain.NewsRecord{first, second}, false))

	require.Len(t, putter.puts, 1, "second record still uploaded")
	require.Len(t, writer.written, 2, "both metadata records written")
	assert.Empty(t, writer.written[0].S3Path)
	assert.NotEmpty(t, writer.written[1].S3Path)
}

func TestSanitizeMetadata(t *testing.T) {
	assert.Equal(t, "caf latte", sanitizeMetadata("café latte\n"))
	assert.Len(t, sanitizeMetadata(strings.Repeat("a", 500)), 200)
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	assert.Equal(t, "ab", truncate("ab", 5))

	// 3-byte runes with a cap that lands mid-rune
	out := truncate(strings.Repeat("日", 40), 100)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 99, len(out))
}
