//go:build !integration

package dynamodb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghcache "github.com/dgduncan/go-gh-cache"
	"github.com/dgduncan/go-gh-cache/caches"
)

var _ ghcache.Cache = (*Cache)(nil)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		client *dynamodb.Client
		config *Config
	}{
		{name: "nil client", client: nil, config: &Config{Table: "prs"}},
		{name: "nil config", client: &dynamodb.Client{}, config: nil},
		{name: "missing table", client: &dynamodb.Client{}, config: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := New(context.Background(), tt.client, tt.config)
			require.ErrorIs(t, err, caches.ErrValidation)
			assert.Nil(t, c)
		})
	}
}

func TestNewItemExpiration(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), &dynamodb.Client{}, &Config{Table: "prs"})
	require.NoError(t, err)
	assert.Equal(t, "prs", c.table)
	assert.Equal(t, caches.DefaultExpiredDuration, c.expiration)

	c, err = New(context.Background(), &dynamodb.Client{}, &Config{Table: "prs", ItemExpiration: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, c.expiration)
}

// fakeDynamo answers the DynamoDB JSON protocol by operation name.
type fakeDynamo struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]fakeReply
}

type fakeReply struct {
	status int
	body   string
}

func (f *fakeDynamo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op := strings.TrimPrefix(r.Header.Get("X-Amz-Target"), "DynamoDB_20120810.")

	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()

	reply, ok := f.replies[op]
	if !ok {
		reply = fakeReply{http.StatusBadRequest, `{"__type":"com.amazonaws.dynamodb.v20120810#ValidationException","message":"unexpected ` + op + `"}`}
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(reply.status)
	_, _ = w.Write([]byte(reply.body))
}

func (f *fakeDynamo) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func fakeClient(t *testing.T, f *fakeDynamo) *dynamodb.Client {
	t.Helper()

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	return dynamodb.New(dynamodb.Options{
		Region:           "local",
		BaseEndpoint:     aws.String(srv.URL),
		Credentials:      aws.AnonymousCredentials{},
		RetryMaxAttempts: 1,
	})
}

func TestNewCreatesTable(t *testing.T) {
	t.Parallel()

	f := &fakeDynamo{replies: map[string]fakeReply{
		"CreateTable":      {http.StatusOK, `{"TableDescription":{"TableName":"prs","TableStatus":"CREATING"}}`},
		"DescribeTable":    {http.StatusOK, `{"Table":{"TableName":"prs","TableStatus":"ACTIVE"}}`},
		"UpdateTimeToLive": {http.StatusOK, `{"TimeToLiveSpecification":{"AttributeName":"expired_at","Enabled":true}}`},
	}}

	c, err := New(context.Background(), fakeClient(t, f), &Config{Table: "prs", CreateTable: true})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []string{"CreateTable", "DescribeTable", "UpdateTimeToLive"}, f.history())
}

func TestNewExistingTable(t *testing.T) {
	t.Parallel()

	f := &fakeDynamo{replies: map[string]fakeReply{
		"CreateTable": {http.StatusBadRequest, `{"__type":"com.amazonaws.dynamodb.v20120810#ResourceInUseException","message":"Table already exists: prs"}`},
	}}

	c, err := New(context.Background(), fakeClient(t, f), &Config{Table: "prs", CreateTable: true})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []string{"CreateTable"}, f.history())
}

func TestNewCreateTableFails(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), fakeClient(t, &fakeDynamo{}), &Config{Table: "prs", CreateTable: true})
	require.ErrorContains(t, err, "ensure table prs")
	assert.Nil(t, c)
}

func TestGobRoundTrip(t *testing.T) {
	t.Parallel()

	in := ghcache.CacheItem{
		Data:     []byte(`{"login":"alice"}`),
		StoredAt: time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		TTL:      10 * time.Minute,
	}

	b, err := gobEncode(in)
	require.NoError(t, err)

	var out ghcache.CacheItem
	require.NoError(t, gobDecode(b, &out))
	assert.JSONEq(t, string(in.Data), string(out.Data))
	assert.Equal(t, in.TTL, out.TTL)
	assert.True(t, in.StoredAt.Equal(out.StoredAt))
}
