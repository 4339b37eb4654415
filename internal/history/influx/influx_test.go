package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/lokivisor/internal/history"
)

func TestToPoint(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	p := toPoint(history.Event{Type: history.EventEscalate, OccurredAt: at, Record: history.Record{Name: "lokinet", PID: 12, Status: "stopping", Error: "x"}})

	assert.Equal(t, measurement, p.Name())
	assert.Equal(t, at, p.Time())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"event": "escalate", "name": "lokinet"}, tags)
	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(12), fields["pid"])
	assert.Equal(t, "x", fields["error"])
}

func TestSink_SendWritesLineProtocol(t *testing.T) {
	var mu sync.Mutex
	var body, query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			body, query = string(b), r.URL.RawQuery
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	s, err := New(ts.URL, "token", "lokinet-org", "lifecycle")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	e := history.Event{Type: history.EventStart, OccurredAt: time.Now(), Record: history.Record{Name: "lokinet", PID: 3, Status: "starting"}}
	require.NoError(t, s.Send(context.Background(), e))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(body, "lifecycle_event,event=start,name=lokinet "), body)
	assert.Contains(t, query, "bucket=lifecycle")
	assert.Contains(t, query, "org=lokinet-org")
}

func TestNew_RequiresOrgAndBucket(t *testing.T) {
	_, err := New("http://127.0.0.1:1", "t", "", "b")
	assert.Error(t, err)
}
