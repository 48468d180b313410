package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBuffer_JoinsPartialWrites(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("first li"))
	_, _ = b.Write([]byte("ne\nsecond\n\nthi"))

	lines, dropped := b.Snapshot(0, "")
	assert.Equal(t, []string{"first line", "second"}, lines)
	assert.Zero(t, dropped)

	_, _ = b.Write([]byte("rd\r\n"))
	lines, _ = b.Snapshot(0, "")
	assert.Equal(t, []string{"first line", "second", "third"}, lines)
}

func TestLogBuffer_DropsOldest(t *testing.T) {
	b := NewLogBuffer(2)
	_, _ = b.Write([]byte("a\nb\nc\n"))
	lines, dropped := b.Snapshot(10, "")
	assert.Equal(t, []string{"b", "c"}, lines)
	assert.Equal(t, uint64(1), dropped)
}

func TestLogBuffer_TailAndGrep(t *testing.T) {
	b := NewLogBuffer(0)
	_, _ = b.Write([]byte("INF tec=a ok\nWRN tec=b slow\nINF tec=a ok2\nERR tec=a fault\n"))

	lines, _ := b.Snapshot(2, "tec=a")
	assert.Equal(t, []string{"INF tec=a ok2", "ERR tec=a fault"}, lines)
}

func TestLogsHandler(t *testing.T) {
	b := NewLogBuffer(0)
	_, _ = b.Write([]byte("one\ntwo\n"))
	ts := httptest.NewServer(Handler(Options{Logs: b}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?tail=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out LogsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{"two"}, out.Lines)

	resp2, err := http.Get(ts.URL + "/api/logs?format=text")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	assert.Equal(t, "one\ntwo\n", string(body))

	resp3, err := http.Get(ts.URL + "/api/logs?tail=0")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}
