package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tecctl/internal/tec"
)

type nopActuator struct{}

func (nopActuator) EstimatedPrintTime(eventtime float64) float64 { return eventtime }
func (nopActuator) SetDuty(printTime, duty float64) error        { return nil }

type nopShutdown struct{}

func (nopShutdown) InvokeShutdown(string) {}

type constSource float64

func (c constSource) Temperature(float64) (float64, error) { return float64(c), nil }

func newController(t *testing.T, name string, observers ...tec.Observer) *tec.Controller {
	t.Helper()
	cfg := tec.DefaultConfig(name)
	ctrl, err := tec.NewController(cfg, tec.Deps{
		Actuator:  nopActuator{},
		Shutdown:  nopShutdown{},
		Jitter:    tec.FixedJitter(0),
		Observers: observers,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.OnConnect(constSource(60), constSource(40)))
	return ctrl
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(Handler(opts))
	t.Cleanup(ts.Close)
	return ts
}

func TestAPIStatus_ListsInstancesSorted(t *testing.T) {
	st := NewStatus()
	st.Add(newController(t, "right"), nil)
	st.Add(newController(t, "left"), func() any { return map[string]any{"pin": "18"} })
	st.MarkShutdown("[left] cold side sensor unavailable")

	ts := newTestServer(t, Options{Status: st})
	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap StatusSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "tecctl", snap.Service)
	assert.Equal(t, "[left] cold side sensor unavailable", snap.ShutdownReason)
	require.Len(t, snap.TECs, 2)
	assert.Equal(t, "left", snap.TECs[0].Name)
	assert.Equal(t, "right", snap.TECs[1].Name)
	assert.NotNil(t, snap.TECs[0].Details)
	assert.Nil(t, snap.TECs[1].Details)
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, Options{})
	resp, err := http.Post(ts.URL+"/api/status", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
}

func TestAPITec_GetHasFanStyleKeys(t *testing.T) {
	st := NewStatus()
	ctrl := newController(t, "chamber")
	st.Add(ctrl, nil)
	ctrl.SetEnable(true)
	_, err := ctrl.Cycle(10)
	require.NoError(t, err)

	ts := newTestServer(t, Options{Status: st})
	resp, err := http.Get(ts.URL + "/api/tec/chamber")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	for _, key := range []string{"speed", "pwm_value", "rpm", "duty_fraction", "temp_cold", "temp_hot"} {
		assert.Contains(t, raw, key)
	}
	assert.Nil(t, raw["rpm"])
	assert.Equal(t, 60.0, raw["temp_cold"])
}

func TestAPITec_UnknownInstance(t *testing.T) {
	ts := newTestServer(t, Options{Status: NewStatus()})
	resp, err := http.Get(ts.URL + "/api/tec/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.PostForm(ts.URL+"/api/tec/nope", url.Values{"TARGET": {"30"}})
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func postCommand(t *testing.T, ts *httptest.Server, path string, form url.Values) (int, CommandResponse, string) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out CommandResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp.StatusCode, out, string(body)
}

func TestAPITec_FormCommand(t *testing.T) {
	st := NewStatus()
	ctrl := newController(t, "chamber")
	st.Add(ctrl, nil)
	ts := newTestServer(t, Options{Status: st})

	code, out, body := postCommand(t, ts, "/api/tec/chamber", url.Values{"TARGET": {"42.5"}, "enable": {"1"}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "TARGET_TEMP=42.5", out.Response)
	assert.True(t, out.Status.Enabled)
	assert.Equal(t, 42.5, out.Status.TargetTemp)

	// Empty command just echoes the target.
	code, out, _ = postCommand(t, ts, "/api/tec/chamber", url.Values{})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "TARGET_TEMP=42.5", out.Response)

	// Query parameters are accepted as well.
	resp, err := http.Post(ts.URL+"/api/tec/chamber?ENABLE=0", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, ctrl.Status().Enabled)
}

func TestAPITec_RejectsBadCommands(t *testing.T) {
	st := NewStatus()
	ctrl := newController(t, "chamber")
	st.Add(ctrl, nil)
	ts := newTestServer(t, Options{Status: st})

	cases := []struct {
		form url.Values
		want string
	}{
		{url.Values{"ENABLE": {"2"}}, "ENABLE must be 0 or 1"},
		{url.Values{"ENABLE": {"yes"}}, "ENABLE must be 0 or 1"},
		{url.Values{"TARGET": {"warm"}}, "TARGET must be a number"},
		{url.Values{"TARGET": {"NaN"}}, "TARGET must be a finite number"},
	}
	for _, tc := range cases {
		code, _, body := postCommand(t, ts, "/api/tec/chamber", tc.form)
		assert.Equal(t, http.StatusBadRequest, code, tc.form.Encode())
		assert.Contains(t, body, tc.want)
	}
	assert.False(t, ctrl.Status().Enabled)
	assert.Equal(t, 50.0, ctrl.Status().TargetTemp)
}

func TestAPITec_JSONCommand(t *testing.T) {
	st := NewStatus()
	st.Add(newController(t, "chamber"), nil)
	ts := newTestServer(t, Options{Status: st})

	resp, err := http.Post(ts.URL+"/api/tec/chamber", "application/json", strings.NewReader(`{"TARGET": 35, "ENABLE": 1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out CommandResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "TARGET_TEMP=35", out.Response)
	assert.True(t, out.Status.Enabled)

	resp2, err := http.Post(ts.URL+"/api/tec/chamber", "application/json", strings.NewReader(`{"ENABLE": 0.5}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestAPITec_MethodNotAllowed(t *testing.T) {
	st := NewStatus()
	st.Add(newController(t, "chamber"), nil)
	ts := newTestServer(t, Options{Status: st})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/tec/chamber", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, POST", resp.Header.Get("Allow"))
}

func TestRootPage(t *testing.T) {
	st := NewStatus()
	st.Add(newController(t, "chamber"), nil)
	ts := newTestServer(t, Options{Status: st})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "chamber control=watermark")

	resp2, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestMetricsAndAboutMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tecctl_up 1\n"))
	})
	ts := newTestServer(t, Options{Metrics: metrics})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "tecctl_up 1\n", string(body))

	resp, err = http.Get(ts.URL + "/api/about")
	require.NoError(t, err)
	defer resp.Body.Close()
	var about AboutResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&about))
	assert.Equal(t, "tecctl", about.Service)
	assert.NotEmpty(t, about.GoVersion)
}

func TestStream_DeliversSamples(t *testing.T) {
	b := NewBroadcaster()
	st := NewStatus()
	a := newController(t, "a", b)
	other := newController(t, "b", b)
	st.Add(a, nil)
	st.Add(other, nil)

	stop := make(chan struct{})
	defer close(stop)
	ts := newTestServer(t, Options{Status: st, Stream: b, Stop: stop})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream?tec=a"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait until the handler subscribed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.RLock()
		n := len(b.subs)
		b.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err = other.Cycle(1)
	require.NoError(t, err)
	_, err = a.Cycle(2)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got tec.Status
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 2.0, got.LastEventTime)
}
