package main

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/Veraticus/inactivity-detector/pkg/interfaces"
)

// pageTemplate is served at / so a browser tab can act as the observed
// surface. It forwards the configured events over the bridge and shows
// the latest signal.
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>inactivity-detector</title>
<style>
body { font-family: sans-serif; height: 100vh; margin: 0; display: flex; align-items: center; justify-content: center; }
#status { font-size: 2em; }
</style>
</head>
<body>
<div id="status">connecting</div>
<script>
const events = {{.Events}};
const status = document.getElementById("status");
const proto = location.protocol === "https:" ? "wss:" : "ws:";
const ws = new WebSocket(proto + "//" + location.host + "/ws");
ws.onopen = () => { status.textContent = "active"; };
ws.onclose = () => { status.textContent = "disconnected"; };
ws.onmessage = (m) => {
  const msg = JSON.parse(m.data);
  if (msg.type === "timeout") {
    status.textContent = "idle " + msg.elapsed + "m";
  } else if (msg.type === "reset") {
    status.textContent = "active";
  }
};
for (const name of events) {
  document.addEventListener(name, () => {
    if (ws.readyState === WebSocket.OPEN) {
      ws.send(JSON.stringify({type: name}));
    }
  }, {passive: true});
}
</script>
</body>
</html>
`))

type pageHandler struct {
	body []byte
}

// newPageHandler renders the page once for the given event names
func newPageHandler(events []string) http.Handler {
	if events == nil {
		events = []string{}
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, struct{ Events []string }{events}); err != nil {
		panic(err)
	}
	return &pageHandler{body: buf.Bytes()}
}

func (h *pageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(h.body)
}

// statusReply is the JSON body served at /status
type statusReply struct {
	Idle         bool      `json:"idle"`
	LastActivity time.Time `json:"last_activity"`
	Threshold    float64   `json:"threshold_minutes"`
}

type statusHandler struct {
	detector  interfaces.IdleDetector
	threshold func() time.Duration
}

// newStatusHandler reports whether the user has been idle for the current
// threshold.
func newStatusHandler(detector interfaces.IdleDetector, threshold func() time.Duration) http.Handler {
	return &statusHandler{detector: detector, threshold: threshold}
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	threshold := h.threshold()
	idle, err := h.detector.IsUserIdle(threshold)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusReply{
		Idle:         idle,
		LastActivity: h.detector.LastActivity(),
		Threshold:    threshold.Minutes(),
	})
}
