package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nasa-jpl/scopehost/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func TestCheck(t *testing.T) {
	l := New()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := l.Check(ok)

	tests := []struct {
		locked bool
		path   string
		want   int
	}{
		{false, "/run", http.StatusOK},
		{true, "/run", http.StatusLocked},
		{true, "/lock", http.StatusOK},
		{true, "/scope/unlock", http.StatusOK},
	}
	for _, tt := range tests {
		if tt.locked {
			l.Lock()
		} else {
			l.Unlock()
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("locked=%v %s: got %d, expected %d", tt.locked, tt.path, w.Code, tt.want)
		}
	}
}

func TestInjectAndSet(t *testing.T) {
	l := New()
	rt := table{}
	Inject(rt, l)
	set := rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}]
	if set == nil {
		t.Fatal("POST /lock not injected")
	}
	w := httptest.NewRecorder()
	set(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": true}`)))
	if w.Code != http.StatusOK || !l.Locked() {
		t.Fatalf("lock via POST: code %d locked %v", w.Code, l.Locked())
	}
	w = httptest.NewRecorder()
	set(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": false}`)))
	if l.Locked() {
		t.Error("still locked after {bool: false}")
	}
	w = httptest.NewRecorder()
	set(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{bool`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d", w.Code)
	}

	l.Lock()
	w = httptest.NewRecorder()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}](w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"bool":true}` {
		t.Errorf("GET /lock body %s", got)
	}
	w = httptest.NewRecorder()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/unlock"}](w, httptest.NewRequest(http.MethodPost, "/unlock", nil))
	if l.Locked() {
		t.Error("still locked after POST /unlock")
	}
}
