package generichttp

import (
	"errors"
	"fmt"
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/scopehost/acquire"
	"github.com/nasa-jpl/scopehost/oscilloscope"
)

func nop(w http.ResponseWriter, r *http.Request) {}

func TestEndpoints(t *testing.T) {
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/b"}:  nop,
		{Method: http.MethodPost, Path: "/b"}: nop,
		{Method: http.MethodGet, Path: "/a"}:  nop,
	}
	if diff := cmp.Diff([]string{"/a", "/b"}, rt.Endpoints()); diff != "" {
		t.Errorf("endpoints (-want +got):\n%s", diff)
	}
}

func TestHumanPayload(t *testing.T) {
	tests := []struct {
		hp   HumanPayload
		want string
	}{
		{HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
		{HumanPayload{T: types.Float64, Float: 1.5}, `{"f64":1.5}`},
		{HumanPayload{T: types.Int, Int: 7}, `{"int":7}`},
		{HumanPayload{T: types.String, String: "x"}, `{"str":"x"}`},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		tt.hp.EncodeAndRespond(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if got := strings.TrimSpace(w.Body.String()); got != tt.want {
			t.Errorf("got %s, expected %s", got, tt.want)
		}
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: gain 3", oscilloscope.ErrInvalidParameter), http.StatusBadRequest},
		{acquire.ErrAcquisitionInProgress, http.StatusConflict},
		{errors.New("port gone"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, expected %d", tt.err, got, tt.want)
		}
	}
}

func TestBindAndSetInt(t *testing.T) {
	var got int
	rt := RouteTable{
		{Method: http.MethodPost, Path: "/n"}: SetInt(func(i int) error {
			if i < 0 {
				return oscilloscope.ErrInvalidParameter
			}
			got = i
			return nil
		}),
	}
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/n", strings.NewReader(`{"int": 5}`)))
	if w.Code != http.StatusOK || got != 5 {
		t.Errorf("code %d value %d", w.Code, got)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/n", strings.NewReader(`{"int": -1}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative: code %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `["/n"]` {
		t.Errorf("endpoints body %s", got)
	}
}
