package generichttp_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ammarkh95/gopm/comm"
	"github.com/ammarkh95/gopm/generichttp"
	"github.com/ammarkh95/gopm/keysight"
)

func TestErrorStatusByKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"range", keysight.RangeError{Op: "set voltage", Value: 31, Min: 0, Max: 30}, http.StatusBadRequest},
		{"state", keysight.StateError{Op: "fetch", Reason: "continuous acquisition is not running"}, http.StatusConflict},
		{"comm", comm.Wrap("READ?", errors.New("pipe error")), http.StatusInternalServerError},
		{"config", &keysight.ConfigError{Stage: "identify", Err: errors.New("wrong box")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			generichttp.Error(w, tc.err)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestSubMuxSanitize(t *testing.T) {
	cases := map[string]string{
		"bench/psu":   "/bench/psu",
		"/bench/psu":  "/bench/psu",
		"bench/smu/":  "/bench/smu",
		"bench/smu/*": "/bench/smu",
	}
	for in, want := range cases {
		if got := generichttp.SubMuxSanitize(in); got != want {
			t.Errorf("SubMuxSanitize(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestEndpointsSorted(t *testing.T) {
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/b"}: nil,
		{Method: http.MethodGet, Path: "/a"}:  nil,
	}
	eps := rt.Endpoints()
	want := []string{"GET /a", "POST /b"}
	if len(eps) != len(want) {
		t.Fatalf("expected %d endpoints, got %d", len(want), len(eps))
	}
	for i := range want {
		if eps[i] != want[i] {
			t.Errorf("endpoint %d: expected %q, got %q", i, want[i], eps[i])
		}
	}
}
