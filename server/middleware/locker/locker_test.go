package locker_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"

	"github.com/ammarkh95/gopm/generichttp"
	"github.com/ammarkh95/gopm/server/middleware/locker"
)

type tableHolder struct{ rt generichttp.RouteTable }

func (t tableHolder) RT() generichttp.RouteTable { return t.rt }

func fixture(t *testing.T) string {
	t.Helper()
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/value"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	lock := locker.New()
	locker.Inject(tableHolder{rt}, lock)
	r := chi.NewRouter()
	r.Use(lock.Check)
	rt.Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func setLock(t *testing.T, url string, locked bool) {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(generichttp.BoolT{Bool: locked}); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url+"/lock", "application/json", buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 manipulating the lock, got %d", resp.StatusCode)
	}
}

func get(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLockRefusesProtectedRoutes(t *testing.T) {
	url := fixture(t)
	if code := get(t, url+"/value"); code != http.StatusOK {
		t.Fatalf("expected 200 before locking, got %d", code)
	}
	setLock(t, url, true)
	if code := get(t, url+"/value"); code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", code)
	}
	setLock(t, url, false)
	if code := get(t, url+"/value"); code != http.StatusOK {
		t.Errorf("expected 200 after unlocking, got %d", code)
	}
}

func TestLockRouteStaysReachableWhileLocked(t *testing.T) {
	url := fixture(t)
	setLock(t, url, true)
	resp, err := http.Get(url + "/lock")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected the lock route to bypass the lock, got %d", resp.StatusCode)
	}
	var b generichttp.BoolT
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	if !b.Bool {
		t.Error("expected the lock to read back engaged")
	}
}
