// Package generichttp defines interfaces for generic devices
// and an extensible type that wraps them in an HTTP interface
package generichttp

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"sort"
	"strings"

	"github.com/ammarkh95/gopm/keysight"
	"github.com/go-chi/chi"
)

// MethodPath is the method and path of an HTTP route
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method-paths to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in the table, sorted, as "METHOD /path"
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for mp := range rt {
		routes = append(routes, mp.Method+" "+mp.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind attaches every route in the table to a chi router
func (rt RouteTable) Bind(r chi.Router) {
	for mp, handler := range rt {
		r.Method(mp.Method, mp.Path, handler)
	}
}

// HTTPer is an object which can yield a route table binding its
// methods to HTTP routes
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize cleans a mount point for use with chi's Mount,
// "omc/nkt/" => "/omc/nkt"
func SubMuxSanitize(stem string) string {
	stem = strings.TrimSuffix(strings.TrimSuffix(stem, "*"), "/")
	if !strings.HasPrefix(stem, "/") {
		stem = "/" + stem
	}
	return stem
}

// Error writes err to the response with the status its kind calls for:
// an operation that is illegal in the current instrument state is a
// conflict, a rejected argument is a bad request, anything else is an
// internal error.
func Error(w http.ResponseWriter, err error) {
	var (
		se keysight.StateError
		re keysight.RangeError
	)
	switch {
	case errors.As(err, &re):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &se):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// FloatT is a struct with a single float64 field, used for JSON I/O
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, used for JSON I/O
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, used for JSON I/O
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, used for JSON I/O
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct containing the basic types and their human
// readable HTTP rendition
type HumanPayload struct {
	// T holds the type of data actually contained
	T types.BasicKind

	Bool   bool
	Int    int
	Float  float64
	String string
}

// EncodeAndRespond writes the payload to w as JSON
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.F64)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.Int, Int: i}
		hp.EncodeAndRespond(w, r)
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(i.Int)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
