package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/ammarkh95/gopm/generichttp"
	"github.com/ammarkh95/gopm/generichttp/power"
	"github.com/ammarkh95/gopm/keysight"
	"github.com/ammarkh95/gopm/server/middleware/locker"
)

// NodeSetup holds the arguments to open one instrument.  Serial is not
// always needed; with a single instrument of the kind on the bus it may
// be left out of the config file.
type NodeSetup struct {
	// Endpoint is the stem the node's routes are served under,
	// ex. Endpoint="bench/smu" produces routes of /bench/smu/voltage, etc.
	Endpoint string `yaml:"Endpoint"`

	// Type is the kind of instrument, see help for the list
	Type string `yaml:"Type"`

	// Serial is the USB serial number of the instrument
	Serial string `yaml:"Serial"`

	// Handshaking audits every command against the instrument error queue
	Handshaking bool `yaml:"Handshaking"`

	// RateHz caps the outbound command rate when positive
	RateHz float64 `yaml:"RateHz"`
}

// Config is a struct that holds the initialization parameters for the
// instruments to serve.  It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock swaps every instrument for a simulated one
	Mock bool `yaml:"Mock"`

	// Nodes is the list of nodes to set up
	Nodes []NodeSetup `yaml:"Nodes"`
}

// BuildMux builds a chi router with one submux per configured node.
// The returned closers are the instruments it opened; the caller owns
// them and quiets them on the way out.  If any node fails to open, the
// ones already opened are closed and the error is returned.
func BuildMux(c Config) (chi.Router, []io.Closer, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	closers := []io.Closer{}
	fail := func(err error) (chi.Router, []io.Closer, error) {
		for _, cl := range closers {
			cl.Close()
		}
		return nil, nil, err
	}
	for _, node := range c.Nodes {
		var httper generichttp.HTTPer
		typ := strings.ToLower(node.Type)
		switch typ {
		case "u3606", "supply":
			cfg := keysight.SupplyConfig{
				Serial:        node.Serial,
				Handshaking:   node.Handshaking,
				CommandRateHz: node.RateHz,
			}
			var (
				sup *keysight.Supply
				err error
			)
			if c.Mock {
				sup, err = keysight.NewSupply(keysight.NewSimU3606(), cfg)
			} else {
				sup, err = keysight.OpenSupply(cfg)
			}
			if err != nil {
				return fail(err)
			}
			closers = append(closers, sup)
			httper = power.NewHTTPSupply(sup)

		case "u2723", "smu":
			cfg := keysight.SourceMeasureConfig{
				Serial:        node.Serial,
				Handshaking:   node.Handshaking,
				CommandRateHz: node.RateHz,
			}
			var (
				smu *keysight.SourceMeasure
				err error
			)
			if c.Mock {
				smu, err = keysight.NewSourceMeasure(keysight.NewSimU2723(), cfg)
			} else {
				smu, err = keysight.OpenSourceMeasure(cfg)
			}
			if err != nil {
				return fail(err)
			}
			closers = append(closers, smu)
			httper = power.NewHTTPSMU(smu)

		default:
			return fail(fmt.Errorf("type %s not understood", typ))
		}

		// prepare the URL, "bench/smu" => "/bench/smu"
		stem := generichttp.SubMuxSanitize(node.Endpoint)

		// add the endpoints to the graph
		supergraph[stem] = httper.RT().Endpoints()

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)

		// bind to the mux
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(stem, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root, closers, nil
}
