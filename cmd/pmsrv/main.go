package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "pmsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:  ":8000",
		Nodes: []NodeSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `pmsrv communicates with bench power instruments and exposes an HTTP
interface to them.  This enables a server-client architecture, and the
clients can leverage the excellent HTTP libraries for any programming
language.

Usage:
	pmsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `pmsrv is amenable to configuration via its .yaml file.  For a primer on
YAML, see https://yaml.org/start.html

Without a configuration, the server will start with no instrument routes
and only serve /endpoints.

No two nodes can have the same Endpoint.

Set Mock: true to swap every instrument for a simulated one; the routes
behave the same without hardware on the bus.

Hardware and matching "type" fields, case insensitive:
- Keysight
	> U3606 source / multimeter "u3606", "supply"
	> U2722 / U2723 USB modular source measure unit "u2723", "smu"

Each node is served under its Endpoint, ex. Endpoint="bench/psu" gives
routes like /bench/psu/output-voltage.  GET /endpoints on the root lists
every route of every node.  POST {"bool": true} to <endpoint>/lock to
refuse outside traffic while a human works on the instrument.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("pmsrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux, closers, err := BuildMux(c)
	if err != nil {
		log.Fatal(err)
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log.Println("shutting down, quieting instruments")
		for _, cl := range closers {
			if err := cl.Close(); err != nil {
				log.Println(err)
			}
		}
		os.Exit(0)
	}()
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
