package main

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/nasa-jpl/scopehost/calib"
	"github.com/nasa-jpl/scopehost/generichttp"
	httpscope "github.com/nasa-jpl/scopehost/generichttp/scope"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/scope"
	"github.com/nasa-jpl/scopehost/server/middleware/locker"
)

// Config is the server configuration, populated from defaults and
// scopesrv.yml
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Port is the serial device or host:port TCP bridge of the instrument.
	// Empty finds the instrument by its USB IDs.
	Port string `koanf:"Port" yaml:"Port"`

	// Mock serves a simulated instrument
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Calibration is the path to a calibration YAML file, stock constants
	// if empty
	Calibration string `koanf:"Calibration" yaml:"Calibration"`

	LowPass bool `koanf:"LowPass" yaml:"LowPass"`

	// Root is the URL prefix routes are served under
	Root string `koanf:"Root" yaml:"Root"`

	// Stream enables the websocket event stream
	Stream bool `koanf:"Stream" yaml:"Stream"`

	// Device is the configuration applied at startup
	Device oscilloscope.Config `koanf:"Device" yaml:"Device"`
}

// Defaults is the configuration used for anything scopesrv.yml leaves out
func Defaults() Config {
	return Config{
		Addr:   ":8000",
		Root:   "/scope",
		Stream: true,
		Device: oscilloscope.DefaultConfig(),
	}
}

// Options turns the configuration into controller options
func (c Config) Options() (scope.Options, error) {
	opts := scope.DefaultOptions()
	if err := c.Device.Validate(); err != nil {
		return opts, fmt.Errorf("device config: %w", err)
	}
	opts.Config = c.Device
	if c.Calibration != "" {
		k, err := calib.LoadYaml(c.Calibration)
		if err != nil {
			return opts, fmt.Errorf("calibration %s: %w", c.Calibration, err)
		}
		opts.Pipeline.Constants = k
	}
	opts.Pipeline.LowPass = c.LowPass
	return opts, nil
}

// Open builds a controller and connects it to the instrument, or to a
// simulator in mock mode
func Open(c Config) (*scope.Controller, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	ctl := scope.New(opts)
	if c.Mock {
		log.Println("serving a simulated instrument")
		err = ctl.ConnectPort(scope.NewSimulator())
	} else {
		err = ctl.Connect(c.Port)
	}
	if err != nil {
		ctl.Close()
		return nil, err
	}
	return ctl, nil
}

// BuildMux serves ctl under c.Root with the lock middleware and request
// logging.  The root serves /endpoints, the routes of the instrument.
func BuildMux(c Config, ctl *scope.Controller) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	h := httpscope.NewHTTPScope(ctl, c.Stream)
	lock := locker.New()
	locker.Inject(h, lock)

	r := chi.NewRouter()
	r.Use(lock.Check)
	h.RT().Bind(r)

	stem := "/" + strings.Trim(c.Root, "/")
	root.Mount(stem, r)
	if stem != "/" {
		root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
			generichttp.RespondJSON(w, map[string][]string{stem: h.RT().Endpoints()})
		})
	}
	return root
}
