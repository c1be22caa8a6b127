package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/scopehost/comm"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "scopesrv.yml"
	k              = koanf.New(".")
)

// commands maps the first argument to what scopesrv does with it
var commands = map[string]func(){
	"help":    help,
	"mkconf":  mkconf,
	"conf":    printconf,
	"ports":   ports,
	"run":     run,
	"version": pversion,
}

func setupconfig() {
	k.Load(structs.Provider(Defaults(), "koanf"), nil)
	err := k.Load(file.Provider(ConfigFileName), yaml.Parser())
	if err != nil && !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") {
		log.Fatalf("error loading config: %v", err)
	}
}

func loadconfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `scopesrv talks to a two channel USB oscilloscope and exposes it over HTTP,
so that any language with an HTTP client can capture frames, drive the
waveform generator, and run Bode sweeps.

Usage:
	scopesrv <command>

Commands:
	run
	help
	mkconf
	conf
	ports
	version`
	fmt.Println(str)
}

func help() {
	str := `scopesrv reads scopesrv.yml from the working directory.  For a primer on YAML, see
https://yaml.org/start.html

Fields:
	Addr         address to listen at, ":8000"
	Port         serial device (/dev/ttyACM0, COM3) or host:port TCP bridge.
	             Empty finds the instrument by USB vendor and product ID.
	Mock         serve a simulated instrument, for clients under development
	Calibration  path to a calibration YAML file, keys scale, baseline,
	             correction, offsetCorrection, correctOffset
	LowPass      apply the width-5 low-pass filter to every frame
	Root         URL prefix of the routes, "/scope"
	Stream       serve the websocket event stream at <Root>/stream
	Device       device configuration applied at startup

Routes are listed at /endpoints once the server is running.  Any route but
/lock and /unlock replies 423 while the instrument is locked.`
	fmt.Println(str)
}

func writeconf(w io.Writer) {
	if err := yml.NewEncoder(w).Encode(loadconfig()); err != nil {
		log.Fatal(err)
	}
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	writeconf(f)
}

func printconf() {
	writeconf(os.Stdout)
}

func ports() {
	list, err := comm.List()
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range list {
		mark := ""
		if p.Instrument() {
			mark = " <- oscilloscope"
		}
		fmt.Printf("%s\t%s:%s%s\n", p.Name, p.VID, p.PID, mark)
	}
}

func pversion() {
	fmt.Printf("scopesrv version %v\n", Version)
}

func run() {
	c := loadconfig()
	ctl, err := Open(c)
	if err != nil {
		log.Fatal(err)
	}
	defer ctl.Close()
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, BuildMux(c, ctl)))
}

func main() {
	if len(os.Args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd, ok := commands[strings.ToLower(os.Args[1])]
	if !ok {
		log.Fatalf("unknown command %q", os.Args[1])
	}
	cmd()
}
