package main

import (
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/stuffbin"
	flag "github.com/spf13/pflag"

	"codocs/internal/hub"
	"codocs/store"
	"codocs/store/fs"
	"codocs/store/mem"
	"codocs/store/redis"
	"codocs/store/sqlite"
)

var (
	logger = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	ko     = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

// App is the global app context that's passed around.
type App struct {
	hub    *hub.Hub
	cfg    *hub.Config
	tpl    *template.Template
	fs     stuffbin.FileSystem
	logger *log.Logger
}

func loadConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, c := range cFiles {
		log.Printf("reading config: %s", c)
		if err := ko.Load(file.Provider(c), toml.Parser()); err != nil {
			log.Printf("error reading config: %v", err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("CODOCS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CODOCS_")), "__", ".", -1)
	}), nil); err != nil {
		log.Printf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

// initFS initializes the stuffbin embedded static filesystem.
func initFS() stuffbin.FileSystem {
	// Get self executable path to initialise stuffed FS.
	exe, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}

	// Read stuffed data from self.
	sfs, err := stuffbin.UnStuff(exe)
	if err != nil {
		// Binary is unstuffed or is running in dev mode.
		// Fall back to the local filesystem.
		if err == stuffbin.ErrNoID {
			sfs, err = stuffbin.NewLocalFS("./", "./static")
			if err != nil {
				log.Fatalf("error falling back to local filesystem: %v", err)
			}
		} else {
			log.Fatalf("error reading stuffed binary: %v", err)
		}
	}
	return sfs
}

// initStore initializes the document store selected by 'store.backend'.
func initStore() store.Store {
	switch backend := ko.String("store.backend"); backend {
	case "redis":
		var cfg redis.Config
		if err := ko.Unmarshal("store.redis", &cfg); err != nil {
			logger.Fatalf("error unmarshalling 'store.redis' config: %v", err)
		}
		s, err := redis.New(cfg)
		if err != nil {
			logger.Fatalf("error initializing redis store: %v", err)
		}
		return s

	case "fs":
		var cfg fs.Config
		if err := ko.Unmarshal("store.fs", &cfg); err != nil {
			logger.Fatalf("error unmarshalling 'store.fs' config: %v", err)
		}
		s, err := fs.New(cfg, logger)
		if err != nil {
			logger.Fatalf("error initializing fs store: %v", err)
		}
		return s

	case "sqlite":
		var cfg sqlite.Config
		if err := ko.Unmarshal("store.sqlite", &cfg); err != nil {
			logger.Fatalf("error unmarshalling 'store.sqlite' config: %v", err)
		}
		s, err := sqlite.New(cfg, logger)
		if err != nil {
			logger.Fatalf("error initializing sqlite store: %v", err)
		}
		return s

	case "", "mem":
		s, err := mem.New(mem.Config{})
		if err != nil {
			logger.Fatalf("error initializing mem store: %v", err)
		}
		return s
	}

	logger.Fatalf("unknown store backend: %s", ko.String("store.backend"))
	return nil
}

// catchInterrupts flushes all active rooms and exits on OS interrupts.
func catchInterrupts(app *App) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-c
		logger.Printf("shutting down: %v", sig)
		app.hub.Shutdown()
		os.Exit(0)
	}()
}

func main() {
	// Load configuration from files.
	loadConfig()

	// Initialize global app context.
	app := &App{
		logger: logger,
		fs:     initFS(),
	}
	if err := ko.Unmarshal("app", &app.cfg); err != nil {
		logger.Fatalf("error unmarshalling 'app' config: %v", err)
	}
	if app.cfg.WSTimeout == 0 {
		app.cfg.WSTimeout = 3 * time.Second
	}
	if app.cfg.MaxMessageLen == 0 {
		app.cfg.MaxMessageLen = 1 << 20
	}
	if app.cfg.MaxMessageQueue == 0 {
		app.cfg.MaxMessageQueue = 100
	}
	if app.cfg.SaveInterval == 0 {
		app.cfg.SaveInterval = 2 * time.Second
	}

	app.hub = hub.NewHub(app.cfg, initStore(), logger)

	// Load the embedded page templates.
	tpl, err := stuffbin.ParseTemplatesGlob(nil, app.fs, "/static/*.html")
	if err != nil {
		logger.Fatalf("error parsing templates: %v", err)
	}
	app.tpl = tpl

	// Setup the routes.
	r := chi.NewRouter()
	r.Get("/", wrap(handleIndex, app))
	r.Get("/ws", wrap(handleWS, app))
	r.Get("/api/config", wrap(handleGetConfig, app))
	r.Get("/api/documents/{docID}", wrap(handleGetDocument, app))
	r.Get("/static/*", app.fs.FileServer().ServeHTTP)

	catchInterrupts(app)

	// Optionally serve the relay as a Tor onion service.
	if ko.Bool("app.tor") {
		pk, err := getOrCreatePK(ko.String("app.tor_key_file"))
		if err != nil {
			logger.Fatalf("error loading onion key: %v", err)
		}
		ln, err := net.Listen("tcp", app.cfg.Address)
		if err != nil {
			logger.Fatalf("couldn't listen on %s: %v", app.cfg.Address, err)
		}
		logger.Printf("starting onion service at http://%s.onion", onionAddr(pk))
		ts := &torServer{Handler: r, PrivateKey: pk}
		if err := ts.Serve(ln); err != nil {
			logger.Fatalf("couldn't start onion service: %v", err)
		}
		return
	}

	logger.Printf("starting server on %s", app.cfg.Address)
	srv := &http.Server{
		Addr:    app.cfg.Address,
		Handler: r,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("couldn't start server: %v", err)
	}
}
