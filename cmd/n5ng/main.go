// Command n5ng serves an N5 or Zarr store to neuroglancer as precomputed volumes.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/server"
	"github.com/janelia-flyem/n5ng/storage"

	// Array engines
	_ "github.com/janelia-flyem/n5ng/storage/n5"
	_ "github.com/janelia-flyem/n5ng/storage/zarr"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// TOML configuration file.
	configFile = flag.String("config", "", "")

	// Address for http communication
	httpAddress = flag.String("http", "", "")

	// Address used if the http address cannot be bound.
	fallbackAddress = flag.String("fallback", "", "")

	// Host that serves mesh fragments.
	meshHost = flag.String("meshhost", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Profile memory usage using standard gotest system.
	memprofile = flag.String("memprofile", "", "")

	// Number of logical CPUs to use.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
n5ng serves N5 and Zarr arrays to neuroglancer through the precomputed HTTP layout.

Usage: n5ng [options] <store path or URL>

      -config     =string   TOML configuration file.
      -http       =string   Address for HTTP communication (default %s).
      -fallback   =string   Address used when the HTTP address is taken (default %s).
      -meshhost   =string   Host to which mesh fragment requests are redirected.
      -cpuprofile =string   Write CPU profile to this file.
      -memprofile =string   Write memory profile to this file on ctrl-C.
      -numcpu     =number   Number of logical CPUs to use.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

The store may be a local directory, file://, mem://, s3://bucket/prefix or
gs://bucket/prefix.  It may also be given as [store].ref in the config file.

Available array engines: %v
`

var usage = func() {
	fmt.Printf(helpMessage, server.DefaultWebAddress, server.DefaultFallbackAddress, storage.EnginesAvailable())
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if *runVerbose {
		n5ng.Verbose = true
		n5ng.SetLogMode(n5ng.DebugMode)
	}
	if *showHelp || (flag.NArg() == 0 && *configFile == "") {
		flag.Usage()
		os.Exit(0)
	}

	if *useCPU != 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	if err := serve(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func loadConfig() (server.Config, error) {
	cfg := server.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = server.LoadConfig(*configFile); err != nil {
			return cfg, err
		}
	}

	// cli overrides -- won't set if empty string
	if flag.NArg() > 0 {
		cfg.Store.Ref = flag.Arg(0)
	}
	if *httpAddress != "" {
		cfg.Server.HTTPAddress = *httpAddress
	}
	if *fallbackAddress != "" {
		cfg.Server.FallbackAddress = *fallbackAddress
	}
	if *meshHost != "" {
		cfg.Mesh.Host = *meshHost
	}
	if cfg.Store.Ref == "" {
		return cfg, fmt.Errorf("no store given on the command line or as [store].ref")
	}
	return cfg, cfg.Validate()
}

// serve opens the store and handles requests until a stop signal arrives.
func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Logging.SetLogger()
	defer n5ng.Shutdown()
	n5ng.Infof("n5ng %s using %d of %d logical CPUs\n", n5ng.Version, runtime.GOMAXPROCS(0), runtime.NumCPU())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timedLog := n5ng.NewTimeLog()
	store, err := storage.Open(ctx, cfg.Store.Ref, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("unable to open store %q: %v", cfg.Store.Ref, err)
	}
	defer store.Close()
	timedLog.Infof("Opened store %s", cfg.Store.Ref)

	s, err := server.New(cfg, store)
	if err != nil {
		return err
	}
	defer s.Close()

	ln, err := s.Listen()
	if err != nil {
		return err
	}
	err = s.Serve(ctx, ln)

	n5ng.Infof("Stop signal captured.  Shutting down...\n")
	if *memprofile != "" {
		n5ng.Infof("Storing memory profiling to %s...\n", *memprofile)
		f, ferr := os.Create(*memprofile)
		if ferr != nil {
			return ferr
		}
		pprof.WriteHeapProfile(f)
		f.Close()
	}
	return err
}
