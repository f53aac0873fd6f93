package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/precomputed"
	"github.com/janelia-flyem/n5ng/storage"
	"github.com/rs/cors"
	"github.com/wblakecaldwell/profiler"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"
	"github.com/zenazn/goji/web/mutil"
)

// WebHelp is the text served at /api/help.
const WebHelp = `
n5ng serves N5 and Zarr arrays through the neuroglancer "precomputed" HTTP layout.
Use "precomputed://http://<host>/<dataset>" as the neuroglancer source.

GET  /<dataset>/info
	Volume geometry: data type, scales with resolution, size, chunk size and voxel offset.

GET  /<dataset>/<scale>/<x0>-<x1>_<y0>-<y1>_<z0>-<z1>
	Raw little-endian voxels of the box, x varying fastest.  The body is gzip-encoded
	when the client accepts it.  Optional query string "compression" selects raw, gzip,
	snappy, lz4 or zstd explicitly.

GET  /<dataset>_properties/info
	Segment properties built from the dataset's mesh table.

GET  /<dataset>/mesh/info
GET  /<dataset>/mesh/<id>:0
GET  /<dataset>/mesh/<id>.ngmesh
	Legacy mesh metadata, fragment listing, and the fragment itself (a redirect to the
	configured mesh host, or the stored object when no host is set).  "mesh" stands
	for the configured [mesh] dir.

Dataset names may carry "_n5ngSetValue<N>" to replace every positive voxel with N
and "_n5ngBinarize" to replace every positive voxel with 1.

GET  /api/help
GET  /api/server/info
GET  /metrics
`

// Routes.  Goji tries them in the order they are added.
var (
	helpRE       = regexp.MustCompile(`^/api/help/?$`)
	serverInfoRE = regexp.MustCompile(`^/api/server/info/?$`)
	infoRE       = regexp.MustCompile(`^/(?P<dataset>.+)/info$`)
	dataRE       = regexp.MustCompile(`^/(?P<dataset>.+)/(?P<scale>[^/]+)/(?P<box>-?\d+--?\d+_-?\d+--?\d+_-?\d+--?\d+)$`)
)

// meshRoutes returns the fragment listing and fragment routes under the mesh directory
// advertised in volume info.
func meshRoutes(meshDir string) (fragmentsRE, meshRE *regexp.Regexp) {
	dir := regexp.QuoteMeta(strings.Trim(meshDir, "/"))
	fragmentsRE = regexp.MustCompile(`^/(?P<dataset>.+)/` + dir + `/(?P<id>\d+):0$`)
	meshRE = regexp.MustCompile(`^/(?P<dataset>.+)/` + dir + `/(?P<id>\d+)\.ngmesh$`)
	return
}

func (s *Server) routes() http.Handler {
	fragmentsRE, meshRE := meshRoutes(s.svc.Config().MeshDir)

	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(recoverHandler)

	mux.Get("/metrics", s.metrics.handler())
	mux.Get(helpRE, s.instrument("help", s.helpHandler))
	mux.Get(serverInfoRE, s.instrument("serverinfo", s.serverInfoHandler))
	if s.cfg.Server.Profiling {
		mux.Get("/profiler/info.html", profiler.MemStatsHTMLHandler)
		mux.Get("/profiler/info", profiler.ProfilingInfoJSONHandler)
		mux.Get("/profiler/start", profiler.StartProfilingHandler)
		mux.Get("/profiler/stop", profiler.StopProfilingHandler)
	}

	mux.Get(fragmentsRE, s.instrument("fragments", s.fragmentsHandler))
	mux.Get(meshRE, s.instrument("mesh", s.meshHandler))
	mux.Get(infoRE, s.instrument("info", s.infoHandler))
	mux.Get(dataRE, s.instrument("data", s.dataHandler))
	mux.NotFound(s.instrument("notfound", notFoundHandler))

	origins := s.cfg.Server.CorsDomains
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Encoding"},
	})
	return c.Handler(mux)
}

// instrument records metrics and publishes an activity record for each request.
func (s *Server) instrument(route string, h web.HandlerFunc) web.HandlerFunc {
	return func(c web.C, w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := mutil.WrapWriter(w)
		h(c, ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.observe(route, status, ww.BytesWritten(), elapsed)
		s.activity.Log(Activity{
			Time:      start.Unix(),
			Method:    r.Method,
			URI:       r.URL.RequestURI(),
			Status:    status,
			Bytes:     ww.BytesWritten(),
			Duration:  float64(elapsed) / float64(time.Millisecond),
			RequestID: middleware.GetReqID(c),
			Remote:    r.RemoteAddr,
		})
	}
}

// recoverHandler turns a panicking handler into a 500 response.
func recoverHandler(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if e := recover(); e != nil {
				n5ng.Criticalf("Panic on %s %s (reqid %s): %v\n%s", r.Method, r.URL, middleware.GetReqID(*c), e, debug.Stack())
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// BadRequest writes a 400 with the given message and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	errorMsg := fmt.Sprintf("%s (%s).", message, r.URL.Path)
	n5ng.Errorf("%s\n", errorMsg)
	http.Error(w, errorMsg, http.StatusBadRequest)
}

// errorStatus maps a fault to its HTTP status code.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, n5ng.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, n5ng.ErrBounds), errors.Is(err, n5ng.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, n5ng.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, n5ng.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func replyError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case status == http.StatusBadRequest:
		BadRequest(w, r, "%v", err)
		return
	case status >= http.StatusInternalServerError:
		n5ng.Errorf("%s %s: %v\n", r.Method, r.URL.Path, err)
	default:
		n5ng.Debugf("%s %s: %v\n", r.Method, r.URL.Path, err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		replyError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonBytes); err != nil {
		n5ng.Errorf("unable to write JSON response to %s: %v\n", r.URL.Path, err)
	}
}

func notFoundHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	http.Error(w, fmt.Sprintf("no endpoint for %s", r.URL.Path), http.StatusNotFound)
}

func (s *Server) helpHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, WebHelp)
}

func (s *Server) serverInfoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	entries, metaBytes := s.store.MetadataCacheStats()
	info := struct {
		Version       string
		Engines       []string
		Store         string
		Host          string
		InstanceID    string
		Note          string `json:",omitempty"`
		Started       string
		Uptime        string
		Cores         int
		MaxProcs      int
		ActivityTopic string `json:",omitempty"`
		ChunksRead    int64
		ChunkCache    storage.ChunkCacheStats
		MetadataCache struct {
			Entries int
			Bytes   int64
			Size    string
		}
	}{
		Version:       n5ng.Version.String(),
		Engines:       storage.EnginesAvailable(),
		Store:         s.store.Ref(),
		Host:          s.cfg.WebServer(),
		InstanceID:    s.instanceID,
		Note:          s.cfg.Server.Note,
		Started:       s.started.Format(time.RFC3339),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Cores:         runtime.NumCPU(),
		MaxProcs:      runtime.GOMAXPROCS(0),
		ActivityTopic: s.activity.Topic(),
		ChunksRead:    s.store.ChunksRead(),
		ChunkCache:    s.store.ChunkCacheStats(),
	}
	info.MetadataCache.Entries = entries
	info.MetadataCache.Bytes = metaBytes
	info.MetadataCache.Size = humanize.Bytes(uint64(metaBytes))
	writeJSON(w, r, info)
}

func (s *Server) infoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	timedLog := n5ng.NewTimeLog()
	dataset := c.URLParams["dataset"]
	info, err := s.svc.Info(r.Context(), dataset)
	if err != nil {
		replyError(w, r, err)
		return
	}
	writeJSON(w, r, info)
	timedLog.Debugf("HTTP %s: info for %q", r.Method, dataset)
}

func (s *Server) dataHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	timedLog := n5ng.NewTimeLog()
	ref := precomputed.ParseDatasetRef(c.URLParams["dataset"])
	scale := c.URLParams["scale"]
	box, err := precomputed.ParseBox(c.URLParams["box"])
	if err != nil {
		replyError(w, r, err)
		return
	}
	enc, err := precomputed.NegotiateEncoding(r.Header.Get("Accept-Encoding"), r.URL.Query().Get("compression"))
	if err != nil {
		replyError(w, r, err)
		return
	}
	block, err := s.svc.Subvolume(r.Context(), ref, scale, box)
	if err != nil {
		replyError(w, r, err)
		return
	}
	payload, err := precomputed.Serialize(block, enc, s.svc.Config().GzipLevel)
	if err != nil {
		replyError(w, r, err)
		return
	}
	if err := payload.Write(w); err != nil {
		n5ng.Errorf("unable to write data payload for %s: %v\n", r.URL.Path, err)
		return
	}
	timedLog.Infof("HTTP %s: %s %s box %s (%s %s, %s)", r.Method, ref.Raw, scale, box,
		humanize.Bytes(uint64(len(block.Data))), block.DataType, enc)
}

func (s *Server) fragmentsHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, precomputed.Fragments(c.URLParams["id"]))
}

func (s *Server) meshHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	ref := precomputed.ParseDatasetRef(c.URLParams["dataset"])
	id := c.URLParams["id"]
	if url := s.svc.MeshRedirect(ref, id); url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	data, err := s.svc.MeshFragment(r.Context(), ref, id)
	if err != nil {
		replyError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		n5ng.Errorf("unable to write mesh %s for %s: %v\n", id, ref.Name, err)
	}
}
