package assetserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmcdole/marquee/internal/domain"
)

// DefaultAddr binds to loopback on an OS-assigned port
const DefaultAddr = "127.0.0.1:0"

// RoutePrefix is the URL prefix under which the cache root is served
const RoutePrefix = "/cache"

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

const defaultContentType = "application/octet-stream"

// ContentType returns the MIME type served for name
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

// Options configures a Server. Zero values select defaults.
type Options struct {
	Addr     string
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server exposes the cache root over loopback HTTP. It is started lazily and
// at most once; BaseURL starts it on first use.
type Server struct {
	root   string
	addr   string
	engine *gin.Engine
	logger *slog.Logger

	once       sync.Once
	startErr   error
	baseURL    string
	httpServer *http.Server
}

// New creates a server for root. Nothing is bound until Start.
func New(root string, opts Options) (*Server, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{root: abs, addr: addr, logger: logger}
	s.engine = s.routes(opts.Gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(s.logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Range", "Accept", "Origin"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Range", "Accept-Ranges"}
	engine.Use(cors.New(corsConfig))

	engine.GET(RoutePrefix+"/*path", s.handleFile)
	engine.HEAD(RoutePrefix+"/*path", s.handleFile)
	engine.OPTIONS(RoutePrefix+"/*path", s.handlePreflight)

	engine.GET("/health", s.handleHealth)
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return engine
}

// Handler returns the HTTP handler without binding a socket
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and begins serving. Subsequent calls return the
// result of the first.
func (s *Server) Start() error {
	s.once.Do(func() {
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			s.startErr = fmt.Errorf("failed to bind asset server: %w", err)
			return
		}
		s.baseURL = "http://" + ln.Addr().String() + RoutePrefix
		s.httpServer = &http.Server{
			Handler:           s.engine,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("asset server stopped", "error", err)
			}
		}()
		s.logger.Info("asset server listening", "base", s.baseURL, "root", s.root)
	})
	return s.startErr
}

// BaseURL starts the server if needed and returns http://127.0.0.1:<port>/cache
func (s *Server) BaseURL() (string, error) {
	if err := s.Start(); err != nil {
		return "", err
	}
	return s.baseURL, nil
}

// Shutdown gracefully stops a started server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// resolve maps a request path below the prefix to a file under root.
// No filesystem access happens here.
func (s *Server) resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", domain.ErrPathEscapesRoot
	}
	full := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", domain.ErrPathEscapesRoot
	}
	return full, nil
}

func (s *Server) handleFile(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")

	full, err := s.resolve(c.Param("path"))
	if err != nil {
		s.logger.Warn("rejected asset path", "path", c.Request.URL.Path)
		c.String(http.StatusBadRequest, "bad path")
		return
	}

	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		c.String(http.StatusNotFound, "not found")
		return
	}

	f, err := os.Open(full)
	if err != nil {
		c.String(http.StatusNotFound, "not found")
		return
	}
	defer f.Close()

	c.Header("Content-Type", ContentType(full))
	c.Header("Accept-Ranges", "bytes")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

// handlePreflight answers OPTIONS that the cors middleware did not already
// terminate (requests without an Origin header).
func (s *Server) handlePreflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Range, Accept, Origin")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"root":   s.root,
	})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("asset request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start))
	}
}
