// Package api is the REST front-end. It exposes account management and
// installation control over HTTP with JWT bearer authentication.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/systemaudit/winstaller/internal/config"
	"github.com/systemaudit/winstaller/internal/installer"
	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/models"
	"github.com/systemaudit/winstaller/internal/users"
)

// installStarter is the slice of the installer the API needs.
type installStarter interface {
	Start(req installer.Request) (*models.Installation, <-chan installer.Result, error)
	Active(ip string) bool
}

// Server wires the HTTP routes to the stores and the installer.
type Server struct {
	users  *users.Store
	ledger *ledger.Ledger
	inst   installStarter
	cfg    config.APIConfig
	out    io.Writer
}

// Opts holds parameters for creating a Server.
type Opts struct {
	Users     *users.Store
	Ledger    *ledger.Ledger
	Installer installStarter
	Config    config.APIConfig
	Out       io.Writer // defaults to os.Stdout
}

// NewServer creates a Server from opts.
func NewServer(opts Opts) (*Server, error) {
	if opts.Users == nil || opts.Ledger == nil || opts.Installer == nil {
		return nil, fmt.Errorf("api: users, ledger, and installer are required")
	}
	if opts.Config.JWTSecret == "" {
		return nil, fmt.Errorf("api: jwt secret is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Server{
		users:  opts.Users,
		ledger: opts.Ledger,
		inst:   opts.Installer,
		cfg:    opts.Config,
		out:    out,
	}, nil
}

// Router builds the Gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth())
	router.POST("/auth/register", s.handleRegister())
	router.POST("/auth/login", s.handleLogin())
	router.GET("/os/list", s.handleOSList())

	auth := router.Group("/", s.authMiddleware())
	auth.GET("/user/profile", s.handleProfile())
	auth.POST("/install", s.handleInstall())
	auth.GET("/install/list", s.handleInstallList())
	auth.GET("/install/active", s.handleInstallActive())
	auth.GET("/install/:id", s.handleInstallGet())
	auth.GET("/install/:id/logs", s.handleInstallLogs())

	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	port := s.cfg.Port
	if port <= 0 {
		port = 8000
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	fmt.Fprintf(s.out, "API listening on :%d\n", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
