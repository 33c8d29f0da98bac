package callback

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/giantswarm/authkeeper/pkg/logging"
	"github.com/giantswarm/authkeeper/pkg/oauth"
)

// DefaultTimeout is how long a login waits for the browser to come back.
const DefaultTimeout = 10 * time.Minute

// shutdownDelay lets the result page reach the browser before the server stops.
const shutdownDelay = time.Second

//go:embed templates/result.html
var resultHTML string

var resultTemplate = template.Must(template.New("result").Funcs(sprig.FuncMap()).Parse(resultHTML))

// ErrAlreadyHandled is returned to the browser for a second redirect.
var ErrAlreadyHandled = errors.New("callback already processed")

// Server is a short-lived loopback HTTP server that receives one
// authorization redirect and hands the full redirect URL to the caller.
type Server struct {
	redirectURI string
	addr        string
	path        string
	appName     string

	server   *http.Server
	listener net.Listener
	resultCh chan string
	errorCh  chan error
	once     sync.Once
	stopOnce sync.Once
}

// NewServer prepares a server for redirectURI, which must be an http URL on
// a loopback host with an explicit port, e.g. http://127.0.0.1:8765/callback.
func NewServer(redirectURI, appName string) (*Server, error) {
	addr, path, err := ParseLoopback(redirectURI)
	if err != nil {
		return nil, err
	}
	if appName == "" {
		appName = "authkeeper"
	}
	return &Server{
		redirectURI: strings.SplitN(redirectURI, "?", 2)[0],
		addr:        addr,
		path:        path,
		appName:     appName,
		resultCh:    make(chan string, 1),
		errorCh:     make(chan error, 1),
	}, nil
}

// ParseLoopback returns the listen address and path of a loopback redirect URI.
func ParseLoopback(redirectURI string) (addr, path string, err error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect URI %q: %w", redirectURI, err)
	}
	if u.Scheme != "http" {
		return "", "", fmt.Errorf("redirect URI %q is not an http loopback URI", redirectURI)
	}
	switch u.Hostname() {
	case "127.0.0.1", "localhost", "::1":
	default:
		return "", "", fmt.Errorf("redirect URI %q does not point at a loopback host", redirectURI)
	}
	if u.Port() == "" {
		return "", "", fmt.Errorf("redirect URI %q has no port", redirectURI)
	}

	host := u.Hostname()
	if host == "localhost" {
		host = "127.0.0.1"
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return net.JoinHostPort(host, u.Port()), path, nil
}

// IsLoopback reports whether redirectURI can be served by a Server.
func IsLoopback(redirectURI string) bool {
	_, _, err := ParseLoopback(redirectURI)
	return err == nil
}

// Start begins listening. The server stops when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logging.Debug("CallbackServer", "Listening for the authorization redirect on %s%s", s.addr, s.path)
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Wait blocks until a redirect arrives and returns its full URL.
func (s *Server) Wait(ctx context.Context) (string, error) {
	select {
	case redirectURL := <-s.resultCh:
		return redirectURL, nil
	case err := <-s.errorCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.path {
		http.NotFound(w, r)
		return
	}

	handled := false
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})
	if !handled {
		http.Error(w, ErrAlreadyHandled.Error(), http.StatusBadRequest)
	}
}

func (s *Server) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	// Rebuild against the configured URI so the host matches what the
	// session manager expects regardless of the Host header.
	redirectURL := s.redirectURI
	if r.URL.RawQuery != "" {
		redirectURL += "?" + r.URL.RawQuery
	}

	page, status := s.render(redirectURL)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(page)

	select {
	case s.resultCh <- redirectURL:
	default:
	}

	go func() {
		time.Sleep(shutdownDelay)
		s.Stop()
	}()
}

type pageData struct {
	AppName     string
	Failed      bool
	Error       string
	Description string
}

func (s *Server) render(redirectURL string) ([]byte, int) {
	data := pageData{AppName: s.appName}
	status := http.StatusOK

	result, err := oauth.ParseCallback(redirectURL)
	switch {
	case err != nil:
		data.Failed = true
		data.Description = err.Error()
		status = http.StatusBadRequest
	case result.IsError():
		data.Failed = true
		data.Error = result.Error
		data.Description = result.ErrorDescription
	}

	var buf bytes.Buffer
	if err := resultTemplate.Execute(&buf, data); err != nil {
		logging.Error("CallbackServer", err, "Failed to render callback page")
		return []byte("Internal Server Error"), http.StatusInternalServerError
	}
	return buf.Bytes(), status
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
