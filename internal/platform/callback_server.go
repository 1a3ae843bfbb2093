package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"guichet/pkg/logging"
)

// CallbackServer is a one-shot loopback HTTP server receiving the
// authorization response. The first request on the callback path is
// accepted; later ones get 400.
type CallbackServer struct {
	addr string
	path string

	server   *http.Server
	listener net.Listener

	resultCh chan *CallbackResult
	errorCh  chan error

	handled  sync.Once
	stopOnce sync.Once
}

// NewCallbackServer prepares a server for redirectURI, which must be an http
// URI on a loopback host with an explicit port.
func NewCallbackServer(redirectURI string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("loopback redirect URI must use http, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, fmt.Errorf("redirect URI host %q is not a loopback address", host)
		}
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("redirect URI %q has no port", redirectURI)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return &CallbackServer{
		addr:     net.JoinHostPort(host, u.Port()),
		path:     path,
		resultCh: make(chan *CallbackResult, 1),
		errorCh:  make(chan error, 1),
	}, nil
}

// Start binds the listener and serves in the background.
func (s *CallbackServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

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

	logging.Debug("CallbackServer", "Listening for the authorization response on %s%s", s.addr, s.path)
	return nil
}

// Addr returns the bound address.
func (s *CallbackServer) Addr() string {
	return s.addr
}

// Wait blocks until the callback arrives, the server fails or ctx is done.
func (s *CallbackServer) Wait(ctx context.Context) (*CallbackResult, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.path {
		http.NotFound(w, r)
		return
	}

	var handled bool
	s.handled.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := &CallbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	status := http.StatusOK
	if result.IsError() || result.Code == "" {
		status = http.StatusBadRequest
	}
	RenderPage(w, status, PageForResult(result))

	select {
	case s.resultCh <- result:
	default:
	}
}

// Stop shuts the server down. It is safe to call more than once and before
// Start.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		logging.Debug("CallbackServer", "Callback server on %s stopped", s.addr)
	})
}
