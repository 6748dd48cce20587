package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/ejauth/internal/config"
	"github.com/atinyakov/ejauth/internal/server/handler/http"
	"github.com/atinyakov/ejauth/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// newAdminServer builds the admin HTTP server. Client certificates are
// verified against TLSCA when it is configured.
func newAdminServer(
	options *config.Options,
	authService *service.AuthService,
	registry *prometheus.Registry,
	zapLogger *zap.Logger,
) (*nethttp.Server, error) {
	usersHandler := &http.UsersHandler{UserService: authService, Log: zapLogger}
	eventsHandler := &http.EventsHandler{EventService: authService}
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	router := http.NewRouter(usersHandler, eventsHandler, metricsHandler, zapLogger, options.TLSCA != "")

	server := &nethttp.Server{
		Addr:              options.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if !options.TLSEnabled() {
		return server, nil
	}

	cert, err := tls.LoadX509KeyPair(options.TLSCert, options.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load server TLS cert/key: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if options.TLSCA != "" {
		caCert, err := os.ReadFile(options.TLSCA)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, errors.New("failed to append CA cert to pool")
		}
		// Probes stay reachable without a certificate; CertAuth guards the rest.
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		tlsConfig.ClientCAs = caCertPool
	}
	server.TLSConfig = tlsConfig
	return server, nil
}

// startAdmin binds the admin address and serves it in the background.
// Bind errors are returned; later serve errors are logged.
func startAdmin(
	options *config.Options,
	authService *service.AuthService,
	registry *prometheus.Registry,
	zapLogger *zap.Logger,
) (*nethttp.Server, error) {
	server, err := newAdminServer(options, authService, registry, zapLogger)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", server.Addr, err)
	}

	go func() {
		zapLogger.Info("starting admin server",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("tls", server.TLSConfig != nil),
		)
		var err error
		if server.TLSConfig != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Error("admin server failed", zap.Error(err))
		}
	}()
	return server, nil
}
