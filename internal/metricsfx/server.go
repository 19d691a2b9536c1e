package metricsfx

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/yurykabanov/srvbackup/pkg/http/middleware"
)

const (
	ConfigServerAddress      = "server.address"
	ConfigServerTimeoutRead  = "server.timeout.read"
	ConfigServerTimeoutWrite = "server.timeout.write"
	ConfigServerLogRequests  = "server.log.requests"
)

type HttpServerConfig struct {
	Address           string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	EnableRequestsLog bool
}

func HttpServerConfigProvider(v *viper.Viper) *HttpServerConfig {
	return &HttpServerConfig{
		Address:           v.GetString(ConfigServerAddress),
		ReadTimeout:       v.GetDuration(ConfigServerTimeoutRead),
		WriteTimeout:      v.GetDuration(ConfigServerTimeoutWrite),
		EnableRequestsLog: v.GetBool(ConfigServerLogRequests),
	}
}

func HttpServer(
	config *HttpServerConfig,
	logger *logrus.Logger,
	defaultLogger *log.Logger,
	router *mux.Router,
) *http.Server {
	var h http.Handler = router

	if config.EnableRequestsLog {
		h = middleware.WithRequestLogging(h, logger)
	}

	h = middleware.WithRequestId(h, middleware.DefaultRequestIdProvider)

	return &http.Server{
		Addr:         config.Address,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		ErrorLog:     defaultLogger,
		Handler:      h,
	}
}

func HttpRouter() *mux.Router {
	return mux.NewRouter()
}

// RunServer binds the listener on start so a busy address fails the
// application instead of a background goroutine.
func RunServer(lc fx.Lifecycle, server *http.Server, logger *logrus.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return errors.Wrapf(err, "Unable to listen on %s", server.Addr)
			}

			logger.WithField("address", listener.Addr().String()).Info("Serving metrics")

			go func() {
				if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Error("Metrics server stopped")
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
