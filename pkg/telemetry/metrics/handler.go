package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the collector's registry in Prometheus or OpenMetrics
// format, whichever the scraper negotiates. A nil collector serves 404 so
// the ops server can mount the route unconditionally.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
		ErrorLog:          slogErrorLogger{},
	})
}

// slogErrorLogger routes encoding errors of a scrape to the default logger.
type slogErrorLogger struct{}

func (slogErrorLogger) Println(v ...any) {
	slog.Default().With("component", "metrics").Warn("metrics scrape error", "error", fmt.Sprint(v...))
}
