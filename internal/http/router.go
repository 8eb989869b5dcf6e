package httpserver

import (
	"net/http"

	"github.com/iago/section-writer-back/internal/http/handlers"
	"github.com/iago/section-writer-back/internal/http/middleware"
	"github.com/iago/section-writer-back/internal/logger"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *logger.Logger
	APIKey         string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

func NewRouter(deps RouterDependencies) http.Handler {
	routes := []route{
		{http.MethodGet, "/healthz", deps.API.Health},
		{http.MethodPost, "/generate", deps.API.Generate},
		{http.MethodPost, "/refine", deps.API.Refine},
		{http.MethodGet, "/status/{job_id}", deps.API.JobStatus},
		{http.MethodGet, "/reports", deps.API.ReportTypes},
		{http.MethodGet, "/reports/{type}/sections", deps.API.ReportSections},
	}

	mux := http.NewServeMux()
	for _, rt := range routes {
		mux.HandleFunc(rt.method+" "+rt.path, rt.handler)
		// The method-less pattern is less specific, so it only catches other methods.
		mux.HandleFunc(rt.path, deps.API.MethodNotAllowed(rt.method))
	}
	mux.HandleFunc("/", deps.API.NotFound)

	handler := http.Handler(mux)
	handler = middleware.APIKey(deps.APIKey, "/healthz")(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
