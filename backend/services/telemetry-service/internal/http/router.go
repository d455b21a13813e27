package httpserver

import "net/http"

// Routes groups handlers. Nil handlers are not registered.
type Routes struct {
	IngestReading     http.HandlerFunc
	IngestBatch       http.HandlerFunc
	DeviceCurrent     http.HandlerFunc
	DeviceStats       http.HandlerFunc
	VehicleEfficiency http.HandlerFunc
	LowEfficiency     http.HandlerFunc
	AddMapping        http.HandlerFunc
	DeactivateMapping http.HandlerFunc
	ListMappings      http.HandlerFunc
	Health            http.HandlerFunc
	Metrics           http.Handler
	LiveCurrent       http.Handler

	// Admin wraps the mapping endpoints.
	Admin func(http.Handler) http.Handler
	// Middleware wraps the whole mux.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	admin := routes.Admin
	if admin == nil {
		admin = func(h http.Handler) http.Handler { return h }
	}

	handle := func(pattern, verb string, h http.HandlerFunc, wrap func(http.Handler) http.Handler) {
		if h == nil {
			return
		}
		var handler http.Handler = method(verb, h)
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.Handle(pattern, handler)
	}

	handle("/readings", http.MethodPost, routes.IngestReading, nil)
	handle("/readings/batch", http.MethodPost, routes.IngestBatch, nil)
	handle("/devices/{class}/{id}/current", http.MethodGet, routes.DeviceCurrent, nil)
	handle("/devices/{class}/{id}/stats", http.MethodGet, routes.DeviceStats, nil)
	handle("/vehicles/{id}/efficiency", http.MethodGet, routes.VehicleEfficiency, nil)
	handle("/analytics/low-efficiency", http.MethodGet, routes.LowEfficiency, nil)
	handle("/admin/mappings/deactivate", http.MethodPost, routes.DeactivateMapping, admin)
	handle("/health", http.MethodGet, routes.Health, nil)

	if routes.AddMapping != nil || routes.ListMappings != nil {
		mux.Handle("/admin/mappings", admin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && routes.AddMapping != nil:
				routes.AddMapping(w, r)
			case r.Method == http.MethodGet && routes.ListMappings != nil:
				routes.ListMappings(w, r)
			default:
				w.Header().Set("Allow", "GET, POST")
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
		})))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	if routes.LiveCurrent != nil {
		mux.Handle("/ws/current", routes.LiveCurrent)
	}

	var handler http.Handler = mux
	for i := len(routes.Middleware) - 1; i >= 0; i-- {
		handler = routes.Middleware[i](handler)
	}
	return handler
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
