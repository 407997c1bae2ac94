package route

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"attendance/internal/handler"
	"attendance/internal/logger"
	"attendance/internal/middleware"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Password   string
	LogDir     string
	StaticDir  string
	Categories []string
	Flows      handler.FlowController
	Attendance handler.AttendanceLister
	Viewers    handler.Viewers
	DB         handler.Pinger
	Logger     *logger.Logger
}

// pageHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func pageHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")
		if _, err := os.Stat(filePath); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers the API, log, auth and page routes behind the
// authentication middleware.
func SetupRoutes(d Deps) http.Handler {
	if d.StaticDir == "" {
		d.StaticDir = "static"
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.RequireAuth(d.Password))

	flows := handler.NewFlowHandler(d.Flows, d.Logger)
	records := handler.NewAttendanceHandler(d.Attendance, d.Categories, d.Logger)

	r.Get("/healthz", handler.HealthCheck(d.DB))

	r.Post("/auth/login", handler.LoginHandler(d.Password, d.Logger))
	r.Post("/auth/logout", handler.LogoutHandler)

	r.Route("/api", func(r chi.Router) {
		// The live view is long-lived and stays outside the request timeout.
		r.Get("/view", handler.ViewWebsocketHandler(d.Viewers, d.Logger))

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			r.Get("/categories", flows.Categories)

			r.Post("/flow/start", flows.Start)
			r.Post("/flow/rescan", flows.Rescan)
			r.Post("/flow/next", flows.Next)
			r.Post("/flow/stop", flows.Stop)
			r.Get("/flow/status", flows.Status)

			r.Get("/attendance", records.List)
			r.Post("/model/reload", flows.ReloadModel)
		})
	})

	r.Get("/logs/{level}", handler.ShowLogsHandler(d.LogDir))
	r.Post("/logs/{level}/clear", handler.ClearLogsHandler(d.Logger))

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(d.StaticDir))))
	r.Get("/*", pageHandler(d.StaticDir))

	return r
}
