package guard

import (
	"log/slog"
	"net/http"

	"github.com/Seann-Moser/stocker/session"
	"github.com/Seann-Moser/stocker/utils"
)

// Source supplies the current session.
type Source interface {
	Snapshot() session.Snapshot
}

var _ Source = &session.Machine{}

const loadingPage = `<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><p>Loading&hellip;</p></body></html>
`

// Middleware protects next. While the session is unresolved it serves a
// placeholder that refreshes itself; anonymous requests are sent to loginPath.
// Allowed requests carry the snapshot in their context.
func Middleware(src Source, loginPath string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := src.Snapshot()
			d := Decide(s, loginPath, utils.RequestedLocation(r))
			switch d.Action {
			case Allow:
				next.ServeHTTP(w, r.WithContext(s.WithContext(r.Context())))
			case Redirect:
				logger.Debug("guard redirect", "path", r.URL.Path, "location", d.Location)
				http.Redirect(w, r, d.Location, http.StatusFound)
			default:
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.Header().Set("Retry-After", "1")
				_, _ = w.Write([]byte(loadingPage))
			}
		})
	}
}
