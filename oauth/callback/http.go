package callback

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"
)

const maxLandings = 128

type HTTPOptions struct {
	// SuccessPath is where a completed landing is sent. Default "/".
	SuccessPath string
	// FailurePath is the login entry point. Default "/login".
	FailurePath string
	// ReturnTo, if set, supplies the location saved before the provider round trip.
	ReturnTo func(r *http.Request) string
	// OnResult is called once per distinct landing, with its verdict.
	OnResult func(Result)
}

// HTTPHandler serves the callback path. Every distinct query gets its own
// one-shot Handler, so refreshing or re-opening the same URL never fetches
// twice once a verdict exists. Both outcomes redirect to a URL without the callback parameters.
type HTTPHandler struct {
	sess   Session
	logger *slog.Logger
	opts   HTTPOptions

	mu       sync.Mutex
	landings map[string]*Handler
}

func NewHTTPHandler(sess Session, logger *slog.Logger, opts HTTPOptions) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SuccessPath == "" {
		opts.SuccessPath = "/"
	}
	if opts.FailurePath == "" {
		opts.FailurePath = "/login"
	}
	return &HTTPHandler{sess: sess, logger: logger, opts: opts, landings: make(map[string]*Handler)}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hd := h.landing(r.URL.RawQuery)
	res, verdict := hd.settle(r.Context(), ParseParams(r.URL.Query()))
	if verdict && h.opts.OnResult != nil {
		h.opts.OnResult(res)
	}
	w.Header().Set("Cache-Control", "no-store")
	if res.OK {
		target := h.opts.SuccessPath
		if h.opts.ReturnTo != nil {
			if rt := h.opts.ReturnTo(r); rt != "" {
				target = rt
			}
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	q := url.Values{"error": {string(res.Code)}}
	http.Redirect(w, r, h.opts.FailurePath+"?"+q.Encode(), http.StatusSeeOther)
}

func (h *HTTPHandler) landing(key string) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hd, ok := h.landings[key]; ok {
		return hd
	}
	if len(h.landings) >= maxLandings {
		h.landings = make(map[string]*Handler)
	}
	hd := New(h.sess, h.logger)
	h.landings[key] = hd
	return hd
}
