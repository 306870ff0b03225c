package obs

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
)

// ProfilingPath is where ProfilingHandler must be mounted.
const ProfilingPath = "/debug/pprof"

var namedProfiles = []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"}

// ProfilingHandler serves net/http/pprof under ProfilingPath. When user is
// non-empty every request must carry matching basic auth credentials.
func ProfilingHandler(user, password string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ProfilingPath+"/", pprof.Index)
	mux.HandleFunc(ProfilingPath+"/cmdline", pprof.Cmdline)
	mux.HandleFunc(ProfilingPath+"/profile", pprof.Profile)
	mux.HandleFunc(ProfilingPath+"/symbol", pprof.Symbol)
	mux.HandleFunc(ProfilingPath+"/trace", pprof.Trace)
	for _, name := range namedProfiles {
		mux.Handle(ProfilingPath+"/"+name, pprof.Handler(name))
	}
	if user == "" {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !constantEqual(u, user) || !constantEqual(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="pprof"`)
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
