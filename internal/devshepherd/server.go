package devshepherd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Server implements the shepherd HTTP surface against real local Chrome
// processes, for development without an external provisioning deployment.
type Server struct {
	basePort int

	mu       sync.Mutex
	browsers map[string]*browserState
	nextPort int
}

type browserState struct {
	reqid string
	proc  *chromeProcess
	ready bool
}

// NewServer returns a devshepherd Server that launches Chrome instances on
// ports starting at basePort.
func NewServer(basePort int) *Server {
	return &Server{
		basePort: basePort,
		browsers: make(map[string]*browserState),
		nextPort: basePort,
	}
}

// Handler returns the http.Handler exposing the shepherd endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/request_new_browser", s.handleRequestNewBrowser)
	mux.HandleFunc("/init_browser", s.handleInitBrowser)
	mux.HandleFunc("/delete_browser/", s.handleDeleteBrowser)
	mux.HandleFunc("/delete_all", s.handleDeleteAll)
	return mux
}

func (s *Server) handleRequestNewBrowser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqid := uuid.NewString()

	s.mu.Lock()
	port := s.nextPort
	s.nextPort++
	s.browsers[reqid] = &browserState{reqid: reqid}
	s.mu.Unlock()

	go s.provision(reqid, port)

	json.NewEncoder(w).Encode(map[string]string{"reqid": reqid})
}

func (s *Server) provision(reqid string, port int) {
	proc, err := launchChrome(port)

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.browsers[reqid]
	if !ok {
		if err == nil {
			_ = proc.stop()
		}
		return
	}
	if err != nil {
		delete(s.browsers, reqid)
		return
	}
	state.proc = proc
	state.ready = true
}

func (s *Server) handleInitBrowser(w http.ResponseWriter, r *http.Request) {
	reqid := r.URL.Query().Get("reqid")

	s.mu.Lock()
	state, ok := s.browsers[reqid]
	s.mu.Unlock()

	if !ok || !state.ready {
		json.NewEncoder(w).Encode(map[string]string{})
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"ip":       fmt.Sprintf("127.0.0.1:%d", state.proc.port),
		"cmd_host": fmt.Sprintf("127.0.0.1:%d", state.proc.port),
	})
}

func (s *Server) handleDeleteBrowser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqid := strings.TrimPrefix(r.URL.Path, "/delete_browser/")

	s.mu.Lock()
	state, ok := s.browsers[reqid]
	delete(s.browsers, reqid)
	s.mu.Unlock()

	if ok && state.proc != nil {
		_ = state.proc.stop()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	states := make([]*browserState, 0, len(s.browsers))
	for _, st := range s.browsers {
		states = append(states, st)
	}
	s.browsers = make(map[string]*browserState)
	s.mu.Unlock()

	for _, st := range states {
		if st.proc != nil {
			_ = st.proc.stop()
		}
	}
	w.WriteHeader(http.StatusOK)
}
