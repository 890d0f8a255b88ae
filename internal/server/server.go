// Package server implements the inbound half of the cluster's HTTP+JSON
// wire protocol: POST /append, POST /vote, POST /client, PUT/DELETE
// /servers/{id}, and GET / for status, routed with gorilla/mux so path
// variables ({id}) don't need manual trimming.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/raftkit/yari/internal/raftnode"
)

// Server wires RaftNode's RPC handlers and client/admin operations onto an
// HTTP router.
type Server struct {
	node          *raftnode.Node
	router        *mux.Router
	logger        *logrus.Entry
	clientTimeout time.Duration
}

func New(node *raftnode.Node, clientTimeout time.Duration, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		node:          node,
		router:        mux.NewRouter(),
		logger:        logger.WithField("node", node.ID()),
		clientTimeout: clientTimeout,
	}

	// Member ids are node URLs (e.g. http://host:port) and therefore contain
	// escaped slashes when used as a single path segment; match against the
	// escaped path so {id} doesn't get split on them.
	s.router.UseEncodedPath()
	s.router.Use(s.loggingMiddleware)
	s.router.HandleFunc("/append", s.handleAppend).Methods(http.MethodPost)
	s.router.HandleFunc("/vote", s.handleVote).Methods(http.MethodPost)
	s.router.HandleFunc("/client", s.handleClient).Methods(http.MethodPost)
	s.router.HandleFunc("/servers/{id}", s.handleAddMember).Methods(http.MethodPut)
	s.router.HandleFunc("/servers/{id}", s.handleRemoveMember).Methods(http.MethodDelete)
	s.router.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("handled request")
	})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req raftnode.AppendEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.node.HandleAppendEntries(req))
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req raftnode.VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.node.HandleRequestVote(req))
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeRawMessage(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch, term, index, err := s.node.SubmitClientMessage(raw)
	if err != nil {
		s.respondSubmitError(w, err, "/client")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.clientTimeout)
	defer cancel()

	select {
	case result := <-ch:
		if result.Err != nil {
			http.Error(w, result.Err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": result.Value})
	case <-ctx.Done():
		s.node.ForgetClientMessage(term, index)
		http.Error(w, "timed out waiting for commit", http.StatusGatewayTimeout)
	}
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	s.handleMembershipChange(w, r, s.node.AddMember)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	s.handleMembershipChange(w, r, s.node.RemoveMember)
}

func (s *Server) handleMembershipChange(w http.ResponseWriter, r *http.Request, op func(string) (uint64, uint64, error)) {
	escapedID := mux.Vars(r)["id"]
	id, err := url.PathUnescape(escapedID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	term, index, err := op(id)
	if err != nil {
		s.respondSubmitError(w, err, "/servers/"+escapedID)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"term": term, "index": index})
}

// handleStatus serves GET /: a JSON status snapshot when the Accept header
// asks for application/json, otherwise a bare "ok" liveness line for
// load-balancer probes.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
		return
	}
	writeJSON(w, http.StatusOK, s.node.Status())
}

// respondSubmitError translates a raftnode client/admin error into a
// redirect-or-unavailable response: 307 with a Location header when a
// leader is known, 503 otherwise. path is the route suffix ("/client" or
// "/servers/{id}") appended to the leader's URL per the spec's
// "redirect to {leader}/client" convention.
func (s *Server) respondSubmitError(w http.ResponseWriter, err error, path string) {
	var nle *raftnode.NotLeaderError
	if ok := asNotLeaderError(err, &nle); ok {
		w.Header().Set("Location", nle.LeaderID+path)
		w.WriteHeader(http.StatusTemporaryRedirect)
		return
	}
	if err == raftnode.ErrConfigChangePending {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func asNotLeaderError(err error, target **raftnode.NotLeaderError) bool {
	nle, ok := err.(*raftnode.NotLeaderError)
	if !ok {
		return false
	}
	*target = nle
	return true
}

func decodeRawMessage(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
