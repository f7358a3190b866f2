// Package server hosts interpreter sessions: a worker per session owning
// its VM, and a gRPC health endpoint reporting whether each session is
// still alive.
package server

import (
	"fmt"
	"net"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var log = commonlog.GetLogger("scumm.server")

// ServicePrefix is prepended to a session name to form its health
// service name.
const ServicePrefix = "scumm.session."

// Server hosts sessions and serves grpc.health.v1.Health for them.
type Server struct {
	sessions *SessionStore
	health   *health.Server
	grpc     *grpc.Server
}

// New creates a Server with no sessions.
func New() *Server {
	s := &Server{
		sessions: NewSessionStore(),
		health:   health.NewServer(),
		grpc:     grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// ServiceName returns the health service name of a session.
func ServiceName(session string) string { return ServicePrefix + session }

// Host registers a worker under name. Its health status follows the
// worker: SERVING while the session can run, NOT_SERVING after a fault
// or stop.
func (s *Server) Host(name string, w *Worker) *Session {
	session := s.sessions.Create(name, w)
	service := ServiceName(name)
	w.Watch(func(st Status) {
		status := healthpb.HealthCheckResponse_SERVING
		if !st.Alive() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(service, status)
		log.Infof("session %s (%s) is %s", session.ID, name, st)
	})
	return session
}

// Sessions returns the session store.
func (s *Server) Sessions() *SessionStore { return s.sessions }

// Serve accepts health checks on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	log.Infof("health endpoint listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on addr ("host:port" or ":port") and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING, stops all session workers and
// shuts the gRPC server down.
func (s *Server) Stop() {
	s.health.Shutdown()
	for _, session := range s.sessions.List() {
		s.sessions.Destroy(session.ID)
	}
	s.grpc.GracefulStop()
}
