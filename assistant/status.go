package assistant

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const statusTimeout = 10 * time.Second

type Status struct {
	APIKeysConfigured bool   `json:"api_keys_configured"`
	HuggingFaceKey    bool   `json:"huggingface_key"`
	VectorStoreKey    bool   `json:"vector_store_key"`
	VectorConnected   bool   `json:"vector_connected"`
	GraphEnabled      bool   `json:"graph_enabled"`
	GraphConnected    bool   `json:"graph_connected"`
	ActiveSessions    int    `json:"active_sessions"`
	Status            string `json:"status"`
	Message           string `json:"message"`
}

// Status checks the backends concurrently and runs a session sweep.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		HuggingFaceKey: s.opts.Credentials.HuggingFace,
		VectorStoreKey: s.opts.Credentials.VectorStore,
		GraphEnabled:   s.graph != nil,
	}
	st.APIKeysConfigured = st.HuggingFaceKey && st.VectorStoreKey

	checkCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		st.VectorConnected = s.vectorConnected(checkCtx)
		return nil
	})
	if s.graph != nil {
		g.Go(func() error {
			if err := s.graph.VerifyConnectivity(checkCtx); err != nil {
				s.log.Warn("graph connectivity check failed", "error", err)
				return nil
			}
			st.GraphConnected = true
			return nil
		})
	}
	_ = g.Wait()

	s.sweep(ctx)
	if n, err := s.sessions.Count(ctx); err == nil {
		st.ActiveSessions = n
	}

	healthy := st.APIKeysConfigured && st.VectorConnected && (!st.GraphEnabled || st.GraphConnected)
	if healthy {
		st.Status, st.Message = "operational", "System is fully operational"
	} else {
		st.Status, st.Message = "degraded", "System is running in degraded mode"
	}
	s.log.Info("system status", "status", st.Status)
	return st
}
