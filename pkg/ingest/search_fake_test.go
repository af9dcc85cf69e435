package ingest

import (
	"context"

	"github.com/folio-org/mod-data-export/pkg/gateway"
)

func newSearch(statuses []string, ids []string) *fakeSearch {
	s := &fakeSearch{ids: ids}
	for _, st := range statuses {
		s.statuses = append(s.statuses, gatewayStatus{status: st})
	}
	return s
}

func (s *fakeSearch) SubmitIDsJob(_ context.Context, query, entityType string) (*gateway.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	s.entity = entityType
	return &gateway.SearchJob{ID: "sj-1", Status: gateway.SearchJobInProgress}, nil
}

func (s *fakeSearch) GetIDsJob(_ context.Context, id string) (*gateway.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[len(s.statuses)-1]
	if s.polls < len(s.statuses) {
		st = s.statuses[s.polls]
	}
	s.polls++
	return &gateway.SearchJob{ID: id, Status: gateway.SearchJobStatus(st.status), ErrorMessage: st.msg}, nil
}

func (s *fakeSearch) JobIDs(context.Context, string, int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids, nil
}
