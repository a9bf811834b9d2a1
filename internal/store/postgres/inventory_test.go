package postgres

import (
	"context"
	"errors"
	"testing"

	"opsplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestGetPlaybook(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM playbooks WHERE id").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "path", "entry_file", "file_count", "variables", "is_active"}).
			AddRow(int64(3), "deploy", "/srv/playbooks/deploy", "site.yml", 4, []byte(`{"env":"prod"}`), true))

	p, err := s.GetPlaybook(context.Background(), 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.EntryFile != "site.yml" || p.Variables["env"] != "prod" {
		t.Errorf("unexpected playbook: %+v", p)
	}
}

func TestGetPlaybook_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM playbooks WHERE id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetPlaybook(context.Background(), 99); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetServers_PreservesRequestedOrder(t *testing.T) {
	s, mock := newMockStore(t)

	// The database may return rows in any order; results follow ids.
	mock.ExpectQuery("SELECT .* FROM servers WHERE id = ANY").
		WithArgs(pq.Array([]int64{12, 11})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "hostname", "ip_address", "ssh_user", "ssh_port", "ssh_key_path", "is_active"}).
			AddRow(int64(11), "web-01", "10.0.0.1", "deploy", 22, "", true).
			AddRow(int64(12), "web-02", "10.0.0.2", "deploy", 22, "", true))

	servers, err := s.GetServers(context.Background(), []int64{12, 11})
	if err != nil {
		t.Fatalf("get servers: %v", err)
	}
	if servers[0].ID != 12 || servers[1].ID != 11 {
		t.Errorf("order not preserved: %d, %d", servers[0].ID, servers[1].ID)
	}
}

func TestGetServers_MissingID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM servers WHERE id = ANY").
		WithArgs(pq.Array([]int64{11, 99})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "hostname", "ip_address", "ssh_user", "ssh_port", "ssh_key_path", "is_active"}).
			AddRow(int64(11), "web-01", "10.0.0.1", "deploy", 22, "", true))

	if _, err := s.GetServers(context.Background(), []int64{11, 99}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
