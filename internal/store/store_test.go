package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"brokerhub/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "brokerhub.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn := &domain.BrokerConnection{
		ID:          "c1",
		UserID:      "user-1",
		BrokerType:  domain.BrokerAlpaca,
		Credentials: domain.NewOAuth2Credentials("tok-1", "ref-1", time.Now().Add(time.Hour).UTC()),
		IsPaper:     true,
		IsActive:    true,
	}
	if err := s.SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}
	if conn.CreatedAt.IsZero() || conn.UpdatedAt.IsZero() {
		t.Error("SaveConnection should fill in timestamps")
	}

	got, err := s.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got.BrokerType != domain.BrokerAlpaca || !got.IsPaper || !got.IsActive {
		t.Errorf("connection = %+v", got)
	}
	if got.Credentials.Kind != domain.CredentialOAuth2 {
		t.Errorf("credential kind = %s", got.Credentials.Kind)
	}
	if got.Credentials.OAuth2.AccessToken != "tok-1" || got.Credentials.OAuth2.RefreshToken != "ref-1" {
		t.Errorf("credentials lost in round trip: %+v", got.Credentials)
	}

	if _, err := s.GetConnection(ctx, "nope"); err == nil {
		t.Error("expected error for unknown connection")
	}
}

func TestSQLiteStoreSaveRejectsEmptyID(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveConnection(context.Background(), &domain.BrokerConnection{UserID: "u"})
	if err == nil {
		t.Fatal("expected error for connection without ID")
	}
}

func TestSQLiteStoreListConnections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, userID := range []string{"alice", "alice", "bob"} {
		conn := &domain.BrokerConnection{
			ID:          []string{"c1", "c2", "c3"}[i],
			UserID:      userID,
			BrokerType:  domain.BrokerBinance,
			Credentials: domain.NewAPIKeyCredentials("k", "s", ""),
			CreatedAt:   time.Date(2025, 8, 1+i, 0, 0, 0, 0, time.UTC),
		}
		if err := s.SaveConnection(ctx, conn); err != nil {
			t.Fatalf("SaveConnection %s: %v", conn.ID, err)
		}
	}

	alice, err := s.ListConnections(ctx, "alice")
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("got %d connections for alice, want 2", len(alice))
	}
	// Newest first.
	if alice[0].ID != "c2" || alice[1].ID != "c1" {
		t.Errorf("order = %s, %s", alice[0].ID, alice[1].ID)
	}

	all, err := s.ListConnections(ctx, "")
	if err != nil {
		t.Fatalf("ListConnections(all): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d connections total, want 3", len(all))
	}
}

func TestSQLiteStoreUpdateCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn := &domain.BrokerConnection{
		ID:          "c1",
		UserID:      "user-1",
		BrokerType:  domain.BrokerCoinbase,
		Credentials: domain.NewOAuth2Credentials("old", "old-ref", time.Now().UTC()),
	}
	if err := s.SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	fresh := domain.NewOAuth2Credentials("new", "new-ref", time.Now().Add(2*time.Hour).UTC())
	if err := s.UpdateCredentials(ctx, "c1", fresh); err != nil {
		t.Fatalf("UpdateCredentials: %v", err)
	}

	got, err := s.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got.Credentials.OAuth2.AccessToken != "new" {
		t.Errorf("access token = %q, want new", got.Credentials.OAuth2.AccessToken)
	}

	if err := s.UpdateCredentials(ctx, "nope", fresh); err == nil {
		t.Error("expected error for unknown connection")
	}
}

func TestSQLiteStoreSetActiveAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn := &domain.BrokerConnection{
		ID:          "c1",
		UserID:      "user-1",
		BrokerType:  domain.BrokerBinance,
		Credentials: domain.NewAPIKeyCredentials("k", "s", ""),
		IsActive:    true,
	}
	if err := s.SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	if err := s.SetActive(ctx, "c1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, err := s.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got.IsActive {
		t.Error("connection should be inactive")
	}

	if err := s.DeleteConnection(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	if _, err := s.GetConnection(ctx, "c1"); err == nil {
		t.Error("deleted connection should not be retrievable")
	}
	if err := s.DeleteConnection(ctx, "c1"); err == nil {
		t.Error("second delete should report unknown connection")
	}
}
