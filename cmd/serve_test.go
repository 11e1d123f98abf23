package cmd

import (
	"testing"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/auth"
	"github.com/Tiliavir/telesales-timesheet/internal/config"
)

func TestServerClients(t *testing.T) {
	clients, err := serverClients(config.ServerConfig{Clients: map[string]config.ServerClient{
		"lea-laptop": {Secret: "s1", UserID: "u1", Name: "Léa", Role: "agent"},
		"marc":       {Secret: "s2", UserID: "s9", Name: "Marc", Role: "Supervisor"},
	}})
	if err != nil {
		t.Fatalf("serverClients: %v", err)
	}
	if got := clients["lea-laptop"].Identity; got.ID != "u1" || got.Role != auth.RoleAgent {
		t.Errorf("agent identity = %+v", got)
	}
	if got := clients["marc"].Identity; got.Role != auth.RoleSupervisor {
		t.Errorf("supervisor identity = %+v", got)
	}
}

func TestServerClientsRejectsIncompleteAccounts(t *testing.T) {
	for name, c := range map[string]config.ServerClient{
		"no secret": {UserID: "u1", Role: "agent"},
		"no user":   {Secret: "s", Role: "agent"},
		"bad role":  {Secret: "s", UserID: "u1", Role: "admin"},
	} {
		if _, err := serverClients(config.ServerConfig{Clients: map[string]config.ServerClient{"c": c}}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestTokenManagerRequiresSecret(t *testing.T) {
	if _, err := tokenManager(config.ServerConfig{Issuer: "tst"}); err == nil {
		t.Error("expected error without token_secret")
	}
	tm, err := tokenManager(config.ServerConfig{TokenSecret: "k", Issuer: "tst"})
	if err != nil {
		t.Fatalf("tokenManager: %v", err)
	}
	tok, _, err := tm.Issue(auth.Identity{ID: "u1", Role: auth.RoleAgent}, time.Hour)
	if err != nil || tok == "" {
		t.Fatalf("Issue: %q, %v", tok, err)
	}
}
