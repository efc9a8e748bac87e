package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/entitlement-engine/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"proj", "entitlement-events", "projects/proj/topics/entitlement-events"},
		{"proj", " entitlement-events ", "projects/proj/topics/entitlement-events"},
		{"other", "projects/proj/topics/entitlement-events", "projects/proj/topics/entitlement-events"},
		{"", "entitlement-events", ""},
		{"proj", "", ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNilClientPing(t *testing.T) {
	var c *Client
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if c.Publisher("entitlement-events") != nil {
		t.Fatalf("expected nil publisher for nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
}

func TestCredentialOptionsPrecedence(t *testing.T) {
	if opts := credentialOptions(config.GCPConfig{ProjectID: "proj"}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
	if opts := credentialOptions(config.GCPConfig{ApplicationCredentials: "/etc/key.json"}); len(opts) != 1 {
		t.Fatalf("expected file credentials option, got %d", len(opts))
	}
	both := config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/etc/key.json"}
	if opts := credentialOptions(both); len(opts) != 1 {
		t.Fatalf("expected a single credentials option, got %d", len(opts))
	}
}
