package auth

import (
	"testing"
	"time"
)

func TestCheckAPISecret(t *testing.T) {
	g := New("s3cr3t", "adm1n", false, time.Hour)
	defer g.Close()

	if !g.CheckAPISecret("s3cr3t") {
		t.Fatal("correct api secret should pass")
	}
	if g.CheckAPISecret("wrong") {
		t.Fatal("wrong api secret should fail")
	}
}

func TestCheckAPISecretNotApplicableWhenUnconfigured(t *testing.T) {
	g := New("", "adm1n", false, time.Hour)
	defer g.Close()

	if g.CheckAPISecret("anything") {
		t.Fatal("an unconfigured api secret should never itself report a match")
	}
	if g.APISecretConfigured() {
		t.Fatal("APISecretConfigured should report false when unset")
	}
}

func TestCheckAdminSecretRejectsWhenUnconfigured(t *testing.T) {
	g := New("", "", false, time.Hour)
	defer g.Close()

	if g.CheckAdminSecret("") {
		t.Fatal("an unconfigured admin secret must reject, never accept, everything")
	}
}

func TestTokenAllowListGating(t *testing.T) {
	g := New("", "", true, time.Hour)
	defer g.Close()

	g.AddToken("tok1", []string{"gateway.module.echo"}, 0)

	if !g.TokenKnown("tok1") {
		t.Fatal("expected tok1 to be known")
	}
	if !g.TokenAllowsPlugin("tok1", "gateway.module.echo") {
		t.Fatal("tok1 should be allowed to attach to gateway.module.echo")
	}
	if g.TokenAllowsPlugin("tok1", "gateway.module.other") {
		t.Fatal("tok1 should not be allowed to attach to a module not on its list")
	}
	if g.TokenAllowsPlugin("unknown", "gateway.module.echo") {
		t.Fatal("an unknown token should never be allowed")
	}
}

func TestAllowAndDisallowPlugin(t *testing.T) {
	g := New("", "", true, time.Hour)
	defer g.Close()
	g.AddToken("tok1", nil, 0)

	if g.TokenAllowsPlugin("tok1", "gateway.module.echo") {
		t.Fatal("token should start with an empty allow-list")
	}
	if !g.AllowPlugin("tok1", "gateway.module.echo") {
		t.Fatal("AllowPlugin should report success for a known token")
	}
	if !g.TokenAllowsPlugin("tok1", "gateway.module.echo") {
		t.Fatal("token should now be allowed")
	}
	if !g.DisallowPlugin("tok1", "gateway.module.echo") {
		t.Fatal("DisallowPlugin should report success for a known token")
	}
	if g.TokenAllowsPlugin("tok1", "gateway.module.echo") {
		t.Fatal("token should no longer be allowed after DisallowPlugin")
	}
}

func TestRemoveTokenRevokes(t *testing.T) {
	g := New("", "", true, time.Hour)
	defer g.Close()
	g.AddToken("tok1", []string{"gateway.module.echo"}, 0)
	g.RemoveToken("tok1")

	if g.TokenKnown("tok1") {
		t.Fatal("removed token should no longer be known")
	}
}

func TestTokenAuthDisabledAllowsEverything(t *testing.T) {
	g := New("", "", false, time.Hour)
	defer g.Close()

	if !g.TokenAllowsPlugin("nobody", "anything") {
		t.Fatal("with token auth disabled, every plugin should be allowed")
	}
}

func TestListTokens(t *testing.T) {
	g := New("", "", true, time.Hour)
	defer g.Close()
	g.AddToken("tok1", nil, 0)
	g.AddToken("tok2", nil, 0)

	tokens := g.ListTokens()
	if len(tokens) != 2 {
		t.Fatalf("ListTokens() = %v, want 2 entries", tokens)
	}
}
