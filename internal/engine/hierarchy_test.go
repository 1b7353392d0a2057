package engine_test

import (
	"database/sql"
	"testing"

	"taskdesk/internal/db"
)

func TestSuperiorChainFollowsLinksUpward(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	chain, err := env.Engine.SuperiorChain(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("superior chain: %v", err)
	}
	if len(chain) != 2 || chain[0] != "bob" || chain[1] != "carol" {
		t.Fatalf("chain = %v, want [bob carol]", chain)
	}
}

func TestSuperiorChainTruncatesOnCycle(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "x", "")
	env.addUser(t, "y", "x")
	if err := env.Engine.SetSeniorPerson(env.Ctx, "x", "y"); err != nil {
		t.Fatalf("close cycle: %v", err)
	}
	chain, err := env.Engine.SuperiorChain(env.Ctx, "y")
	if err != nil {
		t.Fatalf("superior chain with cycle: %v", err)
	}
	if len(chain) != 1 || chain[0] != "x" {
		t.Fatalf("chain = %v, want [x]", chain)
	}
	// a self-link is the degenerate cycle
	env.addUser(t, "z", "")
	if err := env.Engine.SetSeniorPerson(env.Ctx, "z", "z"); err != nil {
		t.Fatalf("self link: %v", err)
	}
	chain, err = env.Engine.SuperiorChain(env.Ctx, "z")
	if err != nil {
		t.Fatalf("superior chain with self link: %v", err)
	}
	if len(chain) != 0 {
		t.Fatalf("chain = %v, want empty", chain)
	}
}

func TestSuperiorChainTruncatesOnDanglingLink(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "ghost", "")
	env.addUser(t, "m", "ghost")
	env.addUser(t, "n", "m")

	// corrupt the data through a connection that does not enforce the FK,
	// simulating a user row lost to out-of-band cleanup
	raw, err := sql.Open("sqlite", "file:"+db.Path(env.Dir))
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`DELETE FROM users WHERE id='ghost'`); err != nil {
		t.Fatalf("delete ghost: %v", err)
	}

	chain, err := env.Engine.SuperiorChain(env.Ctx, "n")
	if err != nil {
		t.Fatalf("superior chain with dangling link: %v", err)
	}
	if len(chain) != 1 || chain[0] != "m" {
		t.Fatalf("chain = %v, want [m]", chain)
	}
}

func TestSuperiorChainUnknownUserIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	chain, err := env.Engine.SuperiorChain(env.Ctx, "nobody")
	if err != nil {
		t.Fatalf("superior chain for unknown user: %v", err)
	}
	if len(chain) != 0 {
		t.Fatalf("chain = %v, want empty", chain)
	}
}
