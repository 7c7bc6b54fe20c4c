package domain

import "testing"

func TestRunStatus_Terminal(t *testing.T) {
	cases := []struct {
		status RunStatus
		want   bool
	}{
		{RunStatusPending, false},
		{RunStatusRunning, false},
		{RunStatusSucceeded, true},
		{RunStatusFailed, true},
		{RunStatusCancelled, true},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.want {
			t.Errorf("Terminal(%s) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestGroupKeyFor(t *testing.T) {
	a := GroupKeyFor("autogen", "refs/heads/main", 42)
	b := GroupKeyFor("autogen", "refs/heads/main", 42)
	if a != b {
		t.Errorf("equal inputs produced different keys: %q vs %q", a, b)
	}

	c := GroupKeyFor("autogen", "refs/heads/main", 43)
	if a == c {
		t.Errorf("different PR numbers produced equal key %q", a)
	}

	d := GroupKeyFor("autogen", "refs/heads/main", 0)
	if d == a {
		t.Errorf("branch key equals PR key %q", a)
	}
}

func TestGenerationStages_Order(t *testing.T) {
	want := []string{
		StageCompileContracts,
		StageCircuitConfig,
		StageFmt,
		StageVerifier,
		StageSuperVerifier,
		StagePatchGenesis,
	}
	stages := GenerationStages(true)
	if len(stages) != len(want) {
		t.Fatalf("got %d stages, want %d", len(stages), len(want))
	}
	for i, s := range stages {
		if s.Name != want[i] {
			t.Errorf("stage[%d] = %s, want %s", i, s.Name, want[i])
		}
	}
}

func TestGenerationStages_EVMOnlyFlag(t *testing.T) {
	for _, s := range GenerationStages(true) {
		if s.Name != StageSuperVerifier {
			continue
		}
		found := false
		for _, e := range s.Env {
			if e == "ONLY_EVM=true" {
				found = true
			}
		}
		if !found {
			t.Errorf("super-verifier stage missing ONLY_EVM env, got %v", s.Env)
		}
	}

	for _, s := range GenerationStages(false) {
		if s.Name == StageSuperVerifier && len(s.Env) != 0 {
			t.Errorf("super-verifier stage should have no extra env, got %v", s.Env)
		}
	}
}

func TestGenerationStages_PatchGenesisUsesScriptRuntime(t *testing.T) {
	for _, s := range GenerationStages(true) {
		want := RuntimeToolchain
		if s.Name == StagePatchGenesis {
			want = RuntimeScript
		}
		if s.Runtime != want {
			t.Errorf("stage %s runtime = %s, want %s", s.Name, s.Runtime, want)
		}
	}
}
