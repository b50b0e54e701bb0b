package core

import (
	"bytes"
	"testing"
)

func newTestState(t *testing.T) *GeneralServiceState {
	t.Helper()
	return NewGeneralServiceState(NewMPTTrie(NewMemTrieDB()))
}

//-------------------------------------------------------------
// Layering: cache -> stash -> trie
//-------------------------------------------------------------

func TestStateRevertCacheDropsWrites(t *testing.T) {
	state := newTestState(t)

	state.Insert([]byte("k"), []byte("v"))
	state.RevertCache()

	got, err := state.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("reverted write still visible: %q", got)
	}
}

func TestStateStashSurvivesRevert(t *testing.T) {
	state := newTestState(t)

	state.Insert([]byte("k"), []byte("v"))
	state.Stash()
	state.RevertCache()

	got, err := state.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("stashed write lost: %q", got)
	}
}

func TestStateCommitEmptiesTiers(t *testing.T) {
	state := newTestState(t)

	state.Insert([]byte("k"), []byte("v"))
	state.Stash()
	root, err := state.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if root == EmptyHash() {
		t.Fatal("commit of non-empty state returned empty root")
	}
	if len(state.cacheMap) != 0 || len(state.stashMap) != 0 {
		t.Fatalf("tiers not empty after commit: cache=%d stash=%d", len(state.cacheMap), len(state.stashMap))
	}

	got, err := state.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("committed value lost: %q", got)
	}
}

func TestStateStashOverridesTrie(t *testing.T) {
	state := newTestState(t)

	state.Insert([]byte("k"), []byte("old"))
	state.Stash()
	if _, err := state.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	state.Insert([]byte("k"), []byte("new"))
	state.Stash()
	state.RevertCache() // must not touch the stash

	got, _ := state.Get([]byte("k"))
	if !bytes.Equal(got, []byte("new")) {
		t.Fatalf("stash not shadowing trie: %q", got)
	}
}

func TestStateTombstone(t *testing.T) {
	state := newTestState(t)

	state.Insert([]byte("k"), []byte("v"))
	state.Stash()
	if _, err := state.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	state.Delete([]byte("k"))
	got, err := state.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("tombstoned key visible: %q", got)
	}
	ok, _ := state.Contains([]byte("k"))
	if ok {
		t.Fatal("Contains sees tombstoned key")
	}
}

//-------------------------------------------------------------
// Account-scoped values
//-------------------------------------------------------------

func TestStateAccountValues(t *testing.T) {
	state := newTestState(t)

	addrA := Address{0xAA}
	addrB := Address{0xBB}

	state.SetAccountValue(addrA, []byte("bal"), []byte("100"))
	state.SetAccountValue(addrB, []byte("bal"), []byte("200"))

	gotA, _ := state.GetAccountValue(addrA, []byte("bal"))
	gotB, _ := state.GetAccountValue(addrB, []byte("bal"))
	if !bytes.Equal(gotA, []byte("100")) || !bytes.Equal(gotB, []byte("200")) {
		t.Fatalf("account values crossed: a=%q b=%q", gotA, gotB)
	}
}

//-------------------------------------------------------------
// Root is a pure function of the trie contents
//-------------------------------------------------------------

func TestStateRootDeterminism(t *testing.T) {
	build := func() Hash {
		state := newTestState(t)
		for i := byte(0); i < 50; i++ {
			state.Insert([]byte{'k', i}, []byte{'v', i})
		}
		state.Stash()
		root, err := state.Commit()
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		return root
	}

	if a, b := build(), build(); a != b {
		t.Fatalf("same contents, different roots: %s vs %s", a, b)
	}
}
