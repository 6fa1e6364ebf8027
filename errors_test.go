package votecast

import (
	"errors"
	"testing"
)

func TestKindSurfaced(t *testing.T) {
	surfaced := []Kind{KindAuthFailed, KindBadRequest, KindGroupExists, KindNoSuchGroup, KindNotAMember}
	for _, k := range surfaced {
		if !k.surfaced() {
			t.Errorf("%s.surfaced() = false, want true", k)
		}
	}

	local := []Kind{KindTransientIO, KindPeerCrash, KindOutOfOrderAck, KindElectionStale}
	for _, k := range local {
		if k.surfaced() {
			t.Errorf("%s.surfaced() = true, want false", k)
		}
	}
}

func TestKindOfExtractsVotecastError(t *testing.T) {
	err := errKind(KindGroupExists)
	if got := kindOf(err); got != KindGroupExists {
		t.Fatalf("kindOf(votecastError) = %s, want %s", got, KindGroupExists)
	}
}

func TestKindOfFallsBackToBadRequest(t *testing.T) {
	if got := kindOf(errors.New("some other failure")); got != KindBadRequest {
		t.Fatalf("kindOf(plain error) = %s, want %s", got, KindBadRequest)
	}
}
