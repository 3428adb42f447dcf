package player

import (
	"strings"
	"testing"
)

func TestCleanName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Wildfire", "wildfire"},
		{"comethru (feat. blackbear)", "comethru"},
		{"Me & You", "me and you"},
		{"  What's  Up?  ", "whats up"},
	}
	for _, tc := range cases {
		if got := cleanName(tc.in); got != tc.want {
			t.Errorf("cleanName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := similarity("wildfire", "Wildfire"); got != 100 {
		t.Errorf("exact match = %d", got)
	}
	if got := similarity("wildfire", "wildflower"); got < 50 || got >= 100 {
		t.Errorf("near match = %d", got)
	}
	if got := similarity("wildfire", "completely unrelated"); got >= minMatchScore {
		t.Errorf("mismatch = %d", got)
	}
}

func TestRankCandidatesLikedBoost(t *testing.T) {
	candidates := []candidate{
		{kind: "track", uri: "spotify:track:a", name: "Wild Fires", artist: "A"},
		{kind: "track", uri: "spotify:track:b", name: "Wild Fires", artist: "B"},
	}
	isLiked := func(uri string) bool { return uri == "spotify:track:b" }

	best, score := rankCandidates("wild fires", candidates, isLiked)
	if len(best) != 1 || best[0].uri != "spotify:track:b" {
		t.Errorf("best = %v", best)
	}
	if score != 100+likedBoost {
		t.Errorf("score = %d", score)
	}
}

func TestNarrowTiesPrefersTracks(t *testing.T) {
	tied := []candidate{
		{kind: "artist", name: "Wildfire"},
		{kind: "album", name: "Wildfire"},
		{kind: "track", name: "Wildfire", artist: "A"},
	}
	got := narrowTies(tied)
	if len(got) != 1 || got[0].kind != "track" {
		t.Errorf("got %v", got)
	}

	// All artists stays as-is rather than emptying out.
	artists := []candidate{
		{kind: "artist", name: "A"},
		{kind: "artist", name: "B"},
	}
	if got := narrowTies(artists); len(got) != 2 {
		t.Errorf("got %v", got)
	}
}

func TestAmbiguityResponse(t *testing.T) {
	best := []candidate{
		{kind: "track", name: "Wildfire", artist: "Jeremy Zucker"},
		{kind: "track", name: "Wildfire", artist: "Cautious Clay"},
	}
	got := ambiguityResponse(best)
	if !strings.HasPrefix(got, "There are multiple options.") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, "Wildfire by Jeremy Zucker, and by Cautious Clay") {
		t.Errorf("got %q", got)
	}
}
