package player

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// minMatchScore is the floor below which the best candidate is treated
// as no result at all.
const minMatchScore = 50

// likedBoost is added to a track's score when it is in the user's liked
// songs, so familiar music wins ties against catalog noise.
const likedBoost = 20

var parenthetical = regexp.MustCompile(`\([^)]*\)`)

// cleanName normalizes a catalog name for matching: parentheticals
// dropped, "&" spelled out, lowercased, punctuation stripped.
func cleanName(name string) string {
	name = parenthetical.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "&", "and")
	name = strings.ToLower(name)

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// similarity scores how close two strings are on a 0-100 scale.
func similarity(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 100
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return (longest - dist) * 100 / longest
}

// candidate is one playable search result under scoring.
type candidate struct {
	// kind is "track", "album", or "artist".
	kind   string
	id     string
	uri    string
	name   string
	artist string
}

// spokenKind maps the catalog kind to how people say it.
func (c candidate) spokenKind() string {
	if c.kind == "track" {
		return "song"
	}
	return c.kind
}

// natural is the candidate as a spoken phrase, e.g. "song wildfire by
// Jeremy Zucker". Used both for dedup keys and for disambiguation
// options.
func (c candidate) natural() string {
	s := c.spokenKind() + " " + cleanName(c.name)
	if c.kind != "artist" && c.artist != "" {
		s += " by " + c.artist
	}
	return s
}

// utterances lists the phrasings a user might have used to ask for the
// candidate. The query is scored against each one.
func (c candidate) utterances() []string {
	name := cleanName(c.name)
	kind := c.spokenKind()

	out := []string{
		name,
		fmt.Sprintf("the %s %s", kind, name),
	}
	if c.kind != "artist" && c.artist != "" {
		out = append(out,
			fmt.Sprintf("%s by %s", name, c.artist),
			fmt.Sprintf("the %s %s by %s", kind, name, c.artist),
		)
	}
	return out
}

// collectCandidates flattens search results into a deduplicated
// candidate list, tracks first.
func collectCandidates(results *searchResults) []candidate {
	var out []candidate
	seen := make(map[string]bool)

	add := func(c candidate) {
		key := strings.ToLower(c.natural())
		if c.name == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	for _, t := range results.Tracks.Items {
		add(candidate{kind: "track", id: t.ID, uri: t.URI, name: t.Name, artist: t.primaryArtist()})
	}
	for _, a := range results.Albums.Items {
		artistName := ""
		if len(a.Artists) > 0 {
			artistName = a.Artists[0].Name
		}
		add(candidate{kind: "album", id: a.ID, uri: a.URI, name: a.Name, artist: artistName})
	}
	for _, a := range results.Artists.Items {
		add(candidate{kind: "artist", id: a.ID, uri: a.URI, name: a.Name})
	}
	return out
}

// rankCandidates scores every candidate against the query and returns
// the highest scorers. A candidate's score is its best utterance match;
// isLiked feeds the liked-songs boost.
func rankCandidates(query string, candidates []candidate, isLiked func(uri string) bool) (best []candidate, bestScore int) {
	query = strings.ToLower(query)
	for _, c := range candidates {
		score := 0
		for _, u := range c.utterances() {
			if s := similarity(query, u); s > score {
				score = s
			}
		}
		if c.kind == "track" && isLiked(c.uri) {
			score += likedBoost
		}

		if score > bestScore {
			bestScore = score
			best = []candidate{c}
		} else if score == bestScore && score > 0 {
			best = append(best, c)
		}
	}
	return best, bestScore
}

// narrowTies thins a tied candidate set by preferring tracks over
// albums and albums over artists.
func narrowTies(best []candidate) []candidate {
	if len(best) <= 1 {
		return best
	}
	withoutKind := func(in []candidate, kind string) []candidate {
		var out []candidate
		for _, c := range in {
			if c.kind != kind {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return in
		}
		return out
	}
	best = withoutKind(best, "artist")
	if len(best) > 1 {
		best = withoutKind(best, "album")
	}
	return best
}

// ambiguityResponse builds the spoken sentence listing tied options,
// grouping same-named songs by their artists.
func ambiguityResponse(best []candidate) string {
	type group struct {
		name    string
		artists []string
	}
	var groups []*group
	index := make(map[string]*group)

	for _, c := range best {
		key := strings.ToLower(c.name)
		g, ok := index[key]
		if !ok {
			g = &group{name: c.name}
			index[key] = g
			groups = append(groups, g)
		}
		g.artists = append(g.artists, c.artist)
	}

	var parts []string
	for _, g := range groups {
		var b strings.Builder
		b.WriteString(titleCase(g.name) + " by ")
		for i, a := range g.artists {
			switch {
			case i == 0:
				b.WriteString(a)
			case i == len(g.artists)-1:
				b.WriteString(", and by " + a)
			default:
				b.WriteString(", by " + a)
			}
		}
		parts = append(parts, b.String())
	}
	return "There are multiple options. " + strings.Join(parts, ". And ") + "."
}

// titleCase capitalizes the first letter of each word.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
