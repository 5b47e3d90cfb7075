package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid keys per section.
var knownKeys = map[string][]string{
	"account": {"email", "password"},
	"garmin":  {"domain", "consumer_key", "consumer_secret"},
	"upload":  {"format", "watch_extensions", "settle_delay"},
	"logging": {"log_level"},
	"network": {"connect_timeout", "data_timeout", "user_agent", "max_retries"},
}

// knownSectionsList is sorted for deterministic suggestions when two
// candidates have the same edit distance.
var knownSectionsList = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	sort.Strings(sections)

	return sections
}()

// knownDottedList holds every "section.key" pair, used to suggest the right
// section for a key written at the top level.
var knownDottedList = func() []string {
	var keys []string
	for s, ks := range knownKeys {
		for _, k := range ks {
			keys = append(keys, s+"."+k)
		}
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An unknown
// section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	reported := make(map[string]bool)

	for _, key := range undecoded {
		section := key[0]
		if reported[section] {
			continue
		}

		if _, ok := knownKeys[section]; !ok {
			reported[section] = true
			errs = append(errs, unknownTopLevelError(section, md.Type(section) != "Hash"))

			continue
		}

		if len(key) > 1 && !reported[section+"."+key[1]] {
			reported[section+"."+key[1]] = true
			errs = append(errs, unknownKeyError(section, key[1]))
		}
	}

	return errors.Join(errs...)
}

// unknownTopLevelError describes an unknown top-level name. A bare key like
// log_level written outside its table gets the qualified name suggested.
func unknownTopLevelError(name string, bare bool) error {
	if bare {
		for _, dotted := range knownDottedList {
			if strings.HasSuffix(dotted, "."+name) {
				return fmt.Errorf("unknown config key %q: did you mean %q?", name, dotted)
			}
		}

		return fmt.Errorf("unknown config key %q", name)
	}

	if suggestion := closestMatch(name, knownSectionsList); suggestion != "" {
		return fmt.Errorf("unknown config section %q: did you mean %q?", name, suggestion)
	}

	return fmt.Errorf("unknown config section %q", name)
}

func unknownKeyError(section, key string) error {
	if suggestion := closestMatch(key, knownKeys[section]); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s]: did you mean %q?", key, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", key, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
