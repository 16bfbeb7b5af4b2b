package mediasession

import (
	"strings"

	"github.com/charlievieth/strcase"
	"github.com/samber/lo"
)

// AllowAll accepts every source ID.
func AllowAll(string) bool { return true }

// AllowList returns a predicate accepting the given source IDs,
// compared case-insensitively. An entry also matches instance-suffixed
// IDs ("firefox" matches "firefox.instance_1_42") and entries may be
// written with a Windows ".exe" suffix. An empty list accepts everything.
func AllowList(ids []string) func(string) bool {
	entries := lo.Uniq(lo.Compact(lo.Map(ids, func(id string, _ int) string {
		return trimExe(strings.TrimSpace(id))
	})))
	if len(entries) == 0 {
		return AllowAll
	}
	return func(sourceID string) bool {
		return lo.ContainsBy(entries, func(entry string) bool {
			return matchSourceID(entry, sourceID)
		})
	}
}

func matchSourceID(entry, sourceID string) bool {
	sourceID = trimExe(sourceID)
	if strcase.EqualFold(entry, sourceID) {
		return true
	}
	head, _, found := strings.Cut(sourceID, ".")
	return found && strcase.EqualFold(entry, head)
}

func trimExe(s string) string {
	if len(s) > 4 && strcase.HasSuffix(s, ".exe") {
		return s[:len(s)-4]
	}
	return s
}
