package ingest

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuemby/reroll-core/pkg/types"
)

// ErrNotHeartbeat is returned by ParseHeartbeat when body fails the
// recognition rule in spec §4.2.
var ErrNotHeartbeat = errors.New("ingest: message does not match heartbeat shape")

var (
	mentionRe   = regexp.MustCompile(`^<@!?(\d+)>$`)
	timePacksRe = regexp.MustCompile(`(?i)Time:\s*(\d+)\s*m.*?Packs:\s*(\d+)`)
	subHeaderRe = regexp.MustCompile(`(?i)^Sub:\s*(.+)$`)
)

// ParsedHeartbeat is the raw result of recognizing and parsing an inbound
// heartbeat message, before worker-identity resolution.
type ParsedHeartbeat struct {
	RawIdentity        string
	InstancesOnline    int
	InstancesOffline   int
	TimeRunningMinutes int
	PacksCumulative    int64
	MainActive         bool
	SelectedPacks      []string
	Subsystems         []types.SubsystemSample
}

// ParseHeartbeat recognizes and parses an inbound heartbeat per spec §4.2:
// at least 4 lines with, in order, an identity line, "Online:", "Offline:",
// and a "Time: Nm ... Packs: N" line, plus an optional "Select:" line and
// optional "Sub:<name>" subsystem blocks (spec §9 supplement).
func ParseHeartbeat(body string) (*ParsedHeartbeat, error) {
	lines := splitNonEmptyLines(body)
	if len(lines) < 4 {
		return nil, ErrNotHeartbeat
	}

	onlineIdx, offlineIdx, timePacksIdx := -1, -1, -1
	for i, line := range lines {
		switch {
		case onlineIdx == -1 && hasPrefixFold(line, "Online:"):
			onlineIdx = i
		case offlineIdx == -1 && onlineIdx != -1 && hasPrefixFold(line, "Offline:"):
			offlineIdx = i
		case timePacksIdx == -1 && offlineIdx != -1 && timePacksRe.MatchString(line):
			timePacksIdx = i
		}
	}
	if onlineIdx == -1 || offlineIdx == -1 || timePacksIdx == -1 || onlineIdx == 0 {
		return nil, ErrNotHeartbeat
	}

	onlineTokens := splitTokens(lines[onlineIdx][len("Online:"):])
	offlineTokens := splitTokens(lines[offlineIdx][len("Offline:"):])

	m := timePacksRe.FindStringSubmatch(lines[timePacksIdx])
	timeMinutes, _ := strconv.Atoi(m[1])
	packs, _ := strconv.ParseInt(m[2], 10, 64)

	hb := &ParsedHeartbeat{
		RawIdentity:        lines[0],
		InstancesOnline:    len(onlineTokens),
		InstancesOffline:   len(offlineTokens),
		TimeRunningMinutes: timeMinutes,
		PacksCumulative:    packs,
		MainActive:         containsFold(onlineTokens, "main"),
	}

	for i := timePacksIdx + 1; i < len(lines); i++ {
		if rest, ok := stripPrefixFold(lines[i], "Select:"); ok {
			hb.SelectedPacks = splitTokens(rest)
			continue
		}
		if sub := subHeaderRe.FindStringSubmatch(lines[i]); sub != nil {
			name := strings.TrimSpace(sub[1])
			sample := types.SubsystemSample{Name: name}
			for j := i + 1; j < len(lines) && j <= i+2; j++ {
				if rest, ok := stripPrefixFold(lines[j], "Online:"); ok {
					sample.InstancesOnline = len(splitTokens(rest))
				}
			}
			hb.Subsystems = append(hb.Subsystems, sample)
		}
	}

	return hb, nil
}

// ResolveIdentity classifies a heartbeat's identity line as a bare worker
// id, a Discord-style mention, or a name requiring registry lookup.
func ResolveIdentity(raw string) (id int64, isID bool, name string) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, true, ""
	}
	if m := mentionRe.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		return n, true, ""
	}
	return 0, false, raw
}

func splitNonEmptyLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitTokens(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func stripPrefixFold(s, prefix string) (string, bool) {
	if !hasPrefixFold(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

func containsFold(tokens []string, want string) bool {
	for _, t := range tokens {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
