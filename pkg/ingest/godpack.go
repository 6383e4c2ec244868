package ingest

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrNotGodPackDiscovery is returned by ParseGodPackDiscovery when the
// message fails the recognition rule in spec §4.2.
var ErrNotGodPackDiscovery = errors.New("ingest: message does not match GP-discovery shape")

var gpKeywords = []string{
	"god pack found",
	"godpack found",
	"gp found",
	"rare pack found",
	"special pack found",
}

var (
	nameCodeRe     = regexp.MustCompile(`([^\n(]+?)\s*\((\d{9,})\)`)
	trailingCodeRe = regexp.MustCompile(`(\d{9,})\s*$`)
	packSlotRes    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)\s*packs\b`),
		regexp.MustCompile(`(?i)\[(\d+)\s*P\]`),
		regexp.MustCompile(`(?i)\b(\d+)P\b`),
		regexp.MustCompile(`(?i)Pack:\s*(\d+)`),
	}
	ratioRes = []*regexp.Regexp{
		regexp.MustCompile(`\[(\d+)\s*/\s*5\]`),
		regexp.MustCompile(`\((\d+)\s*/\s*5\)`),
		regexp.MustCompile(`(\d+)\s*/\s*5\b`),
		regexp.MustCompile(`(?i)ratio:\s*(\d+)`),
	}
)

// ParsedGPDiscovery is the raw result of recognizing and parsing an
// inbound GP-discovery message, per spec §4.2.
type ParsedGPDiscovery struct {
	AccountName   string
	FriendCode    string
	PackSlotCount int
	Ratio         int
}

// RecognizeGodPackDiscovery reports whether body carries a GP-discovery
// keyword and attachmentCount satisfies the "≥1 image attachment" rule.
func RecognizeGodPackDiscovery(body string, attachmentCount int) bool {
	if attachmentCount < 1 {
		return false
	}
	lower := strings.ToLower(body)
	for _, kw := range gpKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ParseGodPackDiscovery extracts account_name/friend_code/pack_slot_count/
// ratio from body per spec §4.2's extraction rules. Callers must first
// confirm RecognizeGodPackDiscovery.
func ParseGodPackDiscovery(body string) (*ParsedGPDiscovery, error) {
	if m := nameCodeRe.FindStringSubmatch(body); m != nil {
		return parseRest(body, strings.TrimSpace(m[1]), m[2]), nil
	}
	if m := trailingCodeRe.FindStringSubmatch(strings.TrimSpace(body)); m != nil {
		trimmed := strings.TrimSpace(body)
		name := strings.TrimSpace(strings.TrimSuffix(trimmed, m[1]))
		return parseRest(body, name, m[1]), nil
	}
	return parseRest(body, "", ""), nil
}

func parseRest(body, name, code string) *ParsedGPDiscovery {
	gp := &ParsedGPDiscovery{
		AccountName:   name,
		FriendCode:    code,
		PackSlotCount: firstMatch(packSlotRes, body, 1, 5, 1),
		Ratio:         firstMatch(ratioRes, body, 0, 5, -1),
	}
	return gp
}

func firstMatch(res []*regexp.Regexp, body string, min, max, fallback int) int {
	for _, re := range res {
		if m := re.FindStringSubmatch(body); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return clamp(n, min, max)
		}
	}
	return fallback
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
