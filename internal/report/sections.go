package report

import (
	"regexp"
	"strings"

	"github.com/user/ticketdigest/internal/types"
)

const (
	fallbackHeading = "Analysis"
	preambleHeading = "Summary"
	fallbackEmpty   = "No analysis was produced for this ticket."
	maxLabelWords   = 8
)

// knownSections are labels treated as headings even without markdown.
var knownSections = map[string]bool{
	"problem":               true,
	"problem description":   true,
	"issue":                 true,
	"troubleshooting":       true,
	"troubleshooting steps": true,
	"steps taken":           true,
	"solution":              true,
	"resolution":            true,
	"root cause":            true,
	"key information":       true,
	"next steps":            true,
	"recommendations":       true,
	"summary":               true,
	"analysis":              true,
}

var (
	mdHeading       = regexp.MustCompile(`^#{1,6}\s+\S`)
	bulletMarker    = regexp.MustCompile(`^([-*+•‣◦]|\d{1,3}[.)])\s+`)
	unorderedMarker = regexp.MustCompile(`^[-*+•‣◦]\s+`)
	numberedMarker  = regexp.MustCompile(`^\d{1,3}[.)]\s+`)
	numberPrefix    = regexp.MustCompile(`^\d{1,3}[.)]\s*`)
	boldLabel       = regexp.MustCompile(`^(?:\d{1,3}[.)]\s*)?\*\*([^*]+?)(?::\*\*|\*\*\s*:)\s*(.*)$`)
	boldLine        = regexp.MustCompile(`^(?:\d{1,3}[.)]\s*)?\*\*([^*]+)\*\*$`)
)

// boilerplate lines carry no ticket content and are dropped. Each pattern
// matches a whole generic line, never a prefix of a content line.
var boilerplate = []*regexp.Regexp{
	regexp.MustCompile(`^[-*_=]{3,}$`),
	regexp.MustCompile("^```[a-z]*$"),
	regexp.MustCompile(`(?i)^(sure|certainly|of course|absolutely)[,!.]?$`),
	regexp.MustCompile(`(?i)^((sure|certainly|of course|absolutely)[,!.]?\s+)?(here is|here's|below is) (a|an|the|my)( [a-z-]+){0,2} (summary|analysis|overview)( of (the|this) (ticket|issue|request))?\s*[:.]?$`),
	regexp.MustCompile(`(?i)^(i )?hope this helps[.!]?$`),
	regexp.MustCompile(`(?i)^(please )?(feel free to )?let me know if you (need|have|would like) (any|anything)( [a-z]+){0,3}[.!]?$`),
	regexp.MustCompile(`(?i)^as an ai (language model|assistant)[,.]?$`),
}

// ParseSections splits a model answer into headed sections of bullets.
// It never drops ticket content: unrecognised lines become bullets of the
// current section, text before the first heading becomes a leading
// Summary section, and an answer without any heading becomes a single
// Analysis section with Malformed set.
func ParseSections(raw string) types.Summary {
	sum := types.Summary{Raw: raw}
	var preamble []string
	current := -1

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isBoilerplate(line) {
			continue
		}

		if !unorderedMarker.MatchString(line) {
			if heading, rest, ok := parseHeading(line, numberedMarker.MatchString(line)); ok {
				sum.Sections = append(sum.Sections, types.Section{Heading: heading, Bullets: []string{}})
				current = len(sum.Sections) - 1
				if item := cleanBullet(rest); item != "" && !isBoilerplate(item) {
					sum.Sections[current].Bullets = append(sum.Sections[current].Bullets, item)
				}
				continue
			}
		}

		item := cleanBullet(line)
		if item == "" || isBoilerplate(item) {
			continue
		}
		if current < 0 {
			preamble = appendUnique(preamble, item)
			continue
		}
		sum.Sections[current].Bullets = appendUnique(sum.Sections[current].Bullets, item)
	}

	if current < 0 {
		sum.Malformed = true
		if len(preamble) == 0 {
			preamble = []string{fallbackEmpty}
		}
		sum.Sections = []types.Section{{Heading: fallbackHeading, Bullets: preamble}}
		return sum
	}
	if len(preamble) > 0 {
		sum.Sections = append([]types.Section{{Heading: preambleHeading, Bullets: preamble}}, sum.Sections...)
	}
	return sum
}

// RenderText writes sections in the markdown form ParseSections reads, so
// parsing the result yields the same sections.
func RenderText(sections []types.Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(s.Heading)
		b.WriteString("\n")
		for _, item := range s.Bullets {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// parseHeading recognises markdown headings, bold labels, short lines
// ending in a colon and known section labels. Numbered list items only
// count when bold or known. rest is any text following the label on the
// same line.
func parseHeading(line string, numbered bool) (heading, rest string, ok bool) {
	if mdHeading.MatchString(line) {
		heading = cleanHeading(line)
		return heading, "", heading != ""
	}
	if m := boldLabel.FindStringSubmatch(line); m != nil {
		heading = cleanHeading(m[1])
		return heading, m[2], heading != ""
	}
	if m := boldLine.FindStringSubmatch(line); m != nil {
		heading = cleanHeading(m[1])
		return heading, "", heading != ""
	}
	if !numbered && strings.HasSuffix(line, ":") && len(strings.Fields(line)) <= maxLabelWords {
		heading = cleanHeading(line)
		return heading, "", heading != ""
	}
	if label, after, found := strings.Cut(line, ":"); found {
		if h := cleanHeading(label); knownSections[strings.ToLower(h)] {
			return h, after, true
		}
	}
	if h := cleanHeading(line); knownSections[strings.ToLower(h)] {
		return h, "", true
	}
	return "", "", false
}

func cleanHeading(s string) string {
	return fixedPoint(s, func(s string) string {
		s = strings.TrimSpace(strings.TrimLeft(s, "#"))
		s = stripInline(s)
		s = numberPrefix.ReplaceAllString(s, "")
		return strings.TrimSpace(strings.TrimRight(s, ": "))
	})
}

func cleanBullet(s string) string {
	return fixedPoint(s, func(s string) string {
		s = strings.TrimSpace(s)
		s = bulletMarker.ReplaceAllString(s, "")
		return strings.TrimSpace(stripInline(s))
	})
}

func stripInline(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.ReplaceAll(s, "`", "")
}

func fixedPoint(s string, step func(string) string) string {
	for {
		next := step(s)
		if next == s {
			return s
		}
		s = next
	}
}

func isBoilerplate(line string) bool {
	for _, re := range boilerplate {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}
	return append(items, item)
}
