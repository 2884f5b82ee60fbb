package tasks

import (
	"strconv"
	"strings"

	"github.com/desertthunder/spx/internal/shared"
)

// ArchiveKind identifies one of the three per-year archive playlists.
type ArchiveKind string

const (
	ArchiveFinds     ArchiveKind = "finds"
	ArchiveTop       ArchiveKind = "top"
	ArchiveDiscovery ArchiveKind = "discovery"
)

// ArchiveKinds returns the archive kinds in their canonical order.
func ArchiveKinds() []ArchiveKind {
	return []ArchiveKind{ArchiveFinds, ArchiveTop, ArchiveDiscovery}
}

// ParseArchiveKind maps a user-supplied kind name onto an [ArchiveKind].
func ParseArchiveKind(value string) (ArchiveKind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "finds":
		return ArchiveFinds, true
	case "top":
		return ArchiveTop, true
	case "discovery":
		return ArchiveDiscovery, true
	default:
		return "", false
	}
}

var monthTokens = [][3]string{
	{"jan", "january", "01"},
	{"feb", "february", "02"},
	{"mar", "march", "03"},
	{"apr", "april", "04"},
	{"may", "may", "05"},
	{"jun", "june", "06"},
	{"jul", "july", "07"},
	{"aug", "august", "08"},
	{"sep", "september", "09"},
	{"oct", "october", "10"},
	{"nov", "november", "11"},
	{"dec", "december", "12"},
}

// ArchiveName locates a playlist inside the archive naming scheme.
// Month is zero for the yearly archives; monthly names only occur as legacy
// playlists the cleanup step folds away.
type ArchiveName struct {
	Kind  ArchiveKind
	Year  int
	Month int
}

// Yearly reports whether the name is a per-year archive.
func (n ArchiveName) Yearly() bool { return n.Month == 0 }

// Namer renders and recognizes archive playlist names under the configured
// scheme: owner, per-kind prefix, separators, capitalization, and the legacy
// prefix aliases older playlists may still carry.
type Namer struct {
	config shared.ArchiveConfig
}

// NewNamer builds a Namer from the archive configuration.
func NewNamer(config shared.ArchiveConfig) *Namer {
	return &Namer{config: config}
}

// Name renders the canonical yearly archive name, e.g. AJFinds25.
func (n *Namer) Name(kind ArchiveKind, year int) string {
	sep := separator(n.config.SeparatorPrefix)
	return n.capitalize(n.config.Owner) + sep + n.capitalize(n.prefix(kind)) + sep + yearToken(year)
}

// MonthlyName renders the legacy monthly name for a kind, e.g. AJFindsJan25.
func (n *Namer) MonthlyName(kind ArchiveKind, year, month int) string {
	if month < 1 || month > 12 {
		return n.Name(kind, year)
	}
	prefixSep := separator(n.config.SeparatorPrefix)
	monthSep := separator(n.config.SeparatorMonth)
	return n.capitalize(n.config.Owner) + prefixSep + n.capitalize(n.prefix(kind)) +
		monthSep + n.monthToken(month) + monthSep + yearToken(year)
}

// Parse recognizes canonical and legacy archive names, tolerating any of the
// configured separators and capitalization variants. A second return of
// false means the name is not archive-shaped at all.
func (n *Namer) Parse(name string) (ArchiveName, bool) {
	rest, ok := cutToken(name, n.config.Owner)
	if !ok {
		return ArchiveName{}, false
	}

	for _, kind := range ArchiveKinds() {
		for _, prefix := range n.prefixAliases(kind) {
			after, ok := cutToken(rest, prefix)
			if !ok {
				continue
			}
			if parsed, ok := parseDatePart(after); ok {
				parsed.Kind = kind
				return parsed, true
			}
		}
	}
	return ArchiveName{}, false
}

// IsArchive reports whether a playlist name is one of the yearly archives
// (canonical or legacy-prefixed).
func (n *Namer) IsArchive(name string) bool {
	parsed, ok := n.Parse(name)
	return ok && parsed.Yearly()
}

func (n *Namer) prefix(kind ArchiveKind) string {
	switch kind {
	case ArchiveTop:
		return n.config.PrefixTop
	case ArchiveDiscovery:
		return n.config.PrefixDiscovery
	default:
		return n.config.PrefixFinds
	}
}

// prefixAliases returns the canonical prefix plus, for Finds, the configured
// legacy aliases older playlists were named with.
func (n *Namer) prefixAliases(kind ArchiveKind) []string {
	aliases := []string{n.prefix(kind)}
	if kind == ArchiveFinds {
		aliases = append(aliases, n.config.LegacyPrefixes...)
	}
	return aliases
}

func (n *Namer) capitalize(word string) string {
	switch n.config.Capitalization {
	case "upper":
		return strings.ToUpper(word)
	case "lower":
		return strings.ToLower(word)
	case "title":
		if word == "" {
			return word
		}
		return strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	default:
		return word
	}
}

func (n *Namer) monthToken(month int) string {
	tokens := monthTokens[month-1]
	switch n.config.DateFormat {
	case "numeric":
		return tokens[2]
	case "medium", "long":
		return n.capitalize(tokens[1])
	default:
		return n.capitalize(tokens[0])
	}
}

func yearToken(year int) string {
	return twoDigit(year % 100)
}

func twoDigit(v int) string {
	if v < 10 {
		return "0" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}

func separator(name string) string {
	switch name {
	case "space":
		return " "
	case "dash":
		return "-"
	case "underscore":
		return "_"
	default:
		return ""
	}
}

// cutToken strips a leading token case-insensitively, then any one leading
// separator character.
func cutToken(value, token string) (string, bool) {
	if len(value) < len(token) || !strings.EqualFold(value[:len(token)], token) {
		return "", false
	}
	rest := value[len(token):]
	if len(rest) > 0 && strings.ContainsRune(" -_", rune(rest[0])) {
		rest = rest[1:]
	}
	return rest, true
}

// parseDatePart reads an optional month token and a 2- or 4-digit year from
// the tail of an archive name.
func parseDatePart(value string) (ArchiveName, bool) {
	month := 0
	rest := value

	for i, tokens := range monthTokens {
		if after, ok := cutToken(rest, tokens[1]); ok {
			month = i + 1
			rest = after
			break
		}
		if after, ok := cutToken(rest, tokens[0]); ok {
			month = i + 1
			rest = after
			break
		}
	}

	rest = strings.TrimLeft(rest, " -_")

	// Numeric months: MMYY or MM<sep>YY. A bare 4-digit group is a month
	// pair only when reading it as a year is implausible (0125 is Jan '25,
	// 2025 is the year).
	if month == 0 && len(rest) >= 4 && isDigits(rest[:2]) {
		if m, _ := strconv.Atoi(rest[:2]); m >= 1 && m <= 12 {
			tail := strings.TrimLeft(rest[2:], " -_")
			asYear, _ := strconv.Atoi(rest)
			if len(tail) == 2 && (len(rest) > 4 || asYear < 1900) {
				month = m
				rest = tail
			}
		}
	}

	if !isDigits(rest) {
		return ArchiveName{}, false
	}

	switch len(rest) {
	case 2:
		year, _ := strconv.Atoi(rest)
		return ArchiveName{Year: 2000 + year, Month: month}, true
	case 4:
		year, _ := strconv.Atoi(rest)
		return ArchiveName{Year: year, Month: month}, true
	default:
		return ArchiveName{}, false
	}
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
