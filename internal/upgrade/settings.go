package upgrade

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/openmrs/openmrs-core-sub027/internal/config"
)

// Global property keys read by the rules.
const (
	// UnknownProviderKey holds the uuid of the provider that orders without
	// an orderer are attributed to.
	UnknownProviderKey = "provider.unknownProviderUuid"
	// NoCauseKey holds the concept id used as the reason of synthesised
	// stop orders whose original order carries none.
	NoCauseKey = "order.discontinueNoCauseConceptId"
)

// Settings is resolved once per run and handed to every rule.
type Settings struct {
	// SettingsPath is the mapping settings resource (legacy label -> concept id).
	SettingsPath       string
	UnknownProviderKey string
	NoCauseKey         string
}

// NewSettings 从配置构建升级设置
func NewSettings(cfg *config.Config) Settings {
	return Settings{
		SettingsPath:       cfg.SettingsPath(),
		UnknownProviderKey: UnknownProviderKey,
		NoCauseKey:         NoCauseKey,
	}
}

// DefaultSettings places the settings resource under appDataDir with the
// standard file name.
func DefaultSettings(appDataDir string) Settings {
	return Settings{
		SettingsPath:       filepath.Join(appDataDir, config.DefaultSettingsFileName),
		UnknownProviderKey: UnknownProviderKey,
		NoCauseKey:         NoCauseKey,
	}
}

// ParseSettings reads a flat key/value resource.
//
// Lines starting with '#' or '!' are comments. The key ends at the first
// unescaped '=', ':' or whitespace; a backslash escapes the next character
// so "tab\ \(s\)" and "mg\/ml" decode to "tab (s)" and "mg/ml", and
// "\u00b5g" decodes to "µg". Later keys override earlier ones.
func ParseSettings(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimLeft(scanner.Text(), " \t\f")
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		rawKey, rawValue := splitEntry(line)
		key, err := Unescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		value, err := Unescape(strings.TrimRight(rawValue, " \t\f\r"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return out, nil
}

// splitEntry returns the raw (still escaped) key and value of a line.
func splitEntry(line string) (string, string) {
	end := len(line)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' {
			i++
			continue
		}
		if c == '=' || c == ':' || c == ' ' || c == '\t' || c == '\f' {
			end = i
			break
		}
	}
	key := line[:end]
	rest := strings.TrimLeft(line[end:], " \t\f")
	if rest != "" && (rest[0] == '=' || rest[0] == ':') {
		rest = strings.TrimLeft(rest[1:], " \t\f")
	}
	return key, rest
}

// Unescape replaces every "\c" with "c" and decodes "\uXXXX" to its code
// point, joining surrogate pairs. A trailing lone backslash is dropped; a
// "\u" not followed by four hex digits is an error.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		if s[i] != 'u' {
			b.WriteByte(s[i])
			continue
		}
		r, err := hexRune(s, i+1)
		if err != nil {
			return "", err
		}
		i += 4
		if utf16.IsSurrogate(r) && strings.HasPrefix(s[i+1:], `\u`) {
			if low, err := hexRune(s, i+3); err == nil {
				if pair := utf16.DecodeRune(r, low); pair != unicode.ReplacementChar {
					r = pair
					i += 6
				}
			}
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// hexRune reads the four hex digits of a \u escape starting at s[at].
func hexRune(s string, at int) (rune, error) {
	if at+4 > len(s) {
		return 0, fmt.Errorf("malformed \\uXXXX escape in %q", s)
	}
	v, err := strconv.ParseUint(s[at:at+4], 16, 16)
	if err != nil {
		return 0, fmt.Errorf("malformed \\uXXXX escape in %q", s)
	}
	return rune(v), nil
}
