package extras

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultIcon = "mdi:console"

// iconHints are matched in order against the words of a label; a word matches a hint it starts with.
var iconHints = []struct {
	prefixes []string
	icon     string
}{
	{[]string{"ir", "night"}, "mdi:weather-night"},
	{[]string{"light", "led", "lamp", "flood", "spot"}, "mdi:lightbulb"},
	{[]string{"siren", "alarm", "buzzer", "horn"}, "mdi:alarm-light"},
	{[]string{"door", "gate", "lock"}, "mdi:door"},
	{[]string{"reboot", "restart"}, "mdi:restart"},
	{[]string{"color", "colour", "day"}, "mdi:theme-light-dark"},
	{[]string{"motor", "ptz", "home", "center", "centre"}, "mdi:axis-arrow"},
	{[]string{"audio", "speaker", "sound", "mic"}, "mdi:volume-high"},
	{[]string{"relay", "switch", "gpio"}, "mdi:electric-switch"},
}

// NormalizeLabel lowercases a label, turns underscores and dashes into spaces and collapses runs of whitespace.
func NormalizeLabel(s string) string {
	return strings.Join(labelWords(strings.ToLower(s)), " ")
}

// FormatLabel is the display form of a label: separators become spaces and every word starts with a capital.
func FormatLabel(s string) string {
	words := labelWords(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// IconForLabel picks an icon hint from the words of a label.
func IconForLabel(s string) string {
	words := labelWords(strings.ToLower(s))
	for _, hint := range iconHints {
		for _, w := range words {
			for _, p := range hint.prefixes {
				if strings.HasPrefix(w, p) {
					return hint.icon
				}
			}
		}
	}
	return defaultIcon
}

func labelWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
}

// splitToggleName splits "Light On" into ("light", "on"). ok is false unless the last word is on or off
// and a base name remains.
func splitToggleName(name string) (base, state string, ok bool) {
	words := labelWords(strings.ToLower(name))
	if len(words) < 2 {
		return "", "", false
	}
	state = words[len(words)-1]
	if state != "on" && state != "off" {
		return "", "", false
	}
	return strings.Join(words[:len(words)-1], " "), state, true
}
