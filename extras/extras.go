// Package extras discovers and drives the non-ONVIF controls Thingino firmware publishes
// through its HTTP side channel: auxiliary shell commands, on/off toggles and relays.
package extras

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sources of an extras set.
const (
	SourceHTTP   = "http"
	SourceManual = "manual"
	SourceONVIF  = "onvif"
)

// AuxCommand is a named shell command run through the exec endpoint.
type AuxCommand struct {
	Name string `json:"name"`
	Exec string `json:"exec"`
	Icon string `json:"icon"`
}

// Toggle is an "X On"/"X Off" pair of aux commands collapsed into one control.
type Toggle struct {
	Name    string `json:"name"`
	OnExec  string `json:"on_exec"`
	OffExec string `json:"off_exec"`
	Icon    string `json:"icon"`
}

// Relay is a relay output. Side channel relays carry open/close commands, ONVIF relays carry a token.
type Relay struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Open      string `json:"open,omitempty"`
	Close     string `json:"close,omitempty"`
	IdleState string `json:"idle_state,omitempty"`
	Icon      string `json:"icon"`
	Token     string `json:"token,omitempty"`
	ViaONVIF  bool   `json:"via_onvif"`
}

// Set is the result of one discovery pass. It is always replaced whole.
type Set struct {
	Aux      []AuxCommand `json:"aux"`
	Toggles  []Toggle     `json:"toggles"`
	Relays   []Relay      `json:"relays"`
	Source   string       `json:"source,omitempty"`
	Endpoint string       `json:"endpoint,omitempty"`
}

// Empty is true when the set has no controls.
func (s Set) Empty() bool {
	return len(s.Aux) == 0 && len(s.Toggles) == 0 && len(s.Relays) == 0
}

// FindAux returns the aux command with the given display name.
func (s Set) FindAux(name string) (AuxCommand, bool) {
	for _, a := range s.Aux {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return AuxCommand{}, false
}

// FindToggle returns the toggle with the given display name.
func (s Set) FindToggle(name string) (Toggle, bool) {
	for _, tg := range s.Toggles {
		if strings.EqualFold(tg.Name, name) {
			return tg, true
		}
	}
	return Toggle{}, false
}

// FindRelay returns a relay by token, name or index.
func (s Set) FindRelay(key string) (Relay, bool) {
	for _, r := range s.Relays {
		if (r.Token != "" && r.Token == key) || strings.EqualFold(r.Name, key) || strconv.Itoa(r.Index) == key {
			return r, true
		}
	}
	return Relay{}, false
}

var preBlock = regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`)

// ErrNoDocument is returned when a payload holds no JSON object.
var ErrNoDocument = errors.New("no extras document in payload")

// ParsePayload decodes a side channel response: a raw JSON object, or JSON echoed inside an HTML
// <pre> block, possibly without its outer braces.
func ParsePayload(text string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if doc, ok := v.(map[string]interface{}); ok {
				return doc, nil
			}
			return nil, errors.Wrap(ErrNoDocument, "payload is not a JSON object")
		}
	}
	return parseHTML(text)
}

func parseHTML(text string) (map[string]interface{}, error) {
	m := preBlock.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrNoDocument
	}
	payload := strings.TrimSpace(html.UnescapeString(m[1]))
	if payload == "" {
		return nil, ErrNoDocument
	}
	if !strings.HasPrefix(payload, "{") {
		payload = "{" + strings.Trim(payload, ",") + "}"
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode JSON in <pre> block")
	}
	return doc, nil
}

// Parse builds the controls of a document. Entries missing required fields are dropped.
// The result depends only on doc, so parsing the same document twice gives equal sets.
func Parse(doc map[string]interface{}) Set {
	var aux []AuxCommand
	for _, item := range objects(doc["aux"]) {
		name := str(item["name"])
		exec := str(item["exec"])
		if name == "" || exec == "" {
			continue
		}
		icon := str(item["icon"])
		if icon == "" {
			icon = IconForLabel(name)
		}
		aux = append(aux, AuxCommand{Name: FormatLabel(name), Exec: exec, Icon: icon})
	}

	var relays []Relay
	for i, raw := range list(doc["relays"]) {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		open := str(item["open"])
		closeCmd := str(item["close"])
		if open == "" || closeCmd == "" {
			continue
		}
		name := str(item["name"])
		if name == "" {
			name = deriveRelayName(open, closeCmd, i)
		}
		relays = append(relays, Relay{
			Index:     i,
			Name:      FormatLabel(name),
			Open:      open,
			Close:     closeCmd,
			IdleState: str(item["idle_state"]),
			Icon:      IconForLabel(name),
		})
	}

	toggles, remaining := pairToggles(aux)
	return Set{Aux: remaining, Toggles: toggles, Relays: relays}
}

// pairToggles collapses "X On"/"X Off" commands into toggles. Unmatched halves stay aux commands.
func pairToggles(commands []AuxCommand) ([]Toggle, []AuxCommand) {
	type pair struct{ on, off int }
	var order []string
	pairs := map[string]*pair{}
	for i := range commands {
		base, state, ok := splitToggleName(commands[i].Name)
		if !ok {
			continue
		}
		p, seen := pairs[base]
		if !seen {
			p = &pair{on: -1, off: -1}
			pairs[base] = p
			order = append(order, base)
		}
		if state == "on" {
			p.on = i
		} else {
			p.off = i
		}
	}

	var toggles []Toggle
	used := map[int]bool{}
	for _, base := range order {
		p := pairs[base]
		if p.on < 0 || p.off < 0 {
			continue
		}
		toggles = append(toggles, Toggle{
			Name:    FormatLabel(base),
			OnExec:  commands[p.on].Exec,
			OffExec: commands[p.off].Exec,
			Icon:    IconForLabel(base),
		})
		used[p.on] = true
		used[p.off] = true
	}

	var remaining []AuxCommand
	for i, c := range commands {
		if !used[i] {
			remaining = append(remaining, c)
		}
	}
	return toggles, remaining
}

// deriveRelayName uses the first word of the open (else close) command.
func deriveRelayName(open, closeCmd string, index int) string {
	for _, cmd := range []string{open, closeCmd} {
		if fields := strings.Fields(cmd); len(fields) > 0 {
			return fields[0]
		}
	}
	return fmt.Sprintf("Relay %d", index+1)
}

func list(v interface{}) []interface{} {
	l, _ := v.([]interface{})
	return l
}

func objects(v interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, item := range list(v) {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// str renders scalar JSON values as trimmed strings; null and containers are empty.
func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if !t {
			return ""
		}
		return "true"
	default:
		return ""
	}
}
