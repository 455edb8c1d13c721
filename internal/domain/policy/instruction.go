package policy

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
)

// actionVerbs maps a tool's action to the imperative verbs that name it.
var actionVerbs = map[string][]string{
	"delete":    {"delete", "remove", "erase"},
	"remove":    {"remove", "delete"},
	"uninstall": {"uninstall", "remove"},
	"restart":   {"restart", "reboot"},
	"shutdown":  {"shutdown", "shut down", "power off"},
	"cancel":    {"cancel", "abort"},
	"revoke":    {"revoke"},
	"reset":     {"reset"},
}

var (
	negation      = regexp.MustCompile(`\b(don'?t|do not|never|not|no|without|shouldn'?t|won'?t|stop me)\b`)
	interrogative = map[string]bool{
		"can": true, "could": true, "would": true, "should": true, "will": true,
		"shall": true, "do": true, "does": true, "did": true, "is": true,
		"are": true, "what": true, "how": true, "why": true, "when": true,
		"which": true, "who": true, "may": true, "might": true,
	}
	affirmative = map[string]bool{
		"yes": true, "y": true, "yes please": true, "confirm": true, "confirmed": true,
		"go ahead": true, "do it": true, "proceed": true, "ok": true, "okay": true, "sure": true,
	}
	denial = map[string]bool{
		"no": true, "n": true, "cancel": true, "abort": true, "stop": true, "don't": true, "do not": true,
	}
)

// verbPatterns holds, per action, the imperative heads that name it: one of
// the action's verbs as the first word, optionally after "please".
var verbPatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(actionVerbs))
	for action, verbs := range actionVerbs {
		alts := make([]string, len(verbs))
		for i, v := range verbs {
			alts[i] = strings.ReplaceAll(regexp.QuoteMeta(v), " ", `\s+`)
		}
		out[action] = regexp.MustCompile(`^(?:please[\s,]+)?(?:` + strings.Join(alts, "|") + `)\b`)
	}
	return out
}()

// ExplicitInstruction reports whether text is an unambiguous imperative to
// perform spec's action on exactly the target described by args: the
// request opens with the action's verb, is neither a question nor negated,
// and every identifying argument value appears in it as a whole token.
func ExplicitInstruction(text string, spec capability.ToolSpec, args map[string]any) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" || strings.HasSuffix(t, "?") {
		return false
	}
	if fields := strings.Fields(t); len(fields) > 0 && interrogative[fields[0]] {
		return false
	}
	if negation.MatchString(t) {
		return false
	}

	head, ok := verbPatterns[spec.Action()]
	if !ok || !head.MatchString(t) {
		return false
	}

	for _, v := range identifyingValues(args) {
		if !containsToken(t, strings.ToLower(v)) {
			return false
		}
	}
	return true
}

// containsToken reports whether v occurs in t with no identifier character
// directly before or after it, so "12" does not contain "1".
func containsToken(t, v string) bool {
	if v == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(t[from:], v)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(v)
		before, _ := utf8.DecodeLastRuneInString(t[:start])
		after, _ := utf8.DecodeRuneInString(t[end:])
		if (start == 0 || !identRune(before)) && (end == len(t) || !identRune(after)) {
			return true
		}
		from = start + 1
	}
}

func identRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

// identifyingValues flattens scalar argument values (booleans excluded) into
// strings, in key order.
func identifyingValues(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	var add func(v any)
	add = func(v any) {
		switch x := v.(type) {
		case string:
			if x != "" {
				out = append(out, x)
			}
		case float64:
			out = append(out, strconv.FormatFloat(x, 'f', -1, 64))
		case []any:
			for _, e := range x {
				add(e)
			}
		}
	}
	for _, k := range keys {
		add(args[k])
	}
	return out
}

type confirmState int

const (
	unconfirmed confirmState = iota
	confirmed
	declined
)

// confirmationState scans the history for the latest decision about tool.
// An explicit confirmation turn counts, as does a plain user reply directly
// after a confirmation request for the same call.
func confirmationState(turns []task.Turn, tool, fingerprint string) confirmState {
	state := unconfirmed
	pending := false
	matches := func(t task.Turn) bool {
		return t.Tool == tool && (t.Fingerprint == "" || fingerprint == "" || t.Fingerprint == fingerprint)
	}
	for _, t := range turns {
		switch {
		case t.Role == task.RoleUser && t.Kind == task.TurnConfirmation:
			pending = false
			if !matches(t) {
				continue
			}
			if t.Approved {
				state = confirmed
			} else {
				state = declined
			}
		case t.Role == task.RoleAssistant && t.Kind == task.TurnConfirmationRequest:
			pending = matches(t)
		case t.Role == task.RoleUser && pending:
			pending = false
			reply := strings.Trim(strings.ToLower(strings.TrimSpace(t.Content)), ".!")
			switch {
			case affirmative[reply]:
				state = confirmed
			case denial[reply]:
				state = declined
			}
		default:
			pending = false
		}
	}
	return state
}
