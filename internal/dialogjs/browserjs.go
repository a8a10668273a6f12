package dialogjs

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"regexp"
)

// targetExprPattern restricts the Event trigger's `target` field (spliced
// verbatim into EventTriggerScript as a bare JS expression, not a JSON
// string literal) to a simple dotted identifier chain such as "window" or
// "window.top". Request validation must reject anything else before it
// ever reaches EventTriggerScript.
var targetExprPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// IsValidTargetExpr reports whether target is safe to splice directly into
// generated JS as a bare expression.
func IsValidTargetExpr(target string) bool {
	return targetExprPattern.MatchString(target)
}

const contextKeyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandomContextKey generates a random 32-character key used to hang a
// per-page context object off window, out of the way of page scripts.
func RandomContextKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failures are effectively unrecoverable on any
		// supported platform; fall back to a fixed-but-still-unlikely
		// pattern rather than panicking mid-render.
		copy(buf, []byte("renderd0000000000000000000000000"))
	}
	out := make([]byte, 32)
	for i, b := range buf {
		out[i] = contextKeyAlphabet[int(b)%len(contextKeyAlphabet)]
	}
	return string(out)
}

// ContextInitScript returns a script, meant to run via
// addScriptToEvaluateOnNewDocument, that creates window[key] as the
// per-page context object before any page script runs.
func ContextInitScript(key string) string {
	return fmt.Sprintf(`(function() {
	if (typeof window[%q] === "undefined") {
		Object.defineProperty(window, %q, { value: {}, configurable: false, enumerable: false, writable: false });
	}
})();`, key, key)
}

// WriteSlotExpr returns an expression that writes valueJSExpr (a JS
// expression, not a Go value) into the named slot of the context object.
func WriteSlotExpr(key, slot, valueJSExpr string) string {
	slotJSON, _ := json.Marshal(slot)
	return fmt.Sprintf(`window[%q][%s] = (%s);`, key, string(slotJSON), valueJSExpr)
}

// ReadSlotExpr returns an expression that reads the named slot.
func ReadSlotExpr(key, slot string) string {
	slotJSON, _ := json.Marshal(slot)
	return fmt.Sprintf(`window[%q][%s]`, key, string(slotJSON))
}

// SerializeDocumentExpr returns the canonical "<doctype> + outerHTML"
// document serialization expression used by completion triggers to
// synchronously latch the DOM the instant their signal fires.
const SerializeDocumentExpr = `(function() {
	var dt = document.doctype;
	var prefix = "";
	if (dt) {
		prefix = "<!DOCTYPE " + dt.name +
			(dt.publicId ? ' PUBLIC "' + dt.publicId + '"' : "") +
			(!dt.publicId && dt.systemId ? " SYSTEM" : "") +
			(dt.systemId ? ' "' + dt.systemId + '"' : "") + ">";
	}
	return prefix + document.documentElement.outerHTML;
})();`

// VariableTriggerScript returns a script that redefines window[varName] via
// property accessors so that an assignment of exactly `true` synchronously
// captures the document and then fires a magic dialog carrying token, all
// before control returns to whatever script performed the assignment.
func VariableTriggerScript(contextKey, slot, varName, token string) string {
	varJSON, _ := json.Marshal(varName)
	tokenJSON, _ := json.Marshal(token)
	return fmt.Sprintf(`(function() {
	var fired = false;
	var value;
	Object.defineProperty(window, %s, {
		configurable: true,
		get: function() { return value; },
		set: function(v) {
			value = v;
			if (!fired && v === true) {
				fired = true;
				%s
				window.prompt("renderd-signal", %s);
			}
		}
	});
})();`, varJSON, WriteSlotExpr(contextKey, slot, SerializeDocumentExpr), tokenJSON)
}

// EventTriggerScript is the same pattern as VariableTriggerScript but keyed
// off addEventListener(eventName) on the named global (window by default).
func EventTriggerScript(contextKey, slot, target, eventName, token string) string {
	eventJSON, _ := json.Marshal(eventName)
	tokenJSON, _ := json.Marshal(token)
	return fmt.Sprintf(`(function() {
	var fired = false;
	%s.addEventListener(%s, function() {
		if (!fired) {
			fired = true;
			%s
			window.prompt("renderd-signal", %s);
		}
	});
})();`, target, eventJSON, WriteSlotExpr(contextKey, slot, SerializeDocumentExpr), tokenJSON)
}
