// Package naming derives broker-facing names from Go identifiers: kebab-case
// endpoint names and fully qualified message URNs.
package naming

import (
	"reflect"
	"strings"
	"unicode"
)

// URNPrefix starts every message type URN.
const URNPrefix = "urn:message:"

// Namespacer lets a message type pin its wire namespace. Producers and
// consumers in other code bases route by the qualified name, so the namespace
// is part of the contract and must not follow Go package moves.
type Namespacer interface {
	MessageNamespace() string
}

var endpointSuffixes = []string{"StateMachine", "Consumer", "Activity", "Saga"}

// KebabCase lowercases name and separates words with hyphens. Acronyms stay
// together ("HTTPServer" becomes "http-server"); underscores, dots and spaces
// become hyphens.
func KebabCase(name string) string {
	runes := []rune(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(runes) + 4)

	lastHyphen := true
	for i, r := range runes {
		switch {
		case r == '_' || r == '.' || r == '-' || unicode.IsSpace(r):
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
			continue
		case unicode.IsUpper(r):
			if i > 0 && !lastHyphen {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('-')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		lastHyphen = false
	}

	return strings.TrimSuffix(b.String(), "-")
}

// EndpointName turns a handler name into its endpoint name, dropping the
// conventional role suffix: "RuleEngineCommandConsumer" becomes
// "rule-engine-command".
func EndpointName(handlerName string) string {
	return KebabCase(TrimRoleSuffix(handlerName))
}

// TrimRoleSuffix removes one trailing StateMachine, Consumer, Activity or
// Saga from name, unless that would leave nothing.
func TrimRoleSuffix(name string) string {
	trimmed := strings.TrimSpace(name)
	for _, suffix := range endpointSuffixes {
		if len(trimmed) > len(suffix) && strings.HasSuffix(trimmed, suffix) {
			return strings.TrimSuffix(trimmed, suffix)
		}
	}
	return trimmed
}

// MessageName is the unqualified type name of t, with pointers removed.
func MessageName(t reflect.Type) string {
	t = indirect(t)
	if t == nil {
		return ""
	}
	name := t.Name()
	// generic instantiations carry their type arguments in brackets
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}

// MessageNamespace is the value of MessageNamespace() when the type (or its
// pointer) implements Namespacer, else the package path with slashes
// replaced by dots.
func MessageNamespace(t reflect.Type) string {
	t = indirect(t)
	if t == nil {
		return ""
	}
	if ns := declaredNamespace(t); ns != "" {
		return ns
	}
	return strings.ReplaceAll(t.PkgPath(), "/", ".")
}

// QualifiedName is "<namespace>:<name>", the exchange or topic a message
// type is published to.
func QualifiedName(t reflect.Type) string {
	name := MessageName(t)
	if name == "" {
		return ""
	}
	ns := MessageNamespace(t)
	if ns == "" {
		return name
	}
	return ns + ":" + name
}

// MessageURN is the wire identifier carried in envelopes.
func MessageURN(t reflect.Type) string {
	q := QualifiedName(t)
	if q == "" {
		return ""
	}
	return URNPrefix + q
}

// URNFor is MessageURN for the static type T.
func URNFor[T any]() string {
	return MessageURN(reflect.TypeFor[T]())
}

// QualifiedNameFromURN strips the URN prefix; other inputs are returned as is.
func QualifiedNameFromURN(urn string) string {
	return strings.TrimPrefix(urn, URNPrefix)
}

var namespacerType = reflect.TypeOf((*Namespacer)(nil)).Elem()

func declaredNamespace(t reflect.Type) string {
	switch {
	case t.Implements(namespacerType):
		return reflect.Zero(t).Interface().(Namespacer).MessageNamespace()
	case reflect.PointerTo(t).Implements(namespacerType):
		return reflect.New(t).Interface().(Namespacer).MessageNamespace()
	}
	return ""
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
