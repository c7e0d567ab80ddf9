/*
Package nuql – composite key templates.

Templates are parsed once at schema build into an ordered token list, so that
per-call expansion never re-scans the pattern. Two forms exist: string
templates ("TENANT#${tenant_id}") and key templates (ordered key:value parts
serialized as "type:user|tenant:T1"). Placeholder order within a template is
the canonical order used for partial key resolution.
*/
package nuql

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z0-9_]+)\}`)

// templateToken is either a literal run or a placeholder reference.
type templateToken struct {
	literal     string
	placeholder string
}

// stringTemplate is a parsed "PREFIX#${a}#${b}" pattern.
type stringTemplate struct {
	raw    string
	tokens []templateToken
}

func parseStringTemplate(raw string) *stringTemplate {
	t := &stringTemplate{raw: raw}
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(raw, -1) {
		if loc[0] > last {
			t.tokens = append(t.tokens, templateToken{literal: raw[last:loc[0]]})
		}
		t.tokens = append(t.tokens, templateToken{placeholder: raw[loc[2]:loc[3]]})
		last = loc[1]
	}
	if last < len(raw) {
		t.tokens = append(t.tokens, templateToken{literal: raw[last:]})
	}
	return t
}

// placeholders returns the referenced field names in canonical order.
func (t *stringTemplate) placeholders() []string {
	var names []string
	for _, tok := range t.tokens {
		if tok.placeholder != "" {
			names = append(names, tok.placeholder)
		}
	}
	return names
}

// expand substitutes every placeholder. A missing field value fails with a
// TemplateError naming the placeholder.
func (t *stringTemplate) expand(values map[string]any) (string, error) {
	out, consumed, full := t.resolve(values)
	if !full {
		missing := t.placeholders()[len(consumed)]
		return "", NewError("template placeholder is unresolved",
			WithCode(ErrTemplate), WithContext(map[string]any{"placeholder": missing, "template": t.raw}))
	}
	return out, nil
}

// partialExpand substitutes placeholders in canonical order and stops at the
// first missing one. It returns the resolved prefix (including any literal run
// preceding the missing placeholder), the consumed field names, and whether
// every placeholder was filled.
func (t *stringTemplate) partialExpand(values map[string]any) (string, []string, bool) {
	return t.resolve(values)
}

func (t *stringTemplate) resolve(values map[string]any) (string, []string, bool) {
	var b strings.Builder
	var consumed []string
	for _, tok := range t.tokens {
		if tok.placeholder == "" {
			b.WriteString(tok.literal)
			continue
		}
		v, ok := values[tok.placeholder]
		if !ok || v == nil {
			return b.String(), consumed, false
		}
		b.WriteString(stringifyTemplateValue(v))
		consumed = append(consumed, tok.placeholder)
	}
	return b.String(), consumed, true
}

// expandThrough substitutes tokens in order up to and including the named
// placeholder, requiring every consumed placeholder present.
func (t *stringTemplate) expandThrough(values map[string]any, name string) (string, error) {
	var b strings.Builder
	for _, tok := range t.tokens {
		if tok.placeholder == "" {
			b.WriteString(tok.literal)
			continue
		}
		v, ok := values[tok.placeholder]
		if !ok || v == nil {
			return "", NewError("template placeholder is unresolved",
				WithCode(ErrTemplate), WithContext(map[string]any{"placeholder": tok.placeholder, "template": t.raw}))
		}
		b.WriteString(stringifyTemplateValue(v))
		if tok.placeholder == name {
			return b.String(), nil
		}
	}
	return b.String(), nil
}

// keyTemplate is a parsed ordered key:value part list.
type keyTemplate struct {
	parts []KeyPart
}

func parseKeyTemplate(parts []KeyPart) *keyTemplate {
	return &keyTemplate{parts: parts}
}

// placeholders returns the projected field names in canonical order. Literal
// parts contribute nothing.
func (t *keyTemplate) placeholders() []string {
	var names []string
	for _, p := range t.parts {
		if name := parseProjectedName(p.Value); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// expand serializes the full composite. Every projected field must be present.
func (t *keyTemplate) expand(values map[string]any) (string, error) {
	out, consumed, full := t.resolve(values)
	if !full {
		missing := t.placeholders()[len(consumed)]
		return "", NewError("key template placeholder is unresolved",
			WithCode(ErrTemplate), WithContext(map[string]any{"placeholder": missing}))
	}
	return out, nil
}

// partialExpand resolves parts in declared order, stopping at the first part
// whose projected field is absent. The returned prefix ends with that part's
// "key:" marker so begins_with conditions stay anchored.
func (t *keyTemplate) partialExpand(values map[string]any) (string, []string) {
	out, consumed, _ := t.resolve(values)
	return out, consumed
}

func (t *keyTemplate) resolve(values map[string]any) (string, []string, bool) {
	var b strings.Builder
	var consumed []string
	for i, p := range t.parts {
		if i > 0 {
			b.WriteString("|")
		}
		b.WriteString(sanitizeKeyValue(p.Key))
		b.WriteString(":")
		name := parseProjectedName(p.Value)
		if name == "" {
			b.WriteString(sanitizeKeyValue(p.Value))
			continue
		}
		v, ok := values[name]
		if !ok || v == nil {
			return b.String(), consumed, false
		}
		b.WriteString(sanitizeKeyValue(stringifyTemplateValue(v)))
		consumed = append(consumed, name)
	}
	return b.String(), consumed, true
}

// expandThrough serializes parts in declared order up to and including the
// part projecting the named field, requiring every consumed field present.
// Range operators on a partial sort key compare against this form.
func (t *keyTemplate) expandThrough(values map[string]any, name string) (string, error) {
	var b strings.Builder
	for i, p := range t.parts {
		if i > 0 {
			b.WriteString("|")
		}
		b.WriteString(sanitizeKeyValue(p.Key))
		b.WriteString(":")
		ref := parseProjectedName(p.Value)
		if ref == "" {
			b.WriteString(sanitizeKeyValue(p.Value))
			continue
		}
		v, ok := values[ref]
		if !ok || v == nil {
			return "", NewError("key template placeholder is unresolved",
				WithCode(ErrTemplate), WithContext(map[string]any{"placeholder": ref}))
		}
		b.WriteString(sanitizeKeyValue(stringifyTemplateValue(v)))
		if ref == name {
			return b.String(), nil
		}
	}
	return b.String(), nil
}

// parseProjectedName extracts the field name from a "${field_name}" value, or
// returns "" for literal values.
func parseProjectedName(value string) string {
	m := placeholderRe.FindStringSubmatch(value)
	if m == nil {
		return ""
	}
	return m[1]
}

// sanitizeKeyValue strips the part and entry separators from a value so the
// serialized composite stays parseable.
func sanitizeKeyValue(value string) string {
	value = strings.ReplaceAll(value, ":", "")
	return strings.ReplaceAll(value, "|", "")
}

func stringifyTemplateValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
