package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
)

// ValidationError lists every field problem found in one record.
type ValidationError struct {
	Kind      Kind
	Missing   []string
	Malformed []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid %s record", e.Kind)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ","))
	}
	if len(e.Malformed) > 0 {
		if len(e.Missing) > 0 {
			b.WriteString(";")
		} else {
			b.WriteString(":")
		}
		fmt.Fprintf(&b, " malformed %s", strings.Join(e.Malformed, ","))
	}
	return b.String()
}

func (e *ValidationError) ErrorKind() domain.ErrorKind { return domain.KindValidation }

// Validate checks a *model.Message or *model.Conversation (or their values)
// against the frozen field set. Only structure is checked, not meaning.
func Validate(rec any) error {
	var kind Kind
	switch rec.(type) {
	case *model.Message, model.Message:
		kind = KindMessage
	case *model.Conversation, model.Conversation:
		kind = KindConversation
	default:
		return domain.NewError(domain.KindValidation, fmt.Sprintf("unsupported record type %T", rec), domain.ErrInvalidArgument)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return &ValidationError{Kind: kind, Malformed: []string{"<encoding>"}}
	}
	return ValidateJSON(kind, raw)
}

// ValidateJSON checks an encoded record of the given kind.
func ValidateJSON(kind Kind, raw []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return &ValidationError{Kind: kind, Malformed: []string{"<root>"}}
	}
	c := checker{obj: obj}
	switch kind {
	case KindMessage:
		c.message()
	case KindConversation:
		c.conversation()
	default:
		return domain.NewError(domain.KindValidation, fmt.Sprintf("unknown record kind %q", kind), domain.ErrInvalidArgument)
	}
	if len(c.missing) == 0 && len(c.malformed) == 0 {
		return nil
	}
	sort.Strings(c.missing)
	sort.Strings(c.malformed)
	return &ValidationError{Kind: kind, Missing: c.missing, Malformed: c.malformed}
}

type checker struct {
	obj       map[string]json.RawMessage
	missing   []string
	malformed []string
}

// field returns the raw value of key, recording it as missing if absent.
func (c *checker) field(key string) (json.RawMessage, bool) {
	v, ok := c.obj[key]
	if !ok {
		c.missing = append(c.missing, key)
		return nil, false
	}
	return v, true
}

func (c *checker) bad(key string) { c.malformed = append(c.malformed, key) }

func (c *checker) expect(key string, ok func(json.RawMessage) bool) {
	v, present := c.field(key)
	if present && !ok(v) {
		c.bad(key)
	}
}

func (c *checker) message() {
	c.expect("_v", intEquals(MessageVersion))
	typ := 0
	c.expect("type", func(v json.RawMessage) bool {
		if json.Unmarshal(v, &typ) != nil {
			return false
		}
		return typ == int(model.MessageTypeUser) || typ == int(model.MessageTypeAssistant)
	})
	c.expect("text", isString)
	c.expect("bubbleId", nonEmptyString)
	c.expect("createdAt", isTimestamp)
	for _, k := range RequestTrackingFields {
		c.expect(k, nonEmptyString)
	}
	c.expect(RichTextField, func(v json.RawMessage) bool {
		var s string
		return json.Unmarshal(v, &s) == nil && richTextOK(s)
	})
	c.expect(CapabilityStatusesField, exactArrayObject(CapabilityStatusKeys))
	for _, k := range CollectionFields {
		c.expect(k, isArray)
	}
	for _, k := range FlagFields {
		c.expect(k, isBool)
	}
	c.expect(SupportedToolsField, isIntArray)
	c.expect(TokenCountField, func(v json.RawMessage) bool {
		var tc map[string]json.RawMessage
		if json.Unmarshal(v, &tc) != nil || tc == nil {
			return false
		}
		for _, k := range TokenCountKeys {
			if !isInt(tc[k]) {
				return false
			}
		}
		return true
	})
	c.expect(ContextField, exactArrayObject(ContextKeys))
	c.expect(UnifiedModeField, isInt)

	if typ == int(model.MessageTypeAssistant) {
		c.expect(ModelInfoField, func(v json.RawMessage) bool {
			var mi map[string]json.RawMessage
			if json.Unmarshal(v, &mi) != nil || mi == nil {
				return false
			}
			return isString(mi["modelName"])
		})
	}
	if v, ok := c.obj["thinking"]; ok && !isObject(v) {
		c.bad("thinking")
	}
	if v, ok := c.obj["toolFormerData"]; ok && !isObject(v) {
		c.bad("toolFormerData")
	}
}

func (c *checker) conversation() {
	c.expect("_v", isInt)
	c.expect("composerId", nonEmptyString)
	c.expect("name", isString)
	c.expect("text", isString)
	c.expect("richText", isString)
	c.expect("fullConversationHeadersOnly", func(v json.RawMessage) bool {
		var refs []map[string]json.RawMessage
		if !isArray(v) || json.Unmarshal(v, &refs) != nil {
			return false
		}
		for _, r := range refs {
			var typ int
			if !nonEmptyString(r["bubbleId"]) || json.Unmarshal(r["type"], &typ) != nil {
				return false
			}
			if typ != int(model.MessageTypeUser) && typ != int(model.MessageTypeAssistant) {
				return false
			}
		}
		return true
	})
	c.expect("createdAt", isInt)
	c.expect("lastUpdatedAt", isInt)
	c.expect("isArchived", isBool)
	c.expect("isDraft", isBool)
	c.expect("hasLoaded", isBool)
	c.expect("totalLinesAdded", isInt)
	c.expect("totalLinesRemoved", isInt)
}

func leading(v json.RawMessage) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func isArray(v json.RawMessage) bool  { return leading(v) == '[' }
func isObject(v json.RawMessage) bool { return leading(v) == '{' }

func isString(v json.RawMessage) bool {
	var s string
	return leading(v) == '"' && json.Unmarshal(v, &s) == nil
}

func nonEmptyString(v json.RawMessage) bool {
	var s string
	return leading(v) == '"' && json.Unmarshal(v, &s) == nil && s != ""
}

func isBool(v json.RawMessage) bool {
	var b bool
	return json.Unmarshal(v, &b) == nil && leading(v) != 'n'
}

func isInt(v json.RawMessage) bool {
	var n int64
	return leading(v) != 'n' && len(v) > 0 && json.Unmarshal(v, &n) == nil
}

func intEquals(want int) func(json.RawMessage) bool {
	return func(v json.RawMessage) bool {
		var n int
		return isInt(v) && json.Unmarshal(v, &n) == nil && n == want
	}
}

func isIntArray(v json.RawMessage) bool {
	var ns []int64
	return isArray(v) && json.Unmarshal(v, &ns) == nil
}

func isTimestamp(v json.RawMessage) bool {
	var s string
	if json.Unmarshal(v, &s) != nil {
		return false
	}
	_, err := time.Parse(time.RFC3339Nano, s)
	return err == nil
}

// exactArrayObject accepts an object with exactly keys, each an array.
func exactArrayObject(keys []string) func(json.RawMessage) bool {
	return func(v json.RawMessage) bool {
		var m map[string]json.RawMessage
		if !isObject(v) || json.Unmarshal(v, &m) != nil || len(m) != len(keys) {
			return false
		}
		for _, k := range keys {
			if !isArray(m[k]) {
				return false
			}
		}
		return true
	}
}
