package esl

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OriginateOptions carries the channel variables prepended to an originate
// dial string as a "{a=b,c=d}" block. Values containing commas, spaces, or
// equals signs are single-quoted. String and ParseOriginateOptions round-trip.
type OriginateOptions struct {
	CallerIDName     string
	CallerIDNumber   string
	TimeoutSeconds   int
	IgnoreEarlyMedia bool

	// Variables holds any further channel variables, serialized in sorted
	// key order after the named fields.
	Variables map[string]string
}

func (o OriginateOptions) String() string {
	var pairs []string
	if o.CallerIDName != "" {
		pairs = append(pairs, "origination_caller_id_name="+quoteVariable(o.CallerIDName))
	}
	if o.CallerIDNumber != "" {
		pairs = append(pairs, "origination_caller_id_number="+quoteVariable(o.CallerIDNumber))
	}
	if o.TimeoutSeconds > 0 {
		pairs = append(pairs, "originate_timeout="+strconv.Itoa(o.TimeoutSeconds))
	}
	if o.IgnoreEarlyMedia {
		pairs = append(pairs, "ignore_early_media=true")
	}
	pairs = append(pairs, sortedVariablePairs(o.Variables)...)
	return variableBlock(pairs)
}

// ParseOriginateOptions parses a "{a=b,c=d}" block back into options. Known
// variable names land in the named fields, the rest in Variables.
func ParseOriginateOptions(s string) (OriginateOptions, error) {
	pairs, err := parseVariableBlock(s)
	if err != nil {
		return OriginateOptions{}, err
	}
	o := OriginateOptions{}
	for _, kv := range pairs {
		switch kv.key {
		case "origination_caller_id_name":
			o.CallerIDName = kv.value
		case "origination_caller_id_number":
			o.CallerIDNumber = kv.value
		case "originate_timeout":
			n, err := strconv.Atoi(kv.value)
			if err != nil {
				return OriginateOptions{}, fmt.Errorf("esl: originate_timeout %q: %w", kv.value, err)
			}
			o.TimeoutSeconds = n
		case "ignore_early_media":
			o.IgnoreEarlyMedia = kv.value == "true"
		default:
			if o.Variables == nil {
				o.Variables = map[string]string{}
			}
			o.Variables[kv.key] = kv.value
		}
	}
	return o, nil
}

// BridgeOptions mirrors OriginateOptions for the bridge application's
// dial-string variable block.
type BridgeOptions struct {
	TimeoutSeconds    int
	IgnoreEarlyMedia  bool
	HangupAfterBridge bool

	Variables map[string]string
}

func (o BridgeOptions) String() string {
	var pairs []string
	if o.TimeoutSeconds > 0 {
		pairs = append(pairs, "call_timeout="+strconv.Itoa(o.TimeoutSeconds))
	}
	if o.IgnoreEarlyMedia {
		pairs = append(pairs, "ignore_early_media=true")
	}
	if o.HangupAfterBridge {
		pairs = append(pairs, "hangup_after_bridge=true")
	}
	pairs = append(pairs, sortedVariablePairs(o.Variables)...)
	return variableBlock(pairs)
}

func ParseBridgeOptions(s string) (BridgeOptions, error) {
	pairs, err := parseVariableBlock(s)
	if err != nil {
		return BridgeOptions{}, err
	}
	o := BridgeOptions{}
	for _, kv := range pairs {
		switch kv.key {
		case "call_timeout":
			n, err := strconv.Atoi(kv.value)
			if err != nil {
				return BridgeOptions{}, fmt.Errorf("esl: call_timeout %q: %w", kv.value, err)
			}
			o.TimeoutSeconds = n
		case "ignore_early_media":
			o.IgnoreEarlyMedia = kv.value == "true"
		case "hangup_after_bridge":
			o.HangupAfterBridge = kv.value == "true"
		default:
			if o.Variables == nil {
				o.Variables = map[string]string{}
			}
			o.Variables[kv.key] = kv.value
		}
	}
	return o, nil
}

// Originate places a call via "bgapi originate", returning the background
// job result once the switch resolves the call attempt.
func (c *Connection) Originate(ctx context.Context, aLeg, bLeg string, opts OriginateOptions) (*BackgroundJobResult, error) {
	return c.BackgroundJob(ctx, "originate", opts.String()+aLeg+" "+bLeg)
}

type variablePair struct {
	key   string
	value string
}

func variableBlock(pairs []string) string {
	if len(pairs) == 0 {
		return ""
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func sortedVariablePairs(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+quoteVariable(vars[k]))
	}
	return pairs
}

func quoteVariable(v string) string {
	if strings.ContainsAny(v, ", =") {
		return "'" + v + "'"
	}
	return v
}

// parseVariableBlock splits "{a=b,c='d,e'}" into pairs, honoring single
// quotes. An empty string parses to no pairs.
func parseVariableBlock(s string) ([]variablePair, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, fmt.Errorf("esl: variable block %q: missing braces", s)
	}
	s = s[1 : len(s)-1]
	var pairs []variablePair
	var current strings.Builder
	inQuote := false
	flush := func() error {
		if current.Len() == 0 {
			return nil
		}
		pair := current.String()
		current.Reset()
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return fmt.Errorf("esl: variable pair %q: missing '='", pair)
		}
		value = strings.Trim(value, "'")
		pairs = append(pairs, variablePair{key: key, value: value})
		return nil
	}
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
			current.WriteRune(r)
		case r == ',' && !inQuote:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			current.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("esl: variable block %q: unterminated quote", s)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pairs, nil
}
