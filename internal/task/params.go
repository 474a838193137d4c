package task

import (
	"strconv"
	"strings"
)

// Params holds a task's named parameters. Values are strings, numbers,
// string lists or string-to-number maps as decoded from JSON.
type Params map[string]any

// String returns the named parameter as a trimmed string.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// Float returns the named parameter as a number, or def when absent or invalid.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.NewReplacer(",", "", "₹", "", " ", "").Replace(v)
		mult := 1.0
		if strings.HasSuffix(strings.ToLower(s), "k") {
			mult = 1000
			s = s[:len(s)-1]
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f * mult
		}
	}
	return def
}

// Int returns the named parameter truncated to an int.
func (p Params) Int(key string, def int) int {
	f := p.Float(key, float64(def))
	return int(f)
}

// Has reports whether the parameter is present and non-empty.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Strings returns a list parameter. A single string becomes a one-element list.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// FloatMap returns a category-to-amount map parameter.
func (p Params) FloatMap(key string) map[string]float64 {
	out := make(map[string]float64)
	switch v := p[key].(type) {
	case map[string]float64:
		for k, f := range v {
			out[k] = f
		}
	case map[string]any:
		for k, e := range v {
			out[k] = Params{"v": e}.Float("v", 0)
		}
	case []any:
		// [{"category": "Food", "change": -5000}, ...]
		for _, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			pm := Params(m)
			if name := pm.String("category"); name != "" {
				out[name] = pm.Float("change", pm.Float("change_amount", pm.Float("amount", 0)))
			}
		}
	}
	return out
}

// Clone returns a shallow copy safe to hand to a handler.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
