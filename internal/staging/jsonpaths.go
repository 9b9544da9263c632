package staging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sparkify/pkg/errors"
)

// jsonPathsDocument is the layout of a Redshift JSONPaths file
type jsonPathsDocument struct {
	JSONPaths []string `json:"jsonpaths"`
}

// ParseJSONPaths reads a JSONPaths document and converts every expression
// into a gjson path. The n-th path feeds the n-th column of the target table.
func ParseJSONPaths(data []byte) ([]string, error) {
	var doc jsonPathsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedRecord, "Invalid JSONPaths document")
	}
	if len(doc.JSONPaths) == 0 {
		return nil, errors.New(errors.ErrCodeMalformedRecord, "JSONPaths document has no \"jsonpaths\" entries")
	}
	return ConvertJSONPaths(doc.JSONPaths)
}

// ConvertJSONPaths converts JSONPath expressions to gjson paths
func ConvertJSONPaths(exprs []string) ([]string, error) {
	paths := make([]string, len(exprs))
	for i, expr := range exprs {
		p, err := toGJSONPath(expr)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMalformedRecord, "Invalid JSONPath expression").
				WithContext("expression", expr).
				WithContext("position", i)
		}
		paths[i] = p
	}
	return paths, nil
}

// toGJSONPath accepts the JSONPath subset Redshift COPY accepts: a root
// followed by dot members, bracketed quoted members and array indexes.
//
//	$['userId']        -> userId
//	$.song.artist_id   -> song.artist_id
//	$["a.b"][0]        -> a\.b.0
func toGJSONPath(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "$") {
		return "", fmt.Errorf("expression must start at the root '$'")
	}

	var parts []string
	rest := expr[1:]
	for rest != "" {
		switch rest[0] {
		case '.':
			end := strings.IndexAny(rest[1:], ".[")
			name := rest[1:]
			if end >= 0 {
				name = rest[1 : end+1]
			}
			if name == "" {
				return "", fmt.Errorf("empty member name")
			}
			parts = append(parts, escapeKey(name))
			rest = rest[1+len(name):]

		case '[':
			closing := strings.IndexByte(rest, ']')
			if closing < 0 {
				return "", fmt.Errorf("unterminated '['")
			}
			switch {
			case rest[1] == '\'' || rest[1] == '"':
				// the member may itself contain ']'
				quote := rest[1]
				end := strings.IndexByte(rest[2:], quote)
				if end < 0 {
					return "", fmt.Errorf("unterminated quoted member")
				}
				name := rest[2 : 2+end]
				after := rest[2+end+1:]
				if !strings.HasPrefix(after, "]") {
					return "", fmt.Errorf("expected ']' after quoted member")
				}
				parts = append(parts, escapeKey(name))
				rest = after[1:]
			default:
				inner := strings.TrimSpace(rest[1:closing])
				idx, err := strconv.Atoi(inner)
				if err != nil || idx < 0 {
					return "", fmt.Errorf("unsupported subscript %q", inner)
				}
				parts = append(parts, strconv.Itoa(idx))
				rest = rest[closing+1:]
			}

		default:
			return "", fmt.Errorf("unexpected character %q", rest[0])
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("expression selects the whole record")
	}
	return strings.Join(parts, "."), nil
}

// escapeKey escapes every character gjson would read as path syntax
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r > 127:
		default:
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
