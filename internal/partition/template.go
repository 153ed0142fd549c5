package partition

import (
	"strconv"
	"strings"

	"github.com/BartekS5/ack/pkg/etlerr"
)

type tokenKind int

const (
	tokLiteral tokenKind = iota
	tokName
	tokDate
	tokDateTime
	tokRun
	tokOrdinal
)

type token struct {
	kind  tokenKind
	text  string
	width int
}

const (
	defaultOrdinalWidth = 5
	maxOrdinalWidth     = 12
)

// parse splits a template into literal runs and placeholders.
func parse(tmpl string) ([]token, error) {
	var (
		toks []token
		lit  strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			toks = append(toks, token{kind: tokLiteral, text: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return nil, etlerr.Configf("partition.template", "unclosed '{' at offset %d", i)
			}
			body := tmpl[i+1 : i+1+end]
			tok, err := placeholder(body)
			if err != nil {
				return nil, err
			}
			flush()
			toks = append(toks, tok)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, etlerr.Configf("partition.template", "unmatched '}' at offset %d", i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return toks, nil
}

func placeholder(body string) (token, error) {
	name, arg, hasArg := strings.Cut(body, ":")
	if hasArg && name != "ordinal" {
		switch name {
		case "name", "date", "datetime", "run":
			return token{}, etlerr.Configf("partition.template", "placeholder {%s} takes no argument", name)
		}
		return token{}, etlerr.Configf("partition.template", "unknown placeholder {%s}", body)
	}
	switch name {
	case "name":
		return token{kind: tokName}, nil
	case "date":
		return token{kind: tokDate}, nil
	case "datetime":
		return token{kind: tokDateTime}, nil
	case "run":
		return token{kind: tokRun}, nil
	case "ordinal":
		width := defaultOrdinalWidth
		if hasArg {
			w, err := strconv.Atoi(arg)
			if err != nil || w < 1 || w > maxOrdinalWidth {
				return token{}, etlerr.Configf("partition.template",
					"ordinal width must be between 1 and %d, got %q", maxOrdinalWidth, arg)
			}
			width = w
		}
		return token{kind: tokOrdinal, width: width}, nil
	default:
		return token{}, etlerr.Configf("partition.template", "unknown placeholder {%s}", body)
	}
}
