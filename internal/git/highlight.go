package git

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiCyan  = "\x1b[36m"
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
)

// HighlightDiff colours unified diff text for a terminal: hunk markers get
// the usual red/green and the code after them is tokenised with a lexer
// picked from the file name of the enclosing "diff --git" block.
func HighlightDiff(diffText string, dark bool) string {
	if diffText == "" {
		return ""
	}
	style := styleFor(dark)
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	var b strings.Builder
	var lexer chroma.Lexer
	lines := strings.Split(diffText, "\n")
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if rest, ok := strings.CutPrefix(line, "diff --git "); ok {
			_, path, _ := splitDiffHeader(rest)
			lexer = lexerForPath(path)
			b.WriteString(ansiBold + line + ansiReset)
			continue
		}
		if strings.HasPrefix(line, "@@") {
			b.WriteString(ansiCyan + line + ansiReset)
			continue
		}
		code, ok := diffLineCode(line)
		if !ok || lexer == nil {
			b.WriteString(line)
			continue
		}
		switch line[0] {
		case '+':
			b.WriteString(ansiGreen + "+" + ansiReset)
		case '-':
			b.WriteString(ansiRed + "-" + ansiReset)
		default:
			b.WriteByte(' ')
		}
		iterator, err := lexer.Tokenise(nil, code)
		if err != nil {
			b.WriteString(code)
			continue
		}
		var lineBuf strings.Builder
		if err := formatter.Format(&lineBuf, style, iterator); err != nil {
			b.WriteString(code)
			continue
		}
		b.WriteString(strings.TrimRight(lineBuf.String(), "\n"))
	}
	return b.String()
}

func styleFor(dark bool) *chroma.Style {
	name := "github"
	if dark {
		name = "github-dark"
	}
	if st := styles.Get(name); st != nil {
		return st
	}
	return styles.Fallback
}

func lexerForPath(path string) chroma.Lexer {
	if path == "" {
		return nil
	}
	lexer := lexers.Match(path)
	if lexer == nil {
		// binary assets (uasset, umap, png...) have no lexer; leave them plain
		return nil
	}
	return chroma.Coalesce(lexer)
}
