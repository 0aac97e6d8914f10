package git

import (
	"context"
	"fmt"
	"strings"
)

type RefKind uint8

const (
	RefKindBranch RefKind = iota
	RefKindRemoteBranch
	RefKindTag
)

var refNamespaces = []struct {
	prefix string
	kind   RefKind
}{
	{"refs/heads/", RefKindBranch},
	{"refs/remotes/", RefKindRemoteBranch},
	{"refs/tags/", RefKindTag},
}

// Ref is a branch, remote branch or tag. Name is short: "main",
// "origin/main", "v1.0".
type Ref struct {
	Hash string
	Kind RefKind
	Name string
}

// Refs lists branches, remote branches and tags. Annotated tags resolve to
// the commit they point at.
func Refs(ctx context.Context, exec Executor) ([]Ref, error) {
	// exit 1 means the repository has no refs yet
	out, err := exec.Run(ctx, []string{"--no-pager", "show-ref", "--dereference"}, RunOptions{AllowExitCodes: []int{1}})
	if err != nil {
		return nil, err
	}
	return parseShowRef(out.Stdout)
}

// HasRef reports whether refs contains a ref of the given kind and name.
func HasRef(refs []Ref, kind RefKind, name string) bool {
	for _, ref := range refs {
		if ref.Kind == kind && ref.Name == name {
			return true
		}
	}
	return false
}

func parseShowRef(out string) ([]Ref, error) {
	var refs []Ref
	peeled := map[string]string{}
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		hash, name, ok := strings.Cut(line, " ")
		if !ok || hash == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("unexpected show-ref line %q", line)
		}
		if tag, isPeel := strings.CutSuffix(name, "^{}"); isPeel {
			peeled[tag] = hash
			continue
		}
		for _, ns := range refNamespaces {
			short, found := strings.CutPrefix(name, ns.prefix)
			if found && short != "" {
				refs = append(refs, Ref{Hash: hash, Kind: ns.kind, Name: short})
				break
			}
		}
	}
	// "--dereference" prints the peeled line right after its tag
	for i, ref := range refs {
		if ref.Kind != RefKindTag {
			continue
		}
		if hash, ok := peeled["refs/tags/"+ref.Name]; ok {
			refs[i].Hash = hash
		}
	}
	return refs, nil
}
