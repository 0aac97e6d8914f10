package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StashEntry is one record of "git stash list".
type StashEntry struct {
	Hash      string
	Ref       string // stash@{n}
	Subject   string // reflog subject, e.g. "On main: message"
	CreatedAt time.Time
}

// Message returns the user supplied part of the reflog subject.
func (e StashEntry) Message() string {
	for _, prefix := range []string{"On ", "WIP on "} {
		if rest, ok := strings.CutPrefix(e.Subject, prefix); ok {
			if _, msg, found := strings.Cut(rest, ": "); found {
				return msg
			}
		}
	}
	return e.Subject
}

const stashFormat = "%H%x1f%gd%x1f%ct%x1f%gs"

// StashList returns the stash entries in the order git reports them.
func StashList(ctx context.Context, exec Executor) ([]StashEntry, error) {
	out, err := exec.Run(ctx, []string{"stash", "list", "-z", "--format=" + stashFormat}, RunOptions{})
	if err != nil {
		return nil, err
	}
	return parseStashList(out.Stdout)
}

func parseStashList(out string) ([]StashEntry, error) {
	var entries []StashEntry
	for record := range strings.SplitSeq(out, "\x00") {
		record = strings.Trim(record, "\n")
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, "\x1f", 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected stash record: %q", record)
		}
		entry := StashEntry{Hash: fields[0], Ref: fields[1], Subject: fields[3]}
		if secs, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			entry.CreatedAt = time.Unix(secs, 0)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
