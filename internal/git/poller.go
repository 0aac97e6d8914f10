package git

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Poller periodically reports the on-disk size of a directory while a long
// transfer (clone, lfs pull) is running.
type Poller struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartSizePoller starts reporting the size of dir on progress every
// interval. The caller owns the returned Poller and must Stop it.
func StartSizePoller(ctx context.Context, dir string, interval time.Duration, progress chan<- string) *Poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				size, err := DirSize(dir)
				if err != nil {
					continue
				}
				select {
				case progress <- fmt.Sprintf("Downloaded %s", humanize.IBytes(uint64(size))):
				default:
				}
			}
		}
	}()
	return p
}

// Stop cancels the poller and waits for its goroutine. Safe to call more
// than once and on a nil Poller.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.once.Do(p.cancel)
	<-p.done
}

// DirSize sums the sizes of regular files under dir. Entries vanishing
// during the walk are ignored.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return err
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}
