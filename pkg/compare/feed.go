package compare

import "github.com/newtron-network/echobench/pkg/source"

// Progress is a snapshot of the comparator's counter state.
type Progress struct {
	// Count is the check counter: resolved comparisons so far.
	Count uint64
	// NextRotation is counter + window size as of the last alignment.
	NextRotation uint64
	// Closed is the sequence number of the last transition window the
	// comparator closed, 0 if none.
	Closed int
}

// Transition is sent by the arbiter for every source it commands. Seq 0
// is the anchor source and opens no window.
type Transition struct {
	Seq    int
	Source source.Source
	Open   bool
}

// Feed carries progress snapshots from the comparator to the arbiter. It
// holds only the latest snapshot: Publish replaces an unread one, so the
// single writer never blocks and the reader never sees a stale value once
// a newer one is published.
type Feed struct {
	ch chan Progress
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{ch: make(chan Progress, 1)}
}

// Publish replaces the current snapshot. Only the comparator calls it.
func (f *Feed) Publish(p Progress) {
	select {
	case <-f.ch:
	default:
	}
	f.ch <- p
}

// Latest returns the newest unread snapshot, or prev if none arrived.
func (f *Feed) Latest(prev Progress) Progress {
	select {
	case p := <-f.ch:
		return p
	default:
		return prev
	}
}
