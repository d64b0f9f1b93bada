package state

import "github.com/holiman/uint256"

// journalEntry is one undoable overlay mutation
type journalEntry interface {
	revert(o *Overlay)
}

type storageChange struct {
	address string
	key     string
	prev    slot
	existed bool
}

func (c storageChange) revert(o *Overlay) {
	if !c.existed {
		delete(o.storage[c.address], c.key)
		return
	}
	o.storage[c.address][c.key] = c.prev
}

type balanceChange struct {
	address string
	denom   string
	prev    *uint256.Int
}

func (c balanceChange) revert(o *Overlay) {
	if c.prev == nil {
		delete(o.balances[c.address], c.denom)
		return
	}
	o.balances[c.address][c.denom] = c.prev
}

type contractChange struct {
	address string
	prev    *contractEntry
}

func (c contractChange) revert(o *Overlay) {
	if c.prev == nil {
		delete(o.contracts, c.address)
		return
	}
	o.contracts[c.address] = c.prev
}

type seqChange struct {
	prev uint64
}

func (c seqChange) revert(o *Overlay) {
	o.seq = c.prev
}

// Snapshot returns an id that RevertToSnapshot can roll back to
func (o *Overlay) Snapshot() int {
	return len(o.journal)
}

// RevertToSnapshot undoes every mutation recorded after Snapshot returned id
func (o *Overlay) RevertToSnapshot(id int) {
	if id < 0 || id > len(o.journal) {
		return
	}
	for i := len(o.journal) - 1; i >= id; i-- {
		o.journal[i].revert(o)
	}
	o.journal = o.journal[:id]
}

// Commit makes all journaled mutations permanent
func (o *Overlay) Commit() {
	o.journal = o.journal[:0]
}

// JournalLen is the number of uncommitted mutations
func (o *Overlay) JournalLen() int {
	return len(o.journal)
}
