package checkpoints

import (
	"github.com/google/btree"
)

// pendingTable holds snapshots waiting for a completion notification, ordered
// by checkpoint id.
type pendingTable struct {
	tree *btree.BTreeG[*Snapshot]
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		tree: btree.NewG(2, func(a, b *Snapshot) bool {
			return a.CheckpointID < b.CheckpointID
		}),
	}
}

// put records the snapshot, superseding any snapshot with the same id.
func (t *pendingTable) put(s *Snapshot) {
	t.tree.ReplaceOrInsert(s)
}

func (t *pendingTable) get(id uint64) (*Snapshot, bool) {
	return t.tree.Get(&Snapshot{CheckpointID: id})
}

// deleteThrough removes every snapshot with an id at or below id and returns
// how many were removed.
func (t *pendingTable) deleteThrough(id uint64) int {
	removed := 0
	for {
		oldest, ok := t.tree.Min()
		if !ok || oldest.CheckpointID > id {
			return removed
		}
		t.tree.DeleteMin()
		removed++
	}
}

func (t *pendingTable) ids() []uint64 {
	ids := make([]uint64, 0, t.tree.Len())
	t.tree.Ascend(func(s *Snapshot) bool {
		ids = append(ids, s.CheckpointID)
		return true
	})
	return ids
}
