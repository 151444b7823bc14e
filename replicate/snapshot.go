package replicate

// Snapshot is the immutable nine-tuple identifying one artifact
// version (spec §3). Two snapshots are equal iff every field matches;
// equality is the cancellation-match predicate used by cancelMatching
// (spec §4.4) — GC must only cancel the exact version it is about to
// delete, never a newer in-flight write to the same file.
type Snapshot struct {
	VolumeID     uint64
	FileID       uint64
	FileVersion  int64
	BlockID      uint64
	BlockVersion int64
	MtimeSec     int64
	MtimeNsec    int64
	WriterID     uint64
	OwnerID      uint64
}

// Matches is the cancellation-match predicate (spec §4.4): exact
// equality across all nine fields.
func (s Snapshot) Matches(other Snapshot) bool { return s == other }

// WithBlock returns a copy of the base (manifest) snapshot with the
// block id/version overwritten — used by gc_blocks (spec §4.5) to
// derive one snapshot per modified block from a file's base snapshot.
func (s Snapshot) WithBlock(blockID uint64, blockVersion int64) Snapshot {
	s.BlockID = blockID
	s.BlockVersion = blockVersion
	return s
}
