package members

// ComputeUsageDeltas returns the counter adjustments implied by a member write.
// Snapshots are normalized independently; an unchanged code (including none on both
// sides) yields no deltas and therefore no writes.
func ComputeUsageDeltas(event ChangeEvent) []UsageDelta {
	before := snapshotCode(event.Before)
	after := snapshotCode(event.After)
	if before == after {
		return nil
	}

	deltas := make([]UsageDelta, 0, 2)
	if before != "" {
		deltas = append(deltas, UsageDelta{Code: before, Delta: -1})
	}
	if after != "" {
		deltas = append(deltas, UsageDelta{Code: after, Delta: 1})
	}
	return deltas
}

func snapshotCode(snapshot *MemberSnapshot) string {
	if snapshot == nil {
		return ""
	}
	return NormalizePlatformCode(snapshot.PlatformCode)
}

// clampUsage applies delta to current and never returns a negative count.
func clampUsage(current, delta int64) int64 {
	next := current + delta
	if next < 0 {
		return 0
	}
	return next
}
