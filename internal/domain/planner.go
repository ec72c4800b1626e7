package domain

// OffsetRange is the resolved consumption window of one partition.
// End is exclusive and only meaningful when Open is false; an Open range is
// followed until the session is cancelled.
type OffsetRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Open  bool  `json:"open"`
}

// Count returns the number of offsets a bounded range covers.
func (r OffsetRange) Count() int64 {
	if r.Open || r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// PlanOffsets resolves a ConsumptionRequest against a topic snapshot into
// concrete per-partition ranges.
//
// tsOffsets carries the broker's timestamp-to-offset resolution for
// ModeFromTimestamp (a missing entry or -1 means no record exists at/after
// the timestamp, which falls back to the low watermark).
func PlanOffsets(td TopicDescriptor, req ConsumptionRequest, tsOffsets map[int32]int64) (map[int32]OffsetRange, error) {
	targets := req.Partitions
	if len(targets) == 0 {
		targets = td.PartitionIDs()
	}

	switch req.Mode {
	case ModeAll, ModeFromTimestamp, ModeFromOffset, ModeLastN, ModeHeadN:
	default:
		return nil, Errorf(ErrorInvalidRequest, "plan", "unknown selection mode %q", req.Mode)
	}
	if (req.Mode == ModeLastN || req.Mode == ModeHeadN) && req.MaxPerPart <= 0 {
		return nil, Errorf(ErrorInvalidRequest, "plan", "mode %s requires a positive message count", req.Mode)
	}
	if req.Mode == ModeFromOffset && req.Offset < 0 {
		return nil, Errorf(ErrorInvalidRequest, "plan", "negative start offset %d", req.Offset)
	}
	if req.Mode == ModeFromTimestamp && req.Timestamp.IsZero() {
		return nil, Errorf(ErrorInvalidRequest, "plan", "mode %s requires a timestamp", req.Mode)
	}

	ranges := make(map[int32]OffsetRange, len(targets))
	for _, p := range targets {
		w, ok := td.Watermarks(p)
		if !ok {
			return nil, Errorf(ErrorInvalidRequest, "plan", "partition %d not in topic %s", p, td.Name)
		}

		var r OffsetRange
		switch req.Mode {
		case ModeAll:
			r = OffsetRange{Start: w.Low, Open: true}
		case ModeFromTimestamp:
			start := w.Low
			if o, ok := tsOffsets[p]; ok && o >= 0 {
				start = clamp(o, w.Low, w.High)
			}
			r = OffsetRange{Start: start, End: w.High}
		case ModeFromOffset:
			if req.Offset > w.High {
				return nil, Errorf(ErrorInvalidRequest, "plan",
					"offset %d beyond high watermark %d of partition %d", req.Offset, w.High, p)
			}
			r = OffsetRange{Start: clamp(req.Offset, w.Low, w.High), End: w.High}
		case ModeLastN:
			start := w.High - req.MaxPerPart
			if start < w.Low {
				start = w.Low
			}
			r = OffsetRange{Start: start, End: w.High}
		case ModeHeadN:
			end := w.Low + req.MaxPerPart
			if end > w.High {
				end = w.High
			}
			r = OffsetRange{Start: w.Low, End: end}
		}
		ranges[p] = r
	}
	return ranges, nil
}

// PlannedTotal sums the bounded record counts of a plan; 0 when any range is
// open (no meaningful total exists).
func PlannedTotal(ranges map[int32]OffsetRange) int64 {
	var total int64
	for _, r := range ranges {
		if r.Open {
			return 0
		}
		total += r.Count()
	}
	return total
}

func clamp(v, low, high int64) int64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
