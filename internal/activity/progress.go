package activity

import (
	"fmt"
	"time"
)

const etaMinIssueRate = 10 * 1024 * 1024 // 10 MiB/s, §4.E ETA gate

// elapsedSeconds computes elapsed_s = max(1, now - pass_start - pass_paused),
// per §4.E.
func elapsedSeconds(now, passStart time.Time, paused time.Duration) float64 {
	elapsed := now.Sub(passStart) - paused
	if elapsed < time.Second {
		return 1
	}
	return elapsed.Seconds()
}

// ScanRate returns the current pass's examine rate in bytes/sec.
func (r *Record) ScanRate(now time.Time) float64 {
	return float64(r.PassExamined) / elapsedSeconds(now, r.PassStart, r.PausedTotal)
}

// IssueRate returns the current pass's issue rate in bytes/sec.
func (r *Record) IssueRate(now time.Time) float64 {
	return float64(r.PassIssued) / elapsedSeconds(now, r.PassStart, r.PausedTotal)
}

// ETA renders a completion estimate, or "" when the gating conditions in
// §4.E are not met:
//
//	to_examine > issued AND issue_rate >= 10 MiB/s AND
//	  ((resilver AND repaired>0) OR (scrub-like AND issued>0))
func (r *Record) ETA(now time.Time) string {
	if r.ToExamine <= r.Issued {
		return ""
	}
	issueRate := r.IssueRate(now)
	if issueRate < etaMinIssueRate {
		return ""
	}

	progressing := false
	switch r.Kind {
	case Resilver:
		progressing = r.Repaired > 0
	case Scrub, ErrorScrub:
		progressing = r.Issued > 0
	default:
		progressing = r.Issued > 0
	}
	if !progressing {
		return ""
	}

	remaining := r.ToExamine - r.Issued
	secs := float64(remaining) / issueRate
	return fmt.Sprintf("%s remaining", formatDuration(time.Duration(secs*float64(time.Second))))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// BytesRemaining computes the §4.F per-kind bytes-remaining figure used
// by the status thread: to_examine - examined, for every Record kind
// including removal and raidz-expand (the raidz-expand Reflowed/ToReflow
// fields are not consulted). Rebuild, which has its own records, uses
// RebuildBytesRemaining.
func (r *Record) BytesRemaining() uint64 {
	if r.ToExamine <= r.Examined {
		return 0
	}
	return r.ToExamine - r.Examined
}

// RebuildBytesRemaining sums vrs_bytes_est - vrs_bytes_rebuilt across
// the given top-level rebuild records, per §4.F.
func RebuildBytesRemaining(records []*RebuildRecord) uint64 {
	var total uint64
	for _, rr := range records {
		if rr.State != RebuildActive {
			continue
		}
		if rr.ToRebuild > rr.Rebuilt {
			total += rr.ToRebuild - rr.Rebuilt
		}
	}
	return total
}
