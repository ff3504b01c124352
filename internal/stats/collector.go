// Package stats exports a pool's activity state as Prometheus metrics,
// named and shaped after the on-disk scan_stats/trim/rebuild counters a
// real pool reports (grounded on siebenmann-zfs_exporter's const-metric
// collector over those same fields).
package stats

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robn/zvdev/internal/activity"
)

var (
	scanState     = prometheus.NewDesc("zvdev_pool_scan_state", "Activity state: 0 none, 1 scanning, 2 suspended, 3 finished, 4 canceled.", []string{"pool", "kind"}, nil)
	scanToExamine = prometheus.NewDesc("zvdev_pool_scan_to_examine_bytes", "Total bytes the current pass intends to examine.", []string{"pool", "kind"}, nil)
	scanExamined  = prometheus.NewDesc("zvdev_pool_scan_examined_bytes", "Total bytes examined so far.", []string{"pool", "kind"}, nil)
	scanIssued    = prometheus.NewDesc("zvdev_pool_scan_issued_bytes", "Total bytes issued for repair/verification so far.", []string{"pool", "kind"}, nil)
	scanRepaired  = prometheus.NewDesc("zvdev_pool_scan_repaired_bytes", "Total bytes repaired so far.", []string{"pool", "kind"}, nil)
	scanErrors    = prometheus.NewDesc("zvdev_pool_scan_errors", "Errors encountered during the current/last pass.", []string{"pool", "kind"}, nil)
	scanPassExam  = prometheus.NewDesc("zvdev_pool_scan_pass_examined_bytes", "Bytes examined during the current pass only.", []string{"pool", "kind"}, nil)
	scanPassIssue = prometheus.NewDesc("zvdev_pool_scan_pass_issued_bytes", "Bytes issued during the current pass only.", []string{"pool", "kind"}, nil)
	scanRateBps   = prometheus.NewDesc("zvdev_pool_scan_rate_bytes_per_second", "Instantaneous scan rate over the current pass.", []string{"pool", "kind"}, nil)

	rebuildState    = prometheus.NewDesc("zvdev_pool_rebuild_state", "Rebuild state: 0 none, 1 active, 2 complete, 3 canceled.", []string{"pool", "top_level_guid"}, nil)
	rebuildToRebld  = prometheus.NewDesc("zvdev_pool_rebuild_to_rebuild_bytes", "Total bytes the sequential rebuild intends to reconstruct.", []string{"pool", "top_level_guid"}, nil)
	rebuiltBytes    = prometheus.NewDesc("zvdev_pool_rebuild_rebuilt_bytes", "Bytes already rebuilt.", []string{"pool", "top_level_guid"}, nil)

	checkpointState = prometheus.NewDesc("zvdev_pool_checkpoint_state", "Checkpoint state: 0 none, 1 exists, 2 discarding.", []string{"pool"}, nil)
	checkpointSpace = prometheus.NewDesc("zvdev_pool_checkpoint_space_bytes", "Space retained by the pool checkpoint.", []string{"pool"}, nil)
)

// activityKinds is every scanning-style Kind a Collector reports,
// matching the exact set in §4.E.
var activityKinds = []activity.Kind{
	activity.Scrub,
	activity.ErrorScrub,
	activity.Resilver,
	activity.Initialize,
	activity.Trim,
	activity.Removal,
	activity.RaidzExpand,
}

// Collector adapts one or more activity.Pool instances into a
// prometheus.Collector, the same Describe/Collect shape the ZFS
// exporter reference uses for its own scan_stats.
type Collector struct {
	pools []*activity.Pool
}

// NewCollector builds a Collector over the given pools. Pools can be
// added after construction is not supported; construct a fresh
// Collector and re-register if the pool set changes, matching the
// static-registration style of the reference exporter.
func NewCollector(pools ...*activity.Pool) *Collector {
	return &Collector{pools: pools}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- scanState
	ch <- scanToExamine
	ch <- scanExamined
	ch <- scanIssued
	ch <- scanRepaired
	ch <- scanErrors
	ch <- scanPassExam
	ch <- scanPassIssue
	ch <- scanRateBps
	ch <- rebuildState
	ch <- rebuildToRebld
	ch <- rebuiltBytes
	ch <- checkpointState
	ch <- checkpointSpace
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.pools {
		name := p.Name()
		for _, kind := range activityKinds {
			r := p.Snapshot(kind)
			k := kind.String()
			ch <- prometheus.MustNewConstMetric(scanState, prometheus.GaugeValue, float64(r.State), name, k)
			ch <- prometheus.MustNewConstMetric(scanToExamine, prometheus.GaugeValue, float64(r.ToExamine), name, k)
			ch <- prometheus.MustNewConstMetric(scanExamined, prometheus.GaugeValue, float64(r.Examined), name, k)
			ch <- prometheus.MustNewConstMetric(scanIssued, prometheus.GaugeValue, float64(r.Issued), name, k)
			ch <- prometheus.MustNewConstMetric(scanRepaired, prometheus.GaugeValue, float64(r.Repaired), name, k)
			ch <- prometheus.MustNewConstMetric(scanErrors, prometheus.GaugeValue, float64(r.ErrorCount), name, k)
			ch <- prometheus.MustNewConstMetric(scanPassExam, prometheus.GaugeValue, float64(r.PassExamined), name, k)
			ch <- prometheus.MustNewConstMetric(scanPassIssue, prometheus.GaugeValue, float64(r.PassIssued), name, k)
			ch <- prometheus.MustNewConstMetric(scanRateBps, prometheus.GaugeValue, r.ScanRate(time.Now()), name, k)
		}

		for _, rr := range p.AllRebuilds() {
			guid := formatGUID(rr.TopLevelGUID)
			ch <- prometheus.MustNewConstMetric(rebuildState, prometheus.GaugeValue, float64(rr.State), name, guid)
			ch <- prometheus.MustNewConstMetric(rebuildToRebld, prometheus.GaugeValue, float64(rr.ToRebuild), name, guid)
			ch <- prometheus.MustNewConstMetric(rebuiltBytes, prometheus.GaugeValue, float64(rr.Rebuilt), name, guid)
		}

		cp := p.Checkpoint()
		ch <- prometheus.MustNewConstMetric(checkpointState, prometheus.GaugeValue, float64(cp.State), name)
		ch <- prometheus.MustNewConstMetric(checkpointSpace, prometheus.GaugeValue, float64(cp.SpaceUsed), name)
	}
}

func formatGUID(guid uint64) string {
	return strconv.FormatUint(guid, 10)
}

var _ prometheus.Collector = (*Collector)(nil)
