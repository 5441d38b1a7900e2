package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version, commit, Go version and store driver.",
	},
	[]string{"version", "commit", "goversion", "store"},
)

func SetBuildInfo(version, commit, storeDriver string) {
	buildInfo.WithLabelValues(version, commit, runtime.Version(), norm(storeDriver)).Set(1)
}
