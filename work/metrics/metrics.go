package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PlaybackStarts counts playback attempts by the format the classifier
// picked. Ticks once per play request, after resolution and classification.
var PlaybackStarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_playback_starts",
	Help: "Number of playback attempts by stream format",
}, []string{"format"})

// EngineFallbacks counts fallback transitions between player engines. The
// "reason" label distinguishes codec failures from generic engine errors.
var EngineFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_engine_fallbacks",
	Help: "Number of engine fallback transitions",
}, []string{"from", "to", "reason"})

// StreamErrors counts errors by pipeline stage (resolve, portal, proxy,
// engine).
var StreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_stream_errors",
	Help: "Number of stream errors by stage",
}, []string{"stage"})

// ProxiedBytes tracks the total bytes relayed through the TS transport proxy.
var ProxiedBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_player_proxied_bytes",
	Help: "Total bytes relayed through the TS proxy",
})

// PortalRequests counts requests made against the Stalker portal API by
// action (get_all_channels, create_link, ...).
var PortalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_portal_requests",
	Help: "Number of portal API requests by action",
}, []string{"action"})
