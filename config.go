package librq

import (
	"io"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/hyper/librq/reactor"
)

// Config configures a Client. Only Reactor is required; everything else
// has a workable zero value, mirroring the teacher's Config/DefaultTimeout
// shape (Addr/Timeout/Logger) scaled up to a multi-controller client.
type Config struct {
	// Reactor is the event loop the Client registers readiness interest
	// against. Required.
	Reactor reactor.Reactor

	// Controllers, if non-empty, is added in order via AddController
	// during New — a convenience equivalent to calling AddController
	// once per entry afterward. Only the first entry is dialed at once;
	// the rest are alternates for failover.
	Controllers []string

	// LogOutput is where the filtered logger writes; defaults to stderr.
	LogOutput io.Writer
	// LogLevel is one of DEBUG, INFO, WARN, ERR; defaults to INFO.
	LogLevel string
	// EnableSyslog tees the logger to the local syslog daemon.
	EnableSyslog bool
	// SyslogFacility names the syslog facility to use when EnableSyslog
	// is set; defaults to LOCAL0.
	SyslogFacility string

	// Metrics, if set, overrides the default armon/go-metrics global
	// sink, so a caller can observe emitted measurements.
	Metrics metricsSink

	// ReadChunk is the size new readbuf growth increments by; defaults
	// to 4096 per SPEC_FULL.md §4.2.
	ReadChunk int

	// DefaultPort fills in the port for any controller host string that
	// omits one (spec.md §6). Zero means hosts must each specify their
	// own port.
	DefaultPort int
}

// ClientFromMap decodes a loosely-typed configuration map into a Config
// and constructs a Client from it, the same role mapstructure-backed
// config loading plays for hashicorp agents that accept configuration
// from JSON/HCL/flags merged into a single map before being typed. The
// Reactor field cannot be expressed in a map, so it is passed separately
// as rct and overrides any Reactor entry decoded from m.
func ClientFromMap(m map[string]interface{}, rct reactor.Reactor) (*Client, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, &ConfigError{Field: "config", Reason: err.Error()}
	}
	cfg.Reactor = rct
	return New(cfg)
}

const defaultReadChunk = 4096

// defaultDialTimeout bounds nothing in the non-blocking connect path
// itself (§4.2: "no connect timeout is mandated"); nothing in the package
// references it, and no connect timeout is applied.
const defaultDialTimeout = 10 * time.Second
