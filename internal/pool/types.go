// Package pool defines the data model shared by the registry, the
// endpoint state machine, the selector and the dispatcher: providers,
// endpoints, pool configuration and dispatch log entries.
package pool

import "time"

// WireFormat is the on-the-wire shape a provider speaks.
type WireFormat string

const (
	FormatOpenAI    WireFormat = "openai"
	FormatAnthropic WireFormat = "anthropic"
)

// Tag names one of the three load-balancing pools.
type Tag string

const (
	Tool     Tag = "tool"
	Normal   Tag = "normal"
	Advanced Tag = "advanced"
)

// Tags lists every known pool tag, in the canonical order used wherever
// a stable ordering of pools is needed (e.g. stats aggregation).
var Tags = []Tag{Tool, Normal, Advanced}

// Provider is a configured upstream account: a base URL, a secret key
// and the wire format it speaks.
type Provider struct {
	ID           int64
	Name         string
	BaseURL      string
	APIKey       string
	Format       WireFormat
	Enabled      bool
	TotalCount   int64
	SuccessCount int64
	ErrorCount   int64
	CreatedAt    time.Time
}

// Endpoint places one upstream model into exactly one pool for one
// provider. (ProviderID, UpstreamModelID, Pool) is unique.
type Endpoint struct {
	ID                 int64
	ProviderID         int64
	UpstreamModelID     string
	Pool               Tag
	Enabled            bool
	Weight             int
	MinIntervalSeconds int
	// Priority is preserved for forward compatibility; the selector does
	// not consult it (see spec Open Questions).
	Priority      int
	TotalCount    int64
	SuccessCount  int64
	ErrorCount    int64
	MeanLatencyMs float64
	CooldownUntil *time.Time
	LastError     string
	LastUsed      *time.Time
}

// Config holds the tunables for one pool.
type Config struct {
	Tag             Tag
	VirtualModel    string
	CooldownSeconds int
	TimeoutSeconds  int
	// MaxRetries bounds the number of candidates tried per dispatch.
	// Zero means exhaust every candidate the selector yields.
	MaxRetries int
}

// DefaultConfig returns the spec's defaults for a pool tag.
func DefaultConfig(tag Tag, virtualModel string) Config {
	return Config{
		Tag:             tag,
		VirtualModel:    virtualModel,
		CooldownSeconds: 60,
		TimeoutSeconds:  60,
		MaxRetries:      0,
	}
}

// LogEntry records the outcome of one dispatch attempt against one
// candidate endpoint.
type LogEntry struct {
	ID             string
	Pool           Tag
	RequestedModel string
	ActualModel    string
	ProviderName   string
	Success        bool
	HTTPStatus     *int
	Error          *string
	LatencyMs      int
	InputTokens    *int
	OutputTokens   *int
	CreatedAt      time.Time
}

// EndpointFilter narrows List queries against endpoints.
type EndpointFilter struct {
	Pool       *Tag
	ProviderID *int64
	Enabled    *bool
}
