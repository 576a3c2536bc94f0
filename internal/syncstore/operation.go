// Package syncstore implements the pending-operation model and store
// (spec components C6/C7): a durable queue of local calendar mutations
// with coalescing, retry backoff, and an operation lifecycle state
// machine.
package syncstore

import "time"

// Kind is the mutation an operation represents.
type Kind int

const (
	KindCreate Kind = iota
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "CREATE"
	case KindUpdate:
		return "UPDATE"
	default:
		return "DELETE"
	}
}

// Status is a PendingOperation's lifecycle state. There is no terminal
// "completed" status: a successfully-applied operation is deleted from
// the store outright (spec §4.6 step c), not marked done.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	// StatusFailed covers both retriable failures (ShouldRetry=true,
	// eligible again once NextRetryAt elapses) and permanent ones
	// (ShouldRetry=false, terminal).
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusInProgress:
		return "IN_PROGRESS"
	default:
		return "FAILED"
	}
}

// PendingOperation is one queued local mutation, per spec §3.5.
type PendingOperation struct {
	ID          string
	CalendarURL string
	EventUID    string
	Kind        Kind
	// Payload is the serialized event body for CREATE/UPDATE; nil for DELETE.
	Payload []byte

	Status Status

	CreatedAt   time.Time
	RetryCount  int
	NextRetryAt time.Time
	ErrorMessage string
	ShouldRetry bool

	// InProgressSince records the lease timestamp MarkInProgress was
	// called with (spec §9's second open question), enabling stuck-op
	// detection; zero when not in progress.
	InProgressSince time.Time
}

// Backoff constants (spec §3.5). Overridable per Store via BackoffPolicy
// for tests/config, but these are the reference defaults.
const (
	DefaultInitialBackoffMS  = 1000
	DefaultMaxBackoffMS      = 60000
	DefaultBackoffMultiplier = 2.0
)

// BackoffPolicy parameterizes retry scheduling.
type BackoffPolicy struct {
	InitialMS  int64
	MaxMS      int64
	Multiplier float64
}

// DefaultBackoffPolicy returns the reference constants.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialMS:  DefaultInitialBackoffMS,
		MaxMS:      DefaultMaxBackoffMS,
		Multiplier: DefaultBackoffMultiplier,
	}
}

// ComputeBackoff returns the delay to apply after newRetryCount failures:
// initial*multiplier^newRetryCount, clamped to [initial, max] as a
// float64 before conversion to an integer millisecond duration. Clamping
// before the conversion matters: a high retry count can push the float64
// product well past MaxMS or even past int64 range, and converting first
// would let that overflow through before the clamp ever saw it.
func (p BackoffPolicy) ComputeBackoff(newRetryCount int) time.Duration {
	product := float64(p.InitialMS)
	for i := 0; i < newRetryCount; i++ {
		product *= p.Multiplier
	}
	if product < float64(p.InitialMS) {
		product = float64(p.InitialMS)
	}
	if product > float64(p.MaxMS) {
		product = float64(p.MaxMS)
	}
	return time.Duration(int64(product)) * time.Millisecond
}
