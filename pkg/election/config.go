package election

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Default timings follow the values Kubernetes components run leader election
// with. They tolerate roughly RenewDeadline/RetryPeriod failed renewals in a
// row before leadership lapses.
const (
	DefaultLeaseDuration  = 15 * time.Second
	DefaultRenewDeadline  = 10 * time.Second
	DefaultRetryPeriod    = 2 * time.Second
	DefaultJitterFraction = 1.2
)

// Config describes one contended lease.
type Config struct {
	// Name and Namespace identify the lease record.
	Name      string
	Namespace string

	// Identity is this process's holder identity. Defaults to the hostname
	// with a random suffix so restarted replicas never collide.
	Identity string

	// LeaseDuration (D) is the validity window of a renewal. Competitors
	// treat the record as free once RenewTime+LeaseDuration passed.
	LeaseDuration time.Duration

	// RenewDeadline (R) is how long this process keeps believing it leads
	// without a confirmed renewal. Must be shorter than LeaseDuration; the
	// difference is the safety margin against clock skew.
	RenewDeadline time.Duration

	// RetryPeriod paces acquisition polls and renewal attempts.
	RetryPeriod time.Duration

	// CallTimeout bounds every store call, including the best-effort release
	// on shutdown.
	CallTimeout time.Duration

	// JitterFraction spreads acquisition polls to avoid thundering-herd
	// contention between waiting replicas.
	JitterFraction float64
}

// Defaults fills unset fields in place.
func (c *Config) Defaults() {
	if c.Identity == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "conductor"
		}
		c.Identity = host + "_" + uuid.NewString()
	}
	if c.LeaseDuration == 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.RenewDeadline == 0 {
		c.RenewDeadline = DefaultRenewDeadline
	}
	if c.RetryPeriod == 0 {
		c.RetryPeriod = DefaultRetryPeriod
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.JitterFraction == 0 {
		c.JitterFraction = DefaultJitterFraction
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("lease name must be set"))
	}
	if c.Namespace == "" {
		errs = append(errs, errors.New("lease namespace must be set"))
	}
	if c.Identity == "" {
		errs = append(errs, errors.New("holder identity must be set"))
	}
	if c.LeaseDuration <= 0 {
		errs = append(errs, errors.New("leaseDuration must be positive"))
	}
	if c.RenewDeadline <= 0 {
		errs = append(errs, errors.New("renewDeadline must be positive"))
	}
	if c.RetryPeriod <= 0 {
		errs = append(errs, errors.New("retryPeriod must be positive"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("callTimeout must be positive"))
	}
	if c.JitterFraction < 0 {
		errs = append(errs, errors.New("jitterFraction must not be negative"))
	}
	if c.LeaseDuration > 0 && c.RenewDeadline > 0 && c.RenewDeadline >= c.LeaseDuration {
		errs = append(errs, fmt.Errorf("renewDeadline %s must be shorter than leaseDuration %s", c.RenewDeadline, c.LeaseDuration))
	}
	if c.RenewDeadline > 0 && c.RetryPeriod > 0 && c.RetryPeriod >= c.RenewDeadline {
		errs = append(errs, fmt.Errorf("retryPeriod %s must be shorter than renewDeadline %s", c.RetryPeriod, c.RenewDeadline))
	}
	return errors.Join(errs...)
}
