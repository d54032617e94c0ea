package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	logEventSupersetUnreachable = "superset_unreachable"
	logEventSupersetRecovered   = "superset_recovered"
)

// SupersetAuthenticator logs in to Superset; implemented by *superset.Client.
type SupersetAuthenticator interface {
	Login(ctx context.Context) (string, error)
}

// ProbeStatus is the outcome of the latest Superset login attempt.
type ProbeStatus struct {
	Checked   bool
	Reachable bool
	CheckedAt time.Time
	Error     string
}

// SupersetProbe checks that the service account can still log in to Superset.
type SupersetProbe struct {
	authenticator SupersetAuthenticator
	logger        *zap.Logger
	now           func() time.Time

	statusMutex sync.RWMutex
	status      ProbeStatus
}

func NewSupersetProbe(authenticator SupersetAuthenticator, logger *zap.Logger) *SupersetProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupersetProbe{authenticator: authenticator, logger: logger, now: time.Now}
}

// Run performs one login attempt and records the result. It has the Job signature.
func (probe *SupersetProbe) Run(ctx context.Context) {
	_, loginErr := probe.authenticator.Login(ctx)
	if ctx.Err() != nil {
		return
	}

	next := ProbeStatus{Checked: true, Reachable: loginErr == nil, CheckedAt: probe.now().UTC()}
	if loginErr != nil {
		next.Error = loginErr.Error()
	}

	probe.statusMutex.Lock()
	previous := probe.status
	probe.status = next
	probe.statusMutex.Unlock()

	switch {
	case loginErr != nil && (previous.Reachable || !previous.Checked):
		probe.logger.Warn(logEventSupersetUnreachable, zap.Error(loginErr))
	case loginErr == nil && previous.Checked && !previous.Reachable:
		probe.logger.Info(logEventSupersetRecovered)
	}
}

func (probe *SupersetProbe) Status() ProbeStatus {
	probe.statusMutex.RLock()
	defer probe.statusMutex.RUnlock()
	return probe.status
}
