package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeLocked  = "locked"
	outcomeError   = "error"
)

var (
	authOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Authentication operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	accountLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_account_lockouts_total",
		Help: "Accounts locked after repeated failed logins.",
	})

	sessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_evicted_total",
		Help: "Sessions evicted because a user reached the concurrent session limit.",
	})
)
