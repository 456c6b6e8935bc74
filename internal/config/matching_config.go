package config

import "time"

const (
	// Waiting pool
	WaitingTTL    = 60 * time.Second
	SweepInterval = 15 * time.Second

	// Session
	WatchdogDeadline   = 6 * time.Second
	CandidateBufferCap = 64

	// Identity
	TokenLifetime = 72 * time.Hour
	TokenIssuer   = "pairwave-service"
)
