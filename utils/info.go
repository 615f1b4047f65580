package utils

import "time"

// Info collects the measurable facts of one transfer attempt chain. The
// coordinator fills it while driving the protocol and the benchmark reads it
// afterwards.
type Info struct {
	TxnID        string
	IsCommit     bool
	Failure      bool // transport failure observed in some phase
	RetryCount   int
	AbortCode    string
	PrepareTime  time.Duration
	DecideTime   time.Duration
	Latency      time.Duration
	beginAttempt time.Time
}

func NewInfo(tid string) *Info {
	return &Info{TxnID: tid, RetryCount: 0}
}

func (c *Info) BeginAttempt() {
	c.RetryCount++
	c.beginAttempt = time.Now()
}

func (c *Info) EndAttempt() {
	if !c.beginAttempt.IsZero() {
		c.Latency += time.Since(c.beginAttempt)
	}
}
