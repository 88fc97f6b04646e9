package services

import (
	"sync"
	"time"

	"tripnest/backend/system"
)

const (
	autoBlockThreshold  = 5
	autoBlockWindow     = 1 * time.Hour
	velocityWindow      = 10 * time.Second
	velocityMaxRequests = 50
	recordRetention     = 24 * time.Hour
	cleanupInterval     = 1 * time.Hour
)

// AttackRecord accumulates detections for a single client IP.
type AttackRecord struct {
	IP        string    `json:"ip"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Blocked   bool      `json:"blocked"`
	Rules     []string  `json:"rules"`
}

type velocityTracker struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// AttackTracker keeps per-IP attack counters, request velocity windows
// and the standing blocked-IP set. Safe for concurrent use.
type AttackTracker struct {
	mu       sync.RWMutex
	records  map[string]*AttackRecord
	velocity map[string]*velocityTracker
	blocked  map[string]struct{}

	cleanupTicker *time.Ticker
	stopChan      chan struct{}
}

func NewAttackTracker() *AttackTracker {
	t := &AttackTracker{
		records:  make(map[string]*AttackRecord),
		velocity: make(map[string]*velocityTracker),
		blocked:  make(map[string]struct{}),
		stopChan: make(chan struct{}),
	}

	t.cleanupTicker = time.NewTicker(cleanupInterval)
	go t.cleanupRoutine()

	return t
}

// RecordAttacks appends matched rule names to the IP's attack record,
// creating it on first detection. The auto-block window is measured
// from FirstSeen; a stale window restarts with the current detection.
func (t *AttackTracker) RecordAttacks(ip string, ruleNames []string) {
	if ip == "" || len(ruleNames) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	rec, exists := t.records[ip]
	if !exists {
		t.records[ip] = &AttackRecord{
			IP:        ip,
			Count:     len(ruleNames),
			FirstSeen: now,
			LastSeen:  now,
			Rules:     append([]string(nil), ruleNames...),
		}
		return
	}

	if now.Sub(rec.FirstSeen) > autoBlockWindow && !rec.Blocked {
		rec.FirstSeen = now
		rec.Count = 0
	}
	rec.Count += len(ruleNames)
	rec.LastSeen = now
	rec.Rules = append(rec.Rules, ruleNames...)
}

// ShouldAutoBlock reports whether the IP has crossed the auto-block
// threshold. Crossing it adds the IP to the standing block-set; it
// stays there until manually unblocked.
func (t *AttackTracker) ShouldAutoBlock(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.blocked[ip]; ok {
		return true
	}

	rec, exists := t.records[ip]
	if !exists {
		return false
	}
	if rec.Count >= autoBlockThreshold && time.Since(rec.FirstSeen) <= autoBlockWindow {
		rec.Blocked = true
		t.blocked[ip] = struct{}{}
		system.Warn("Auto-blocking IP %s after %d attacks", ip, rec.Count)
		return true
	}
	return false
}

// RecordRequest maintains the independent velocity window and reports
// whether the IP is currently in a request burst.
func (t *AttackTracker) RecordRequest(ip string) bool {
	if ip == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	v, exists := t.velocity[ip]
	if !exists || now.Sub(v.windowStart) > velocityWindow {
		t.velocity[ip] = &velocityTracker{count: 1, windowStart: now, lastSeen: now}
		return false
	}
	v.count++
	v.lastSeen = now
	return v.count > velocityMaxRequests
}

// IsBlocked reports whether the IP is in the standing block-set
func (t *AttackTracker) IsBlocked(ip string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.blocked[ip]
	return ok
}

// BlockIP adds an IP to the block-set (operator override)
func (t *AttackTracker) BlockIP(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.blocked[ip] = struct{}{}
	if rec, exists := t.records[ip]; exists {
		rec.Blocked = true
	}
}

// UnblockIP removes an IP from the block-set and resets its record
func (t *AttackTracker) UnblockIP(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.blocked, ip)
	if rec, exists := t.records[ip]; exists {
		rec.Blocked = false
		rec.Count = 0
		rec.Rules = nil
	}
}

// BlockedIPs returns the current block-set
func (t *AttackTracker) BlockedIPs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.blocked))
	for ip := range t.blocked {
		out = append(out, ip)
	}
	return out
}

// Record returns a copy of the attack record for an IP, if any
func (t *AttackTracker) Record(ip string) (AttackRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.records[ip]
	if !exists {
		return AttackRecord{}, false
	}
	cp := *rec
	cp.Rules = append([]string(nil), rec.Rules...)
	return cp, true
}

// Stats returns current tracker statistics
func (t *AttackTracker) Stats() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return map[string]interface{}{
		"tracked_ips":  len(t.records),
		"velocity_ips": len(t.velocity),
		"blocked_ips":  len(t.blocked),
	}
}

func (t *AttackTracker) cleanupRoutine() {
	for {
		select {
		case <-t.stopChan:
			return
		case <-t.cleanupTicker.C:
			t.cleanup()
		}
	}
}

// cleanup purges records untouched for longer than the retention
// window. The block-set is deliberately untouched: a blocked IP stays
// blocked until an operator releases it.
func (t *AttackTracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for ip, rec := range t.records {
		if now.Sub(rec.LastSeen) > recordRetention {
			delete(t.records, ip)
		}
	}
	for ip, v := range t.velocity {
		if now.Sub(v.lastSeen) > recordRetention {
			delete(t.velocity, ip)
		}
	}
}

// Stop stops the background cleanup
func (t *AttackTracker) Stop() {
	close(t.stopChan)
	t.cleanupTicker.Stop()
}
