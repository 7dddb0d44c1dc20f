package services

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/example/storefront/internal/models"
)

// Escalating block durations for offenses 1..5; further offenses stay at
// the cap.
var blockDurations = []time.Duration{
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

// Offenses older than this no longer contribute to escalation.
const offenseCoolingWindow = 30 * 24 * time.Hour

// BlockDurationForOffense maps an offense count to its block duration,
// capped at the last step.
func BlockDurationForOffense(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	if count > len(blockDurations) {
		count = len(blockDurations)
	}
	return blockDurations[count-1]
}

// BlockRecords is the persistence slice the abuse engine needs.
type BlockRecords interface {
	Get(ctx context.Context, ip string) (*models.BlockRecord, error)
	Save(ctx context.Context, record *models.BlockRecord) error
}

// AbuseService tracks per-IP offense counts and computes escalating block
// windows. Allowlisted sources bypass every check before any lookup.
type AbuseService struct {
	blocks BlockRecords
	audit  Auditor

	allowedIPs  map[string]struct{}
	allowedNets []*net.IPNet

	now func() time.Time
}

// NewAbuseService parses the allowlist: comma-separated exact IPs and
// CIDR ranges. Unparseable entries are logged and skipped.
func NewAbuseService(blocks BlockRecords, audit Auditor, allowlist string) *AbuseService {
	s := &AbuseService{
		blocks:     blocks,
		audit:      audit,
		allowedIPs: map[string]struct{}{},
		now:        time.Now,
	}

	for _, entry := range strings.Split(allowlist, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				log.Printf("[Abuse] Skipping invalid allowlist CIDR %q: %v", entry, err)
				continue
			}
			s.allowedNets = append(s.allowedNets, network)
			continue
		}
		s.allowedIPs[entry] = struct{}{}
	}

	return s
}

// IsAllowlisted reports whether the IP bypasses blocking entirely.
func (s *AbuseService) IsAllowlisted(ip string) bool {
	if _, ok := s.allowedIPs[ip]; ok {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range s.allowedNets {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether requests from the IP must be rejected.
// Temporary blocks auto-expire once blocked_until passes.
func (s *AbuseService) IsBlocked(ctx context.Context, ip string) (bool, error) {
	if s.IsAllowlisted(ip) {
		return false, nil
	}

	record, err := s.blocks.Get(ctx, ip)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	if record.BlockType == models.BlockTypePermanent || record.BlockedUntil == nil {
		return record.BlockType == models.BlockTypePermanent, nil
	}
	return record.BlockedUntil.After(s.now()), nil
}

// RecordOffense increments the offense counter and applies the block
// window. Signature failures block permanently regardless of count.
func (s *AbuseService) RecordOffense(ctx context.Context, ip, incident string) error {
	if s.IsAllowlisted(ip) {
		return nil
	}

	now := s.now()

	record, err := s.blocks.Get(ctx, ip)
	if err != nil {
		return err
	}
	if record == nil {
		record = &models.BlockRecord{IP: ip}
	}

	// Escalation restarts after the cooling window.
	if !record.LastOffenseAt.IsZero() && now.Sub(record.LastOffenseAt) > offenseCoolingWindow {
		record.OffenseCount = 0
	}

	record.OffenseCount++
	record.LastOffenseAt = now
	record.IncidentType = incident

	if incident == models.IncidentSignatureFailure {
		record.BlockType = models.BlockTypePermanent
		record.BlockedUntil = nil
	} else {
		until := now.Add(BlockDurationForOffense(record.OffenseCount))
		record.BlockType = models.BlockTypeTemporary
		record.BlockedUntil = &until
	}

	if err := s.blocks.Save(ctx, record); err != nil {
		return err
	}

	log.Printf("[Abuse] Recorded %s offense %d for %s (%s)", incident, record.OffenseCount, ip, record.BlockType)
	return nil
}

// Unblock clears a block by admin override.
func (s *AbuseService) Unblock(ctx context.Context, ip, admin, note string) error {
	record, err := s.blocks.Get(ctx, ip)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	past := s.now().Add(-time.Minute)
	record.BlockedUntil = &past
	record.BlockType = models.BlockTypeTemporary
	record.UnblockedBy = admin
	record.OverrideNote = note

	if err := s.blocks.Save(ctx, record); err != nil {
		return err
	}

	if s.audit != nil {
		if err := s.audit.Append(ctx, "block_records", "unblock", 1,
			fmt.Sprintf("admin override for %s: %s", ip, note), admin); err != nil {
			log.Printf("[Abuse] Failed to audit unblock of %s: %v", ip, err)
		}
	}
	return nil
}
