package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/example/storefront/internal/models"
)

// RetentionOrders is the slice of the order store the automaton uses.
type RetentionOrders interface {
	ListAbandonedForNotice(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	MarkCleanupNoticeSent(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error)
	ListAbandonedForDeletion(ctx context.Context, noticeCutoff, ageCutoff time.Time) ([]models.Order, error)
	Delete(ctx context.Context, id uuid.UUID) (int64, error)
	DeleteByEmail(ctx context.Context, email string) (int64, error)
}

// RetentionLedger is the deferred-erasure side of the automaton.
type RetentionLedger interface {
	ListDueForNotice(ctx context.Context, windowCutoff time.Time) ([]models.DeletionRequest, error)
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	ListDueForCompletion(ctx context.Context, now, noticeCutoff time.Time) ([]models.DeletionRequest, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
}

// Auditor records compliance-relevant operations.
type Auditor interface {
	Append(ctx context.Context, table, operation string, rows int64, reason, actor string) error
}

// RetentionWindows parameterizes the automaton's timers.
type RetentionWindows struct {
	AbandonedNoticeAfter time.Duration
	AbandonedDeleteAfter time.Duration
	CleanupGracePeriod   time.Duration
	DeferredNoticeWindow time.Duration
}

// JobSummary reports one automaton run. Failures are isolated per entity
// and counted, never raised out of the batch.
type JobSummary struct {
	Notified int `json:"notified"`
	Acted    int `json:"acted"`
	Failed   int `json:"failed"`
}

// RetentionService is the scheduled automaton behind both data-retention
// triggers: abandoned-checkout expiry and deferred legal-retention
// expiry. Both run the same notify-then-act shape, differing only in the
// eligibility queries and the final action, and both are safe to re-run
// concurrently because eligibility and flagging are conditional at the
// store.
type RetentionService struct {
	orders  RetentionOrders
	ledger  RetentionLedger
	audit   Auditor
	mailer  Mailer
	windows RetentionWindows

	now func() time.Time
}

func NewRetentionService(orders RetentionOrders, ledger RetentionLedger, audit Auditor, mailer Mailer, windows RetentionWindows) *RetentionService {
	return &RetentionService{
		orders:  orders,
		ledger:  ledger,
		audit:   audit,
		mailer:  mailer,
		windows: windows,
		now:     time.Now,
	}
}

// runPhase applies one action to each eligible entity, isolating
// failures. The automaton must never let one customer's failure block the
// rest of the batch.
func runPhase[T any](ctx context.Context, label string, entities []T, act func(context.Context, T) error) (done, failed int) {
	for _, entity := range entities {
		if err := act(ctx, entity); err != nil {
			log.Printf("[Retention] %s failed: %v", label, err)
			failed++
			continue
		}
		done++
	}
	return done, failed
}

// RunAbandonedCleanup executes trigger A: notify guests stuck at checkout,
// then hard-delete orders whose grace period has elapsed.
func (s *RetentionService) RunAbandonedCleanup(ctx context.Context) JobSummary {
	var summary JobSummary
	now := s.now()

	// Phase 1: grace-period notices, grouped one email per guest.
	eligible, err := s.orders.ListAbandonedForNotice(ctx, now.Add(-s.windows.AbandonedNoticeAfter))
	if err != nil {
		log.Printf("[Retention] Abandoned notice query failed: %v", err)
		summary.Failed++
	} else {
		groups := groupByEmail(eligible)
		done, failed := runPhase(ctx, "abandoned notice", groups, func(ctx context.Context, group emailGroup) error {
			return s.sendAbandonedNotice(ctx, group, now)
		})
		summary.Notified += done
		summary.Failed += failed
	}

	// Phase 2: deletion after notice + grace period, for orders old
	// enough.
	due, err := s.orders.ListAbandonedForDeletion(ctx,
		now.Add(-s.windows.CleanupGracePeriod),
		now.Add(-s.windows.AbandonedDeleteAfter))
	if err != nil {
		log.Printf("[Retention] Abandoned deletion query failed: %v", err)
		summary.Failed++
		return summary
	}

	done, failed := runPhase(ctx, "abandoned deletion", due, func(ctx context.Context, order models.Order) error {
		rows, err := s.orders.Delete(ctx, order.ID)
		if err != nil {
			return err
		}
		if rows == 0 {
			// A concurrent run already removed it.
			return nil
		}
		notified := "unknown"
		if order.CleanupNoticeSentAt != nil {
			notified = order.CleanupNoticeSentAt.Format(time.RFC3339)
		}
		return s.audit.Append(ctx, "orders", "hard_delete", rows,
			fmt.Sprintf("abandoned checkout cleanup, order %s notified %s", order.OrderNumber, notified),
			"retention-automaton")
	})
	summary.Acted += done
	summary.Failed += failed

	return summary
}

type emailGroup struct {
	email  string
	orders []models.Order
}

func groupByEmail(orders []models.Order) []emailGroup {
	index := map[string]int{}
	var groups []emailGroup
	for _, order := range orders {
		i, ok := index[order.GuestEmail]
		if !ok {
			i = len(groups)
			index[order.GuestEmail] = i
			groups = append(groups, emailGroup{email: order.GuestEmail})
		}
		groups[i].orders = append(groups[i].orders, order)
	}
	return groups
}

func (s *RetentionService) sendAbandonedNotice(ctx context.Context, group emailGroup, now time.Time) error {
	numbers := make([]string, 0, len(group.orders))
	ids := make([]uuid.UUID, 0, len(group.orders))
	for _, order := range group.orders {
		numbers = append(numbers, order.OrderNumber)
		ids = append(ids, order.ID)
	}

	if group.email != "" {
		body := fmt.Sprintf("<p>Your unpaid checkout(s) %v will be removed in 48 hours unless payment is completed.</p>", numbers)
		if err := s.mailer.Send(ctx, group.email, "Pending checkout removal notice", body); err != nil {
			return fmt.Errorf("notice email to %s: %w", group.email, err)
		}
	}

	rows, err := s.orders.MarkCleanupNoticeSent(ctx, ids, now)
	if err != nil {
		return fmt.Errorf("flag notice for %s: %w", group.email, err)
	}
	return s.audit.Append(ctx, "orders", "cleanup_notice", rows,
		fmt.Sprintf("abandoned checkout notice to %s covering %d order(s)", group.email, len(ids)),
		"retention-automaton")
}

// RunDeferredErasure executes trigger B: notify guests whose statutory
// retention is about to lapse, then delete their data and complete the
// ledger entry. Deletion is the authoritative action; the completion
// email is advisory and its failure never rolls anything back.
func (s *RetentionService) RunDeferredErasure(ctx context.Context) JobSummary {
	var summary JobSummary
	now := s.now()

	due, err := s.ledger.ListDueForNotice(ctx, now.Add(s.windows.DeferredNoticeWindow))
	if err != nil {
		log.Printf("[Retention] Deferred notice query failed: %v", err)
		summary.Failed++
	} else {
		done, failed := runPhase(ctx, "deferred notice", due, func(ctx context.Context, request models.DeletionRequest) error {
			body := fmt.Sprintf("<p>The legal retention period for your data ends on %s. Your erasure request will be completed 48 hours after this notice.</p>",
				request.RetentionEndDate.Format("2006-01-02"))
			if err := s.mailer.Send(ctx, request.GuestEmail, "Scheduled data erasure notice", body); err != nil {
				return fmt.Errorf("deferred notice to %s: %w", request.GuestEmail, err)
			}
			rows, err := s.ledger.MarkNotified(ctx, request.ID, now)
			if err != nil {
				return err
			}
			return s.audit.Append(ctx, "deletion_requests", "erasure_notice", rows,
				fmt.Sprintf("deferred erasure notice for request %s", request.ID),
				"retention-automaton")
		})
		summary.Notified += done
		summary.Failed += failed
	}

	ready, err := s.ledger.ListDueForCompletion(ctx, now, now.Add(-s.windows.CleanupGracePeriod))
	if err != nil {
		log.Printf("[Retention] Deferred completion query failed: %v", err)
		summary.Failed++
		return summary
	}

	done, failed := runPhase(ctx, "deferred erasure", ready, func(ctx context.Context, request models.DeletionRequest) error {
		rows, err := s.orders.DeleteByEmail(ctx, request.GuestEmail)
		if err != nil {
			return err
		}
		if err := s.audit.Append(ctx, "orders", "hard_delete", rows,
			fmt.Sprintf("deferred legal erasure for request %s after retention end %s", request.ID, request.RetentionEndDate.Format("2006-01-02")),
			"retention-automaton"); err != nil {
			return err
		}
		if _, err := s.ledger.Complete(ctx, request.ID, s.now()); err != nil {
			return err
		}

		// Best effort only. The deletion already happened and stays.
		body := "<p>Your data erasure request has been completed.</p>"
		if err := s.mailer.Send(ctx, request.GuestEmail, "Data erasure completed", body); err != nil {
			log.Printf("[Retention] Completion email for request %s failed: %v", request.ID, err)
		}
		return nil
	})
	summary.Acted += done
	summary.Failed += failed

	return summary
}
