// Package dispatcher orchestrates a single notification dispatch: resolve the
// recipients, push to every eligible device through one provider call, and
// write an in-app record for every targeted user.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform"
	"github.com/tinywideclouds/go-push-dispatch/internal/recipients"
	"github.com/tinywideclouds/go-push-dispatch/internal/records"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"golang.org/x/sync/errgroup"
)

// Config bounds the fan-out of a single dispatch.
type Config struct {
	Concurrency     int
	ProviderTimeout time.Duration
}

const (
	defaultConcurrency     = 8
	defaultProviderTimeout = 30 * time.Second
)

// TokenSource is the token read path; satisfied by devices.Registry.
type TokenSource interface {
	Tokens(ctx context.Context, userID string) ([]string, error)
}

type Coordinator struct {
	resolver *recipients.Resolver
	tokens   TokenSource
	provider dispatch.Adapter
	writer   *records.Writer
	cfg      Config
	logger   *slog.Logger
}

func NewCoordinator(
	resolver *recipients.Resolver,
	tokens TokenSource,
	provider dispatch.Adapter,
	writer *records.Writer,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	return &Coordinator{
		resolver: resolver,
		tokens:   tokens,
		provider: provider,
		writer:   writer,
		cfg:      cfg,
		logger:   logger.With("component", "DispatchCoordinator"),
	}
}

func (c *Coordinator) SendToUser(ctx context.Context, userID string, msg dispatch.Message) (dispatch.Summary, error) {
	return c.Dispatch(ctx, dispatch.SingleUser(userID), msg)
}

func (c *Coordinator) SendToUsers(ctx context.Context, userIDs []string, msg dispatch.Message) (dispatch.Summary, error) {
	return c.Dispatch(ctx, dispatch.UserList(userIDs...), msg)
}

func (c *Coordinator) SendToAll(ctx context.Context, msg dispatch.Message) (dispatch.Summary, error) {
	return c.Dispatch(ctx, dispatch.AllUsers(), msg)
}

func (c *Coordinator) SendToAdmins(ctx context.Context, msg dispatch.Message) (dispatch.Summary, error) {
	return c.Dispatch(ctx, dispatch.AdminsOnly(), msg)
}

// Dispatch is best effort. The only errors returned are an invalid message or
// target, an unknown single recipient, and a datastore failure while resolving
// recipients. Push and record failures are reported in the Summary.
func (c *Coordinator) Dispatch(ctx context.Context, target dispatch.Target, msg dispatch.Message) (dispatch.Summary, error) {
	if err := msg.Validate(); err != nil {
		return dispatch.Summary{}, err
	}
	rcpts, err := c.resolver.Resolve(ctx, target)
	if err != nil {
		return dispatch.Summary{}, err
	}

	summary := dispatch.Summary{
		RecipientsTargeted: len(rcpts.All),
		PushEligible:       len(rcpts.Eligible),
	}
	if len(rcpts.All) == 0 {
		c.logger.Info("Dispatch resolved no recipients", "target", target.Kind, "category", msg.Category)
		return summary, nil
	}

	// Record writes are detached from caller cancellation.
	var (
		wg            sync.WaitGroup
		recordResults []records.Result
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		recordResults = c.writer.CreateForUsers(context.WithoutCancel(ctx), rcpts.IDs(), records.InputFromMessage(msg))
	}()

	push := c.push(ctx, rcpts.Eligible, msg)
	wg.Wait()

	summary.Delivered = push.result.SuccessCount
	summary.Failed = push.result.FailureCount
	summary.FailedTokens = push.result.FailedTokens
	summary.Recipients = make([]dispatch.RecipientOutcome, len(rcpts.All))
	for i, u := range rcpts.All {
		out := dispatch.RecipientOutcome{UserID: u.ID, Push: push.outcome(u.ID)}
		if i < len(recordResults) {
			out.RecordErr = recordResults[i].Err
			out.RecordWritten = recordResults[i].Err == nil
		}
		if out.RecordWritten {
			summary.RecordsWritten++
		} else {
			summary.RecordsFailed++
		}
		summary.Recipients[i] = out
	}

	c.logger.Info("Dispatch complete",
		"target", target.Kind,
		"category", msg.Category,
		"provider", c.provider.Name(),
		"targeted", summary.RecipientsTargeted,
		"eligible", summary.PushEligible,
		"delivered", summary.Delivered,
		"failed", summary.Failed,
		"records_written", summary.RecordsWritten,
		"records_failed", summary.RecordsFailed,
	)
	return summary, nil
}

// pushState tracks which users own which tokens so the token-level provider
// result can be projected back onto recipients.
type pushState struct {
	result       dispatch.DeliveryResult
	eligible     map[string]bool
	lookupFailed map[string]bool
	owned        map[string][]string
	failed       map[string]bool
	// confirmed is false when the provider left tokens unaccounted for,
	// e.g. the no-op adapter. Unfailed tokens then count as not sent.
	confirmed bool
}

func (p *pushState) outcome(userID string) dispatch.PushOutcome {
	if !p.eligible[userID] {
		return dispatch.PushSkipped
	}
	if p.lookupFailed[userID] {
		return dispatch.PushFailed
	}
	tokens := p.owned[userID]
	if len(tokens) == 0 {
		return dispatch.PushSkipped
	}
	for _, t := range tokens {
		if p.failed[t] {
			continue
		}
		if !p.confirmed {
			return dispatch.PushSkipped
		}
		return dispatch.PushDelivered
	}
	return dispatch.PushFailed
}

func (c *Coordinator) push(ctx context.Context, eligible []dispatch.User, msg dispatch.Message) *pushState {
	st := &pushState{
		eligible:     make(map[string]bool, len(eligible)),
		lookupFailed: make(map[string]bool),
		owned:        make(map[string][]string, len(eligible)),
		failed:       make(map[string]bool),
	}
	if len(eligible) == 0 {
		return st
	}

	perUser := make([][]string, len(eligible))
	lookupErrs := make([]error, len(eligible))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, u := range eligible {
		st.eligible[u.ID] = true
		g.Go(func() error {
			tokens, err := c.tokens.Tokens(ctx, u.ID)
			if err != nil {
				lookupErrs[i] = err
				return nil
			}
			perUser[i] = tokens
			return nil
		})
	}
	_ = g.Wait()

	var owned []string
	for i, u := range eligible {
		if err := lookupErrs[i]; err != nil {
			st.lookupFailed[u.ID] = true
			if !errors.Is(err, dispatch.ErrUserNotFound) {
				c.logger.Error("Token lookup failed", "user", u.ID, "err", err)
			}
			continue
		}
		for _, t := range perUser[i] {
			if t == "" {
				continue
			}
			st.owned[u.ID] = append(st.owned[u.ID], t)
			owned = append(owned, t)
		}
	}
	all := platform.Dedupe(owned)
	if len(all) == 0 {
		return st
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()
	st.result = c.provider.Send(sendCtx, all, msg)
	for _, t := range st.result.FailedTokens {
		st.failed[t] = true
	}
	st.confirmed = st.result.SuccessCount+st.result.FailureCount >= len(all)
	if !st.confirmed {
		c.logger.Warn("Provider left tokens unaccounted for",
			"provider", c.provider.Name(),
			"sent", len(all),
			"success", st.result.SuccessCount,
			"failure", st.result.FailureCount,
		)
	}
	if st.result.FailureCount > 0 {
		c.logger.Warn("Push partially failed", "err", &dispatch.PartialDeliveryError{
			Provider: c.provider.Name(),
			Failed:   st.result.FailedTokens,
		})
	}
	return st
}
