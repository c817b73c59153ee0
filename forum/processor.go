package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fortressi/resourcesaga/internal/metrics"
	"github.com/fortressi/resourcesaga/ledger"
)

// Drop reasons reported to metrics.
const (
	dropInvalid       = "invalid"
	dropDuplicate     = "duplicate"
	dropNoGroup       = "no_group"
	dropAlreadyMember = "already_member"
)

type processorConfig struct {
	ttl      time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// Option configures a processor.
type Option func(*processorConfig)

// WithTTL sets how long a processed message id is remembered.
func WithTTL(ttl time.Duration) Option {
	return func(c *processorConfig) { c.ttl = ttl }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *processorConfig) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *processorConfig) { c.metrics = m }
}

func newConfig(name string, opts []Option) processorConfig {
	c := processorConfig{
		ttl:      ledger.DefaultTTL,
		logger:   zerolog.Nop(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.logger = c.logger.With().Str("processor", name).Logger()
	return c
}

// claimFresh validates events and claims their message ids. It returns the
// events seen for the first time. A claim is never released, so an event
// whose batch later fails to persist will not be processed again.
func claimFresh[E any](ctx context.Context, c *processorConfig, l ledger.Ledger, name, prefix string, events []E, messageID func(E) uuid.UUID) ([]E, error) {
	fresh := make([]E, 0, len(events))
	for _, ev := range events {
		id := messageID(ev)
		if err := c.validate.StructCtx(ctx, ev); err != nil {
			c.logger.Warn().Err(err).Str("message_id", id.String()).Msg("invalid event dropped")
			c.metrics.IncDropped(name, dropInvalid)
			continue
		}

		claimed, err := l.Claim(ctx, ledger.Key(prefix, id), c.ttl)
		if err != nil {
			return nil, fmt.Errorf("claim message %s: %w", id, err)
		}
		if !claimed {
			c.logger.Debug().Str("message_id", id.String()).Msg("duplicate event ignored")
			c.metrics.IncDropped(name, dropDuplicate)
			continue
		}
		fresh = append(fresh, ev)
	}
	return fresh, nil
}

const groupCreationName = "group_creation"

// GroupCreationProcessor stores one CourseForumGroup per new
// CourseForumGroupCreated event.
type GroupCreationProcessor struct {
	processorConfig
	ledger ledger.Ledger
	repo   Repository
}

func NewGroupCreationProcessor(l ledger.Ledger, repo Repository, opts ...Option) *GroupCreationProcessor {
	return &GroupCreationProcessor{
		processorConfig: newConfig(groupCreationName, opts),
		ledger:          l,
		repo:            repo,
	}
}

// Process persists the groups of a batch. Events already claimed by an
// earlier delivery are dropped without error.
func (p *GroupCreationProcessor) Process(ctx context.Context, events []CourseForumGroupCreated) error {
	if len(events) == 0 {
		return nil
	}

	fresh, err := claimFresh(ctx, &p.processorConfig, p.ledger, groupCreationName, ledger.PrefixGroupCreated, events,
		func(e CourseForumGroupCreated) uuid.UUID { return e.MessageID })
	if err != nil {
		p.metrics.IncBatchError(groupCreationName)
		return err
	}
	if len(fresh) == 0 {
		p.logger.Info().Int("events", len(events)).Msg("no new forum groups after deduplication")
		return nil
	}

	groups := make([]CourseForumGroup, len(fresh))
	for i, ev := range fresh {
		createdAt := ev.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		groups[i] = CourseForumGroup{
			ID:        uuid.New(),
			CourseID:  ev.CourseID,
			GroupID:   ev.GroupID,
			StartTime: ev.StartTime,
			EndTime:   ev.EndTime,
			CreatedAt: createdAt,
		}
	}

	if err := p.repo.SaveGroups(ctx, groups); err != nil {
		p.logger.Error().Err(err).Int("groups", len(groups)).Msg("failed to save forum groups")
		p.metrics.IncBatchError(groupCreationName)
		return fmt.Errorf("save %d forum groups: %w", len(groups), err)
	}

	p.metrics.AddProcessed(groupCreationName, len(groups))
	p.logger.Info().Int("groups", len(groups)).Msg("forum groups saved")
	return nil
}

// Processed reports whether messageID has been claimed.
func (p *GroupCreationProcessor) Processed(ctx context.Context, messageID uuid.UUID) (bool, error) {
	return p.ledger.IsClaimed(ctx, ledger.Key(ledger.PrefixGroupCreated, messageID))
}

const membershipName = "membership"

// MembershipProcessor adds buyers of a course to the course's forum group.
type MembershipProcessor struct {
	processorConfig
	ledger ledger.Ledger
	repo   Repository
}

func NewMembershipProcessor(l ledger.Ledger, repo Repository, opts ...Option) *MembershipProcessor {
	return &MembershipProcessor{
		processorConfig: newConfig(membershipName, opts),
		ledger:          l,
		repo:            repo,
	}
}

type membershipKey struct {
	userID  uuid.UUID
	groupID uuid.UUID
}

// Process persists the memberships of a batch. Purchases of courses without
// a forum group and users who are already members are skipped.
func (p *MembershipProcessor) Process(ctx context.Context, events []CoursePurchased) error {
	if len(events) == 0 {
		return nil
	}

	fresh, err := claimFresh(ctx, &p.processorConfig, p.ledger, membershipName, ledger.PrefixMembership, events,
		func(e CoursePurchased) uuid.UUID { return e.MessageID })
	if err != nil {
		p.metrics.IncBatchError(membershipName)
		return err
	}

	memberships, err := p.prepare(ctx, fresh)
	if err != nil {
		p.metrics.IncBatchError(membershipName)
		return err
	}
	if len(memberships) == 0 {
		return nil
	}

	if err := p.repo.SaveMemberships(ctx, memberships); err != nil {
		p.logger.Error().Err(err).Int("memberships", len(memberships)).Msg("failed to save memberships")
		p.metrics.IncBatchError(membershipName)
		return fmt.Errorf("save %d memberships: %w", len(memberships), err)
	}

	p.metrics.AddProcessed(membershipName, len(memberships))
	p.logger.Info().Int("memberships", len(memberships)).Msg("forum memberships saved")
	return nil
}

func (p *MembershipProcessor) prepare(ctx context.Context, events []CoursePurchased) ([]Membership, error) {
	groups := make(map[uuid.UUID]uuid.UUID)
	seen := make(map[membershipKey]bool)
	now := time.Now().UTC()

	var out []Membership
	for _, ev := range events {
		log := p.logger.With().
			Str("message_id", ev.MessageID.String()).
			Str("user_id", ev.UserID.String()).
			Str("course_id", ev.CourseID.String()).
			Logger()

		groupID, ok := groups[ev.CourseID]
		if !ok {
			g, err := p.repo.FindGroupByCourseID(ctx, ev.CourseID)
			if errors.Is(err, ErrGroupNotFound) {
				log.Warn().Msg("no forum group for course, skipping")
				p.metrics.IncDropped(membershipName, dropNoGroup)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("find forum group of course %s: %w", ev.CourseID, err)
			}
			groupID = g.GroupID
			groups[ev.CourseID] = groupID
		}

		key := membershipKey{userID: ev.UserID, groupID: groupID}
		if seen[key] {
			p.metrics.IncDropped(membershipName, dropAlreadyMember)
			continue
		}
		seen[key] = true

		member, err := p.repo.IsMember(ctx, ev.UserID, groupID)
		if err != nil {
			return nil, fmt.Errorf("check membership of user %s: %w", ev.UserID, err)
		}
		if member {
			log.Info().Str("group_id", groupID.String()).Msg("user already a member, skipping")
			p.metrics.IncDropped(membershipName, dropAlreadyMember)
			continue
		}

		out = append(out, Membership{
			ID:       uuid.New(),
			UserID:   ev.UserID,
			GroupID:  groupID,
			JoinedAt: now,
		})
	}
	return out, nil
}

// Processed reports whether messageID has been claimed.
func (p *MembershipProcessor) Processed(ctx context.Context, messageID uuid.UUID) (bool, error) {
	return p.ledger.IsClaimed(ctx, ledger.Key(ledger.PrefixMembership, messageID))
}
