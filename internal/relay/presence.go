package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const presenceTopicPrefix = "presence:"

// presenceKeyTTL bounds how long a crashed client can appear present.
const presenceKeyTTL = 5 * time.Minute

// MemberSet tracks who is currently attached to a presence channel. It
// backs the initial sync a joiner receives; live changes travel on the bus.
type MemberSet interface {
	Add(ctx context.Context, channelID, memberID string) error
	Remove(ctx context.Context, channelID, memberID string) error
	List(ctx context.Context, channelID string) ([]string, error)
}

// RedisMemberSet keeps channel membership in a Redis set.
type RedisMemberSet struct {
	Client *redis.Client
}

func (s *RedisMemberSet) Add(ctx context.Context, channelID, memberID string) error {
	key := presenceTopicPrefix + channelID
	if err := s.Client.SAdd(ctx, key, memberID).Err(); err != nil {
		return err
	}
	return s.Client.Expire(ctx, key, presenceKeyTTL).Err()
}

func (s *RedisMemberSet) Remove(ctx context.Context, channelID, memberID string) error {
	return s.Client.SRem(ctx, presenceTopicPrefix+channelID, memberID).Err()
}

func (s *RedisMemberSet) List(ctx context.Context, channelID string) ([]string, error) {
	return s.Client.SMembers(ctx, presenceTopicPrefix+channelID).Result()
}

// MemoryMemberSet is the in-process MemberSet for tests and the
// simulation harness.
type MemoryMemberSet struct {
	mu       sync.Mutex
	channels map[string]map[string]struct{}
}

func NewMemoryMemberSet() *MemoryMemberSet {
	return &MemoryMemberSet{channels: make(map[string]map[string]struct{})}
}

func (s *MemoryMemberSet) Add(_ context.Context, channelID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[channelID] == nil {
		s.channels[channelID] = make(map[string]struct{})
	}
	s.channels[channelID][memberID] = struct{}{}
	return nil
}

func (s *MemoryMemberSet) Remove(_ context.Context, channelID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels[channelID], memberID)
	return nil
}

func (s *MemoryMemberSet) List(_ context.Context, channelID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]string, 0, len(s.channels[channelID]))
	for id := range s.channels[channelID] {
		members = append(members, id)
	}
	return members, nil
}

// PresenceService implements Presence over a Bus and a MemberSet. Nothing
// is persisted: a membership exists only while the client holds it.
type PresenceService struct {
	members MemberSet
	bus     Bus
	logger  *zap.Logger
}

var _ Presence = (*PresenceService)(nil)

// NewPresenceService builds the presence capability.
func NewPresenceService(members MemberSet, bus Bus, logger *zap.Logger) *PresenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceService{members: members, bus: bus, logger: logger}
}

// Join attaches to a channel: announces the member, replays members that
// were already attached as join events, then streams live changes. Own
// events are filtered out.
func (p *PresenceService) Join(ctx context.Context, channelID, memberID string) (*Membership, error) {
	topic := presenceTopicPrefix + channelID

	busSub, err := p.bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe presence %s: %w", channelID, err)
	}
	if err := p.members.Add(ctx, channelID, memberID); err != nil {
		_ = busSub.Close()
		return nil, fmt.Errorf("join presence %s: %w", channelID, err)
	}
	if err := p.publish(ctx, topic, PresenceEvent{Kind: PresenceJoin, MemberID: memberID}); err != nil {
		_ = p.members.Remove(ctx, channelID, memberID)
		_ = busSub.Close()
		return nil, fmt.Errorf("announce presence %s: %w", channelID, err)
	}

	existing, err := p.members.List(ctx, channelID)
	if err != nil {
		p.logger.Warn("presence sync failed", zap.String("channel_id", channelID), zap.Error(err))
	}

	memberCtx, cancel := context.WithCancel(context.Background())
	membership := &Membership{events: make(chan PresenceEvent, 16)}
	membership.leave = func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer leaveCancel()
		if err := p.members.Remove(leaveCtx, channelID, memberID); err != nil {
			p.logger.Warn("presence remove failed", zap.String("channel_id", channelID), zap.Error(err))
		}
		if err := p.publish(leaveCtx, topic, PresenceEvent{Kind: PresenceLeave, MemberID: memberID}); err != nil {
			p.logger.Warn("presence leave announce failed", zap.String("channel_id", channelID), zap.Error(err))
		}
		cancel()
	}

	go func() {
		defer close(membership.events)
		defer func() { _ = busSub.Close() }()

		joined := make(map[string]bool)
		emit := func(ev PresenceEvent) {
			if ev.MemberID == memberID {
				return
			}
			switch ev.Kind {
			case PresenceJoin:
				if joined[ev.MemberID] {
					return
				}
				joined[ev.MemberID] = true
			case PresenceLeave:
				if !joined[ev.MemberID] {
					return
				}
				delete(joined, ev.MemberID)
			}
			select {
			case membership.events <- ev:
			case <-memberCtx.Done():
			}
		}

		for _, id := range existing {
			emit(PresenceEvent{Kind: PresenceJoin, MemberID: id})
		}
		for {
			select {
			case <-memberCtx.Done():
				return
			case payload, ok := <-busSub.Payloads():
				if !ok {
					return
				}
				var ev PresenceEvent
				if err := json.Unmarshal(payload, &ev); err != nil {
					p.logger.Warn("bad presence event", zap.String("channel_id", channelID), zap.Error(err))
					continue
				}
				emit(ev)
			}
		}
	}()

	return membership, nil
}

func (p *PresenceService) publish(ctx context.Context, topic string, ev PresenceEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, topic, raw)
}
