package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/profiles"
	"marketplace-messaging/internal/repositories"
)

var (
	ErrConversationsUnavailable = errors.New("conversations unavailable")
	ErrProfilesUnavailable      = errors.New("profiles unavailable")
)

// Aggregator merges negotiations and contracts into one conversation list.
type Aggregator struct {
	repo     repositories.ConversationRepository
	profiles profiles.Lookup
}

// NewAggregator builds an Aggregator. lookup may be nil.
func NewAggregator(repo repositories.ConversationRepository, lookup profiles.Lookup) *Aggregator {
	return &Aggregator{repo: repo, profiles: lookup}
}

// Load returns every conversation visible to viewer, most recently active first.
// Negotiations and the contracts they turned into are both listed.
func (a *Aggregator) Load(ctx context.Context, viewer models.Viewer) ([]models.Conversation, error) {
	if !viewer.IsAdmin() && viewer.ID == "" {
		return []models.Conversation{}, nil
	}
	applicantID := scopeFor(viewer)

	negotiations, err := a.repo.ListNegotiations(ctx, applicantID)
	if err != nil {
		return nil, fmt.Errorf("%w: negotiations: %v", ErrConversationsUnavailable, err)
	}
	contracts, err := a.repo.ListContracts(ctx, applicantID)
	if err != nil {
		return nil, fmt.Errorf("%w: contracts: %v", ErrConversationsUnavailable, err)
	}

	list := make([]models.Conversation, 0, len(negotiations)+len(contracts))
	for _, n := range negotiations {
		list = append(list, models.ConversationFromNegotiation(n))
	}
	for _, c := range contracts {
		list = append(list, models.ConversationFromContract(c))
	}
	if viewer.IsAdmin() {
		for i := range list {
			list[i].AdminID = viewer.ID
		}
	}
	SortConversations(list)
	return list, nil
}

// Get returns one conversation if viewer may see it.
func (a *Aggregator) Get(ctx context.Context, viewer models.Viewer, key models.ConversationKey) (models.Conversation, error) {
	conv, err := a.repo.GetConversation(ctx, key)
	if err != nil {
		return models.Conversation{}, err
	}
	if !Visible(viewer, conv) {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	return conv, nil
}

// ResolveCounterparts fills in the profile of the other party on each
// conversation. Entries whose profile cannot be resolved are left without one.
func (a *Aggregator) ResolveCounterparts(ctx context.Context, viewer models.Viewer, list []models.Conversation) error {
	if a.profiles == nil || len(list) == 0 {
		return nil
	}

	if !viewer.IsAdmin() {
		admin, err := a.profiles.GetAdmin(ctx)
		if err != nil {
			return fmt.Errorf("%w: admin: %v", ErrProfilesUnavailable, err)
		}
		for i := range list {
			p := admin
			list[i].AdminID = admin.ID
			list[i].Counterpart = &p
		}
		return nil
	}

	var failed error
	resolved := make(map[string]*models.Profile)
	for i := range list {
		id := list[i].ApplicantID
		p, ok := resolved[id]
		if !ok {
			profile, err := a.profiles.GetProfile(ctx, id)
			if err != nil {
				failed = fmt.Errorf("%w: %s: %v", ErrProfilesUnavailable, id, err)
				resolved[id] = nil
				continue
			}
			p = &profile
			resolved[id] = p
		}
		if p != nil {
			cp := *p
			list[i].Counterpart = &cp
		}
	}
	return failed
}

// Visible applies the visibility rule: admins see everything, applicants only
// their own records.
func Visible(viewer models.Viewer, conv models.Conversation) bool {
	return viewer.IsAdmin() || conv.ApplicantID == viewer.ID
}

// SortConversations orders by last activity, newest first.
func SortConversations(list []models.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		ai, aj := list[i].ActivityAt(), list[j].ActivityAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return list[i].Key.String() < list[j].Key.String()
	})
}

func scopeFor(viewer models.Viewer) string {
	if viewer.IsAdmin() {
		return ""
	}
	return viewer.ID
}
