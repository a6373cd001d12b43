// Package providertest provides a recording in-memory Provider used by unit
// tests and by local development mode.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfeidau/tenantd/internal/provider"
)

// Call records one invocation of a fake method.
type Call struct {
	Method string
	Args   map[string]string
}

// Fake is an in-memory Provider that records every call and supports
// scripted failures per method.
type Fake struct {
	mu sync.Mutex

	calls []Call

	orgs        map[string]provider.Organization
	users       map[string]provider.User
	memberships map[string]fakeMembership // membership ID -> record
	invites     map[string][]string       // org ID -> invited emails

	nextOrg        int
	nextMembership int

	// Errors to return per method; consumed on every call while set.
	Errors map[string]error

	// EmptyMembershipID makes AddMembership succeed but return "".
	EmptyMembershipID bool
}

type fakeMembership struct {
	OrgID  string
	UserID string
	Role   provider.Role
}

var _ provider.Provider = (*Fake)(nil)

// NewFake creates an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		orgs:        make(map[string]provider.Organization),
		users:       make(map[string]provider.User),
		memberships: make(map[string]fakeMembership),
		invites:     make(map[string][]string),
		Errors:      make(map[string]error),
	}
}

// SeedUser registers a provider user so GetUser can find it.
func (f *Fake) SeedUser(id, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = provider.User{ID: id, Email: email}
}

// Calls returns a copy of all recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of calls recorded for a method.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Invitations returns the emails invited to an organization.
func (f *Fake) Invitations(orgID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invites[orgID]...)
}

// HasMembership reports whether a membership ID still exists.
func (f *Fake) HasMembership(membershipID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.memberships[membershipID]
	return ok
}

// HasOrganization reports whether an organization ID still exists.
func (f *Fake) HasOrganization(orgID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.orgs[orgID]
	return ok
}

func (f *Fake) record(method string, args map[string]string) error {
	f.calls = append(f.calls, Call{Method: method, Args: args})
	if err := f.Errors[method]; err != nil {
		return err
	}
	return nil
}

func (f *Fake) CreateOrganization(ctx context.Context, name, slug string) (*provider.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateOrganization", map[string]string{"name": name, "slug": slug}); err != nil {
		return nil, err
	}

	f.nextOrg++
	org := provider.Organization{
		ID:   fmt.Sprintf("ext-org-%d", f.nextOrg),
		Name: name,
		Slug: slug,
	}
	f.orgs[org.ID] = org
	return &org, nil
}

func (f *Fake) UpdateOrganization(ctx context.Context, orgID string, patch provider.OrganizationPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	args := map[string]string{"org_id": orgID}
	if patch.Name != nil {
		args["name"] = *patch.Name
	}
	if patch.Slug != nil {
		args["slug"] = *patch.Slug
	}
	if patch.Status != nil {
		args["status"] = *patch.Status
	}
	if err := f.record("UpdateOrganization", args); err != nil {
		return err
	}

	org, ok := f.orgs[orgID]
	if !ok {
		return provider.ErrNotFound
	}
	if patch.Name != nil {
		org.Name = *patch.Name
	}
	if patch.Slug != nil {
		org.Slug = *patch.Slug
	}
	f.orgs[orgID] = org
	return nil
}

func (f *Fake) DeleteOrganization(ctx context.Context, orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("DeleteOrganization", map[string]string{"org_id": orgID}); err != nil {
		return err
	}

	if _, ok := f.orgs[orgID]; !ok {
		return provider.ErrNotFound
	}
	delete(f.orgs, orgID)
	for id, m := range f.memberships {
		if m.OrgID == orgID {
			delete(f.memberships, id)
		}
	}
	return nil
}

func (f *Fake) AddMembership(ctx context.Context, orgID, userID string, role provider.Role) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("AddMembership", map[string]string{"org_id": orgID, "user_id": userID, "role": string(role)}); err != nil {
		return "", err
	}

	if f.EmptyMembershipID {
		return "", nil
	}

	f.nextMembership++
	id := fmt.Sprintf("ext-mem-%d", f.nextMembership)
	f.memberships[id] = fakeMembership{OrgID: orgID, UserID: userID, Role: role}
	return id, nil
}

func (f *Fake) RemoveMembership(ctx context.Context, orgID, userID, membershipID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("RemoveMembership", map[string]string{"org_id": orgID, "user_id": userID, "membership_id": membershipID}); err != nil {
		return err
	}

	delete(f.memberships, membershipID)
	return nil
}

func (f *Fake) UpdateMembershipRole(ctx context.Context, orgID, userID, membershipID string, role provider.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("UpdateMembershipRole", map[string]string{"org_id": orgID, "user_id": userID, "membership_id": membershipID, "role": string(role)}); err != nil {
		return err
	}

	m, ok := f.memberships[membershipID]
	if !ok {
		return provider.ErrNotFound
	}
	m.Role = role
	f.memberships[membershipID] = m
	return nil
}

func (f *Fake) InviteOwner(ctx context.Context, orgID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("InviteOwner", map[string]string{"org_id": orgID, "email": email}); err != nil {
		return err
	}

	f.invites[orgID] = append(f.invites[orgID], email)
	return nil
}

func (f *Fake) GetUser(ctx context.Context, userID string) (*provider.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetUser", map[string]string{"user_id": userID}); err != nil {
		return nil, err
	}

	user, ok := f.users[userID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return &user, nil
}

func (f *Fake) ListOrganizations(ctx context.Context, limit, offset int) (*provider.OrganizationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ListOrganizations", map[string]string{}); err != nil {
		return nil, err
	}

	all := make([]provider.Organization, 0, len(f.orgs))
	for _, org := range f.orgs {
		all = append(all, org)
	}
	if offset >= len(all) {
		return &provider.OrganizationPage{NextOffset: offset}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return &provider.OrganizationPage{
		Organizations: all[offset:end],
		NextOffset:    end,
		HasMore:       end < len(all),
	}, nil
}
