package identity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Provider for tests and local development. Operations
// can be scripted to fail by name, and every call is recorded.
type Fake struct {
	mu sync.Mutex

	users       map[string]*User           // by id
	groups      map[string]string          // id -> name
	clients     map[string]string          // internal id -> clientId
	clientRoles map[string]map[string]bool // internal id -> role set
	orgs        map[string]string          // id -> name
	orgMembers  map[string]map[string]bool // org id -> user ids
	groupUsers  map[string]map[string]bool // group id -> user ids
	userRoles   map[string]map[string]bool // userID -> "clientID/role"
	actions     map[string][]string        // userID -> required actions
	revoked     map[string]int             // userID -> session revocations
	emailsSent  map[string]int             // userID -> action emails sent

	failures map[string]error
	calls    []string
	seq      int
}

// NewFake creates an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		users:       make(map[string]*User),
		groups:      make(map[string]string),
		clients:     make(map[string]string),
		clientRoles: make(map[string]map[string]bool),
		orgs:        make(map[string]string),
		orgMembers:  make(map[string]map[string]bool),
		groupUsers:  make(map[string]map[string]bool),
		userRoles:   make(map[string]map[string]bool),
		actions:     make(map[string][]string),
		revoked:     make(map[string]int),
		emailsSent:  make(map[string]int),
		failures:    make(map[string]error),
	}
}

// FailOn scripts the named operation to return err on every call until
// cleared with FailOn(op, nil).
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Calls returns the operations invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// RevokedSessions returns how many times sessions were revoked for the user.
func (f *Fake) RevokedSessions(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[userID]
}

// ActionEmails returns how many action emails were sent to the user.
func (f *Fake) ActionEmails(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emailsSent[userID]
}

// UserByID returns a copy of the stored user, or nil.
func (f *Fake) UserByID(id string) *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// HasGroup reports whether the group id still exists.
func (f *Fake) HasGroup(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.groups[id]
	return ok
}

// HasClient reports whether the client internal id still exists.
func (f *Fake) HasClient(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.clients[id]
	return ok
}

// HasRole reports whether the user holds the client role.
func (f *Fake) HasRole(userID, clientID, role string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userRoles[userID][clientID+"/"+role]
}

func (f *Fake) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if err, ok := f.failures[op]; ok {
		return err
	}
	return nil
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *Fake) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	if err := f.begin("GetUserByUsername"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *Fake) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if err := f.begin("GetUserByEmail"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *Fake) CreateUser(ctx context.Context, user User, requiredActions []string) (string, error) {
	if err := f.begin("CreateUser"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.Username == user.Username {
			return id, nil
		}
	}
	id := f.nextID("user")
	user.ID = id
	user.Enabled = true
	f.users[id] = &user
	f.actions[id] = append([]string(nil), requiredActions...)
	return id, nil
}

func (f *Fake) SetRequiredActions(ctx context.Context, userID string, actions []string) error {
	if err := f.begin("SetRequiredActions"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		return ErrNotFound
	}
	f.actions[userID] = append([]string(nil), actions...)
	return nil
}

func (f *Fake) SendExecuteActionsEmail(ctx context.Context, userID string, actions []string, lifespan time.Duration) error {
	if err := f.begin("SendExecuteActionsEmail"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		return ErrNotFound
	}
	f.emailsSent[userID]++
	return nil
}

func (f *Fake) setEnabled(op, userID string, enabled bool) error {
	if err := f.begin(op); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Enabled = enabled
	return nil
}

func (f *Fake) EnableUser(ctx context.Context, userID string) error {
	return f.setEnabled("EnableUser", userID, true)
}

func (f *Fake) DisableUser(ctx context.Context, userID string) error {
	return f.setEnabled("DisableUser", userID, false)
}

func (f *Fake) DeleteUser(ctx context.Context, userID string) error {
	if err := f.begin("DeleteUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	delete(f.actions, userID)
	delete(f.userRoles, userID)
	return nil
}

func (f *Fake) RevokeSessions(ctx context.Context, userID string) error {
	if err := f.begin("RevokeSessions"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[userID]++
	return nil
}

func (f *Fake) CreateOrganization(ctx context.Context, name, alias, domain string) (string, error) {
	if err := f.begin("CreateOrganization"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("org")
	f.orgs[id] = name
	f.orgMembers[id] = make(map[string]bool)
	return id, nil
}

func (f *Fake) DeleteOrganizationByName(ctx context.Context, name string) (bool, error) {
	if err := f.begin("DeleteOrganizationByName"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, n := range f.orgs {
		if n == name {
			delete(f.orgs, id)
			delete(f.orgMembers, id)
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) AddUserToOrganization(ctx context.Context, userID, orgName string) error {
	if err := f.begin("AddUserToOrganization"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, n := range f.orgs {
		if n == orgName {
			f.orgMembers[id][userID] = true
			return nil
		}
	}
	return ErrNotFound
}

func (f *Fake) RemoveUserFromOrganization(ctx context.Context, userID, orgName string) error {
	if err := f.begin("RemoveUserFromOrganization"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, n := range f.orgs {
		if n == orgName {
			delete(f.orgMembers[id], userID)
		}
	}
	return nil
}

func (f *Fake) CreateGroup(ctx context.Context, name string) (string, error) {
	if err := f.begin("CreateGroup"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("group")
	f.groups[id] = name
	f.groupUsers[id] = make(map[string]bool)
	return id, nil
}

func (f *Fake) DeleteGroup(ctx context.Context, groupID string) (bool, error) {
	if err := f.begin("DeleteGroup"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[groupID]; !ok {
		return false, nil
	}
	delete(f.groups, groupID)
	delete(f.groupUsers, groupID)
	return true, nil
}

func (f *Fake) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	if err := f.begin("AddUserToGroup"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.groupUsers[groupID]
	if !ok {
		return ErrNotFound
	}
	members[userID] = true
	return nil
}

func (f *Fake) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	if err := f.begin("RemoveUserFromGroup"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if members, ok := f.groupUsers[groupID]; ok {
		delete(members, userID)
	}
	return nil
}

func (f *Fake) CreateClient(ctx context.Context, clientID string, roles []string) (string, error) {
	if err := f.begin("CreateClient"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("client")
	f.clients[id] = clientID
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}
	f.clientRoles[id] = roleSet
	return id, nil
}

func (f *Fake) DeleteClient(ctx context.Context, id string) (bool, error) {
	if err := f.begin("DeleteClient"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[id]; !ok {
		return false, nil
	}
	delete(f.clients, id)
	delete(f.clientRoles, id)
	return true, nil
}

func (f *Fake) AssignClientRole(ctx context.Context, userID, clientID, role string) error {
	if err := f.begin("AssignClientRole"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.clientRoles[clientID][role] {
		return ErrNotFound
	}
	if f.userRoles[userID] == nil {
		f.userRoles[userID] = make(map[string]bool)
	}
	f.userRoles[userID][clientID+"/"+role] = true
	return nil
}

func (f *Fake) RemoveClientRole(ctx context.Context, userID, clientID, role string) error {
	if err := f.begin("RemoveClientRole"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.userRoles[userID], clientID+"/"+role)
	return nil
}

var _ Provider = (*Fake)(nil)
