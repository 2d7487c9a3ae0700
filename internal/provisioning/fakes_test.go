package provisioning

import (
	"context"
	"sync"
	"time"

	"tenant-provisioning/internal/common/appservice"
	"tenant-provisioning/internal/common/auth"
	"tenant-provisioning/internal/common/errors"
)

// fakeIdentity is an in-memory identity service. Hooks override the default
// behavior per call.
type fakeIdentity struct {
	mu     sync.Mutex
	calls  map[string]int
	orgs   []auth.Organization
	groups []auth.Group
	member map[string][]auth.Group

	createOrgErr    error
	searchOrgsErr   error
	searchOrgsEmpty bool
	addMemberErr    error
	searchGroupsErr error
	createGroupFn   func(path string) (string, error)
	addToGroupFn    func(attempt int) error
	listGroupsErr   error
	hideMembership  bool
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		calls:  map[string]int{},
		member: map[string][]auth.Group{},
	}
}

func (f *fakeIdentity) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeIdentity) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeIdentity) CreateOrganization(_ context.Context, org auth.Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateOrganization"]++
	if f.createOrgErr != nil {
		return f.createOrgErr
	}
	for _, o := range f.orgs {
		if o.Name == org.Name {
			return errors.NewConflictError("keycloak", "organization exists")
		}
	}
	org.ID = "org-" + org.Alias
	f.orgs = append(f.orgs, org)
	return nil
}

func (f *fakeIdentity) SearchOrganizations(_ context.Context, name string) ([]auth.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SearchOrganizations"]++
	if f.searchOrgsErr != nil {
		return nil, f.searchOrgsErr
	}
	if f.searchOrgsEmpty {
		return nil, nil
	}
	return append([]auth.Organization(nil), f.orgs...), nil
}

func (f *fakeIdentity) AddOrganizationMember(_ context.Context, orgID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["AddOrganizationMember"]++
	return f.addMemberErr
}

func (f *fakeIdentity) SearchGroups(_ context.Context, name string) ([]auth.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SearchGroups"]++
	if f.searchGroupsErr != nil {
		return nil, f.searchGroupsErr
	}
	var out []auth.Group
	for _, g := range f.groups {
		if g.Name == name {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeIdentity) CreateGroup(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	f.calls["CreateGroup"]++
	fn := f.createGroupFn
	f.mu.Unlock()

	if fn != nil {
		return fn(path)
	}
	return f.addGroup(path), nil
}

func (f *fakeIdentity) addGroup(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "grp-" + path
	name := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			name = path[i+1:]
			break
		}
	}
	f.groups = append(f.groups, auth.Group{ID: id, Name: name, Path: path})
	return id
}

func (f *fakeIdentity) AddUserToGroup(_ context.Context, userID, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["AddUserToGroup"]++
	if f.addToGroupFn != nil {
		if err := f.addToGroupFn(f.calls["AddUserToGroup"]); err != nil {
			return err
		}
	}
	f.member[userID] = append(f.member[userID], auth.Group{ID: groupID})
	return nil
}

func (f *fakeIdentity) ListUserGroups(_ context.Context, userID string) ([]auth.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListUserGroups"]++
	if f.listGroupsErr != nil {
		return nil, f.listGroupsErr
	}
	if f.hideMembership {
		return nil, nil
	}
	return f.member[userID], nil
}

// fakeApp is a scripted application service.
type fakeApp struct {
	mu sync.Mutex

	createCalls int
	createReqs  []appservice.CreateTenantRequest
	createFn    func(ctx context.Context) (int64, error)

	// progress is consumed one entry per read; the last entry repeats.
	progress   []progressRead
	readCalls  int
	readNotify chan struct{}
}

type progressRead struct {
	status string
	err    error
}

func (f *fakeApp) CreateTenant(ctx context.Context, req appservice.CreateTenantRequest) (int64, error) {
	f.mu.Lock()
	f.createCalls++
	f.createReqs = append(f.createReqs, req)
	fn := f.createFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return 42, nil
}

func (f *fakeApp) ReadProgress(ctx context.Context, tenantName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readNotify != nil {
		select {
		case f.readNotify <- struct{}{}:
		default:
		}
	}
	if len(f.progress) == 0 {
		return "", nil
	}
	next := f.progress[0]
	if len(f.progress) > 1 {
		f.progress = f.progress[1:]
	}
	return next.status, next.err
}

func (f *fakeApp) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeApp) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls
}

// memoryLedger records ledger calls.
type memoryLedger struct {
	mu      sync.Mutex
	started []string
	steps   []recordedStep
	results []RunResult
	err     error
}

type recordedStep struct {
	name   string
	status StepStatus
	detail string
}

func (l *memoryLedger) StartRun(_ context.Context, runID string, _ ProvisioningRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, runID)
	return l.err
}

func (l *memoryLedger) RecordStep(_ context.Context, _ string, step string, status StepStatus, detail string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, recordedStep{name: step, status: status, detail: detail})
	return l.err
}

func (l *memoryLedger) FinishRun(_ context.Context, _ string, res RunResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, res)
	return l.err
}

func (l *memoryLedger) stepStatus(name string) StepStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.steps {
		if s.name == name {
			return s.status
		}
	}
	return ""
}
