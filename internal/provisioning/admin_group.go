package provisioning

import (
	"context"
	"fmt"
	"time"

	"tenant-provisioning/internal/common/errors"
	"tenant-provisioning/internal/common/logger"
)

// assignAttempts is the first add-to-group call plus one retry.
const assignAttempts = 2

// AdminGroupService makes the acting principal a member of the org's
// privileged group.
type AdminGroupService struct {
	identity  IdentityService
	groupName string
	backoff   time.Duration
	logger    logger.Logger
}

func NewAdminGroupService(identity IdentityService, groupName string, backoff time.Duration, log logger.Logger) *AdminGroupService {
	if groupName == "" {
		groupName = DefaultAdminGroupName
	}
	return &AdminGroupService{
		identity:  identity,
		groupName: groupName,
		backoff:   backoff,
		logger:    log,
	}
}

// GroupPath is the hierarchical path of the admin group inside orgID.
func (s *AdminGroupService) GroupPath(orgID string) string {
	return fmt.Sprintf("/%s/%s", orgID, s.groupName)
}

// Ensure finds or creates the admin group, assigns principalID to it and
// verifies the assignment. It never fails; problems are on the outcome.
func (s *AdminGroupService) Ensure(ctx context.Context, orgID, principalID string) AdminGroupAssignmentOutcome {
	out := AdminGroupAssignmentOutcome{GroupName: s.groupName}
	log := s.logger.WithFields(map[string]interface{}{
		logger.FieldOrgID: orgID,
		"group":           s.groupName,
	})

	groupID, created, err := s.findOrCreate(ctx, orgID)
	if err != nil {
		out.Error = errors.NewAdminGroupAssignmentFailedError(s.groupName, err).Error()
		log.Warn("Admin group unavailable", map[string]interface{}{"error": err.Error()})
		return out
	}
	out.GroupID = groupID
	out.WasCreated = created

	if err := s.assign(ctx, principalID, groupID, &out); err != nil {
		out.Error = errors.NewAdminGroupAssignmentFailedError(s.groupName, err).Error()
		log.Warn("Admin group assignment failed", map[string]interface{}{
			logger.FieldGroupID: groupID,
			"attempts":          out.Attempts,
			"error":             err.Error(),
		})
		return out
	}
	out.AssignmentSucceeded = true

	out.VerificationPassed = s.verify(ctx, principalID, groupID, log)
	return out
}

// findOrCreate returns the id of the group at GroupPath(orgID). A create
// conflict means another writer won the race, so the group is looked up
// again.
func (s *AdminGroupService) findOrCreate(ctx context.Context, orgID string) (string, bool, error) {
	path := s.GroupPath(orgID)

	id, err := s.lookup(ctx, path)
	if err != nil {
		return "", false, err
	}
	if id != "" {
		return id, false, nil
	}

	id, err = s.identity.CreateGroup(ctx, path)
	if err == nil {
		return id, true, nil
	}
	if errors.CodeOf(err) != errors.ErrCodeIdentityConflict {
		return "", false, fmt.Errorf("create group %s: %w", path, err)
	}

	id, err = s.lookup(ctx, path)
	if err != nil {
		return "", false, err
	}
	if id == "" {
		return "", false, fmt.Errorf("group %s reported as existing but not found", path)
	}
	return id, false, nil
}

func (s *AdminGroupService) lookup(ctx context.Context, path string) (string, error) {
	groups, err := s.identity.SearchGroups(ctx, s.groupName)
	if err != nil {
		return "", fmt.Errorf("search groups %q: %w", s.groupName, err)
	}
	for _, g := range groups {
		if g.Path == path {
			return g.ID, nil
		}
	}
	return "", nil
}

func (s *AdminGroupService) assign(ctx context.Context, principalID, groupID string, out *AdminGroupAssignmentOutcome) error {
	var err error
	for attempt := 1; attempt <= assignAttempts; attempt++ {
		out.Attempts = attempt
		if err = s.identity.AddUserToGroup(ctx, principalID, groupID); err == nil {
			return nil
		}
		if attempt == assignAttempts {
			break
		}

		timer := time.NewTimer(s.backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (retry abandoned: %v)", err, ctx.Err())
		}
	}
	return err
}

func (s *AdminGroupService) verify(ctx context.Context, principalID, groupID string, log logger.Logger) bool {
	groups, err := s.identity.ListUserGroups(ctx, principalID)
	if err != nil {
		log.Warn("Admin group verification read failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	for _, g := range groups {
		if g.ID == groupID {
			return true
		}
	}
	log.Warn("Admin group membership not visible after assignment", map[string]interface{}{
		logger.FieldGroupID: groupID,
	})
	return false
}
