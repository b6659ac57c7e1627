package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/identity"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// clientRoles are the client roles provisioned on every tenant's identity
// provider client.
var clientRoles = []string{
	string(models.RoleOwner),
	string(models.RoleMember),
	string(models.RoleViewer),
}

// identityIDAttempts bounds the collision-regeneration loop for group and
// client ids.
const identityIDAttempts = 5

// actionEmailLifespan is how long the provider's set-password link stays
// valid.
const actionEmailLifespan = 72 * time.Hour

// RegistrationParams creates a new tenant with its first OWNER.
type RegistrationParams struct {
	TenantName     string
	OwnerEmail     string
	OwnerFirstName string
	OwnerLastName  string
	OnTrial        bool
}

// Register runs the tenant registration saga: catalog rows, data partition,
// identity provider mirror and the owning user, in that order.
func (r *Runner) Register(ctx context.Context, params RegistrationParams, actor Actor) (*Result, error) {
	if params.TenantName == "" || params.OwnerEmail == "" {
		return nil, fmt.Errorf("%w: tenant name and owner email are required", ErrInvalidParams)
	}

	schemaName, err := r.deriveSchemaName(ctx, schemaSlug(params.TenantName))
	if err != nil {
		return nil, err
	}

	s := r.newRun(SagaTenantRegistration, schemaName, actor)
	if err := s.begin(ctx); err != nil {
		return s.result, nil
	}

	now := r.now()
	org := &models.Organization{
		ID:        uuid.New(),
		Name:      params.TenantName,
		CreatedAt: now,
	}
	tenant := &models.Tenant{
		ID:             uuid.New(),
		SchemaName:     schemaName,
		Name:           params.TenantName,
		OnTrial:        params.OnTrial,
		OrganizationID: &org.ID,
		CreatedAt:      now,
	}

	err = s.step(ctx, "create_catalog_rows", func(ctx context.Context) error {
		if err := r.stores.Organizations.Create(ctx, org); err != nil {
			return err
		}
		return r.stores.Tenants.Create(ctx, tenant)
	})
	if err != nil {
		return s.result, nil
	}

	err = s.step(ctx, "create_partition", func(ctx context.Context) error {
		return r.stores.Partitions.CreatePartition(ctx, schemaName)
	})
	if err != nil {
		return s.result, nil
	}

	owner, created, err := r.ensureUser(ctx, s, params.OwnerEmail, params.OwnerFirstName, params.OwnerLastName)
	if err != nil {
		return s.result, nil
	}

	err = s.step(ctx, "create_owner_membership", func(ctx context.Context) error {
		err := r.stores.Memberships.Create(ctx, &models.Membership{
			UserID:    owner.ID,
			TenantID:  tenant.ID,
			Role:      models.RoleOwner,
			CreatedAt: r.now(),
		})
		if err != nil && !errors.Is(err, store.ErrMembershipAlreadyExists) {
			return err
		}
		return r.stores.Memberships.UpsertRoleAssignment(ctx, &models.RoleAssignment{
			UserID:   owner.ID,
			TenantID: tenant.ID,
			Role:     models.RoleOwner,
		})
	})
	if err != nil {
		return s.result, nil
	}

	s.provisionTenantIdentity(ctx, tenant)
	s.wireUserIntoTenant(ctx, tenant, owner, models.RoleOwner)

	if created {
		s.bestEffort(ctx, "send_password_notification", func(ctx context.Context) error {
			return r.idp.SendExecuteActionsEmail(ctx, owner.KeycloakID,
				[]string{identity.ActionUpdatePassword}, actionEmailLifespan)
		})
	}

	s.result.detail("tenant_id", tenant.ID.String())
	s.result.detail("schema_name", schemaName)
	s.result.detail("owner_username", owner.Username)
	s.partitionLog(ctx, schemaName, models.AuditCompleted, s.result.Details)
	s.complete(ctx)
	return s.result, nil
}

// deriveSchemaName de-duplicates a schema slug against both the catalog and
// any physically present partition.
func (r *Runner) deriveSchemaName(ctx context.Context, base string) (string, error) {
	return dedupe(ctx, base, func(ctx context.Context, candidate string) (bool, error) {
		taken, err := r.stores.Tenants.SchemaExists(ctx, candidate)
		if err != nil || taken {
			return taken, err
		}
		return r.stores.Partitions.PartitionExists(ctx, candidate)
	})
}

// ensureUser finds or creates the identity-provider account and its local
// mirror for an email. The account is created without a usable password,
// flagged to require a password-set action. Reports whether the provider
// account is new.
func (r *Runner) ensureUser(ctx context.Context, s *run, email, firstName, lastName string) (*models.User, bool, error) {
	if existing, err := r.stores.Users.GetByEmail(ctx, email); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		s.fail(ctx, "ensure_user", err)
		return nil, false, err
	}

	username, err := dedupe(ctx, usernameFromEmail(email), r.stores.Users.UsernameExists)
	if err != nil {
		s.fail(ctx, "derive_username", err)
		return nil, false, err
	}

	var keycloakID string
	created := true
	err = s.step(ctx, "create_provider_user", func(ctx context.Context) error {
		if existing, err := r.idp.GetUserByEmail(ctx, email); err == nil {
			keycloakID = existing.ID
			username = existing.Username
			created = false
			return nil
		} else if !errors.Is(err, identity.ErrNotFound) {
			return err
		}
		id, err := r.idp.CreateUser(ctx, identity.User{
			Username:  username,
			Email:     email,
			FirstName: firstName,
			LastName:  lastName,
		}, []string{identity.ActionUpdatePassword})
		if err != nil {
			return err
		}
		keycloakID = id
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	user := &models.User{
		ID:         uuid.New(),
		Username:   username,
		Email:      email,
		KeycloakID: keycloakID,
		Active:     true,
		CreatedAt:  r.now(),
	}
	err = s.step(ctx, "create_local_user", func(ctx context.Context) error {
		err := r.stores.Users.Create(ctx, user)
		if errors.Is(err, store.ErrUserAlreadyExists) {
			existing, getErr := r.stores.Users.GetByUsername(ctx, username)
			if getErr != nil {
				return err
			}
			user = existing
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return user, created, nil
}

// provisionTenantIdentity mirrors the tenant into the identity provider:
// organization, group and client, plus the client roles. Group and client
// ids must never collide with another tenant's; collisions are resolved by
// regeneration, bounded by identityIDAttempts. The whole mirror is
// best-effort: a tenant without provider ids is valid and can be repaired by
// a later run.
func (s *run) provisionTenantIdentity(ctx context.Context, tenant *models.Tenant) Outcome {
	r := s.r
	return s.bestEffort(ctx, "provision_identity_provider", func(ctx context.Context) error {
		if tenant.KeycloakGroupID != nil && tenant.KeycloakClientID != nil {
			return nil
		}

		if _, err := r.idp.CreateOrganization(ctx, tenant.Name, tenant.SchemaName, tenant.SchemaName+".local"); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}

		var groupID, clientID string
		for attempt := 1; ; attempt++ {
			g, err := r.idp.CreateGroup(ctx, tenant.SchemaName)
			if err != nil {
				return fmt.Errorf("create group: %w", err)
			}
			c, err := r.idp.CreateClient(ctx, tenant.SchemaName, clientRoles)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}

			inUse, err := r.stores.Tenants.IdentityIDsInUse(ctx, g, c)
			if err != nil {
				return err
			}
			if !inUse {
				groupID, clientID = g, c
				break
			}
			if attempt >= identityIDAttempts {
				return fmt.Errorf("identity ids still colliding after %d attempts", identityIDAttempts)
			}
			// regenerate, never fail outright on a collision
			_, _ = r.idp.DeleteGroup(ctx, g)
			_, _ = r.idp.DeleteClient(ctx, c)
		}

		tenant.KeycloakGroupID = &groupID
		tenant.KeycloakClientID = &clientID
		return r.stores.Tenants.Update(ctx, tenant)
	})
}

// wireUserIntoTenant adds the user to the tenant's provider organization and
// group and grants the role's client role. Each sub-step is best-effort.
func (s *run) wireUserIntoTenant(ctx context.Context, tenant *models.Tenant, user *models.User, role models.Role) {
	r := s.r
	s.bestEffort(ctx, "add_to_organization", func(ctx context.Context) error {
		return r.idp.AddUserToOrganization(ctx, user.KeycloakID, tenant.Name)
	})
	if tenant.KeycloakGroupID != nil {
		s.bestEffort(ctx, "add_to_group", func(ctx context.Context) error {
			return r.idp.AddUserToGroup(ctx, user.KeycloakID, *tenant.KeycloakGroupID)
		})
	}
	if tenant.KeycloakClientID != nil {
		s.bestEffort(ctx, "assign_client_role", func(ctx context.Context) error {
			return r.idp.AssignClientRole(ctx, user.KeycloakID, *tenant.KeycloakClientID, string(role))
		})
	}
}
