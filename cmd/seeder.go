package cmd

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/frahmantamala/expense-approval/internal"
	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
	userDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/user"
	"github.com/frahmantamala/expense-approval/internal/category"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/organization"
	"github.com/frahmantamala/expense-approval/internal/user"
	userPostgres "github.com/frahmantamala/expense-approval/internal/user/postgres"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const (
	seedPassword = "password"
	seedOrgName  = "Acme Corp"
	seedReceipt  = "receipts/seed/taxi-receipt.pdf"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long: `Seed the database with sample users, one organization, expense categories
and a personal draft for development and testing purposes. Safe to run repeatedly.`,
	RunE: runSeed,
}

type seedUser struct {
	email string
	name  string
	role  organization.Role
}

var seedUsers = []seedUser{
	{email: "olivia@mail.com", name: "Olivia Owner", role: organization.RoleOwner},
	{email: "padil@mail.com", name: "Padil Admin", role: organization.RoleAdmin},
	{email: "fadhil@mail.com", name: "Fadhil", role: organization.RoleMember},
}

var seedCategories = []category.CreateCategoryDTO{
	{Name: "travel", Description: "Flights, trains and taxis"},
	{Name: "lodging", Description: "Hotels and short stays"},
	{Name: "meals", Description: "Meals while travelling or with clients"},
	{Name: "office", Description: "Office supplies and equipment"},
	{Name: "other", Description: "Anything that fits nowhere else"},
}

// seedTables is ordered children first so deletes respect foreign keys.
var seedTables = []string{
	"linking_notifications",
	"expense_audit_entries",
	"expense_line_items",
	"expenses",
	"organization_audit_events",
	"organization_members",
	"organizations",
	"expense_categories",
	"users",
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	deps, err := initializeDependencies(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	services := buildServices(deps)
	registerSubscribers(deps.Bus, services.Linking, deps.Logger)
	out := cmd.OutOrStdout()

	if clearData {
		if err := clearSeedData(ctx, deps.Gorm); err != nil {
			return err
		}
		fmt.Fprintln(out, "Cleared existing data")
	}

	hash, err := services.Auth.HashPassword(seedPassword)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	users := userPostgres.NewRepository(deps.Gorm)
	ids := make(map[string]string, len(seedUsers))
	for _, su := range seedUsers {
		id, created, err := ensureUser(ctx, deps.Gorm, users, su, hash)
		if err != nil {
			return err
		}
		ids[su.email] = id
		if created {
			fmt.Fprintln(out, "Seeded user:", su.email)
		}
	}

	for _, dto := range seedCategories {
		if _, err := services.Category.Create(ctx, dto); err != nil {
			return fmt.Errorf("seed category %s: %w", dto.Name, err)
		}
	}
	fmt.Fprintf(out, "Seeded %d categories\n", len(seedCategories))

	// The personal draft goes in before the membership so joining the
	// organization raises a pending linking notification.
	memberID := ids[seedUsers[2].email]
	if err := ensurePersonalDraft(ctx, deps, services.Expense, memberID); err != nil {
		return err
	}

	ownerID := ids[seedUsers[0].email]
	orgID, err := ensureOrganization(ctx, deps.Gorm, services.Organization, ownerID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Organization:", seedOrgName, orgID)

	for _, su := range seedUsers[1:] {
		_, err := services.Organization.AddMember(ctx, ownerID, orgID, organization.AddMemberDTO{
			UserID: ids[su.email],
			Role:   su.role.String(),
		})
		var appErr *internal.AppError
		if stderrors.As(err, &appErr) && appErr.Code == internal.ErrCodeAlreadyMember {
			continue
		}
		if err != nil {
			return fmt.Errorf("add %s to organization: %w", su.email, err)
		}
		fmt.Fprintf(out, "Added %s as %s\n", su.email, su.role)
	}

	fmt.Fprintf(out, "Seeding complete. All users log in with %q\n", seedPassword)
	return nil
}

func clearSeedData(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range seedTables {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func ensureUser(ctx context.Context, db *gorm.DB, repo *userPostgres.Repository, su seedUser, hash string) (string, bool, error) {
	var existing userDatamodel.User
	err := db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", su.email).First(&existing).Error
	if err == nil {
		return existing.ID, false, nil
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, fmt.Errorf("look up %s: %w", su.email, err)
	}

	now := time.Now().UTC()
	u := &user.User{
		ID:           uuid.NewString(),
		Email:        su.email,
		Name:         su.name,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.Create(ctx, u); err != nil {
		return "", false, fmt.Errorf("create %s: %w", su.email, err)
	}
	return u.ID, true, nil
}

func ensureOrganization(ctx context.Context, db *gorm.DB, svc *organization.Service, ownerID string) (string, error) {
	var existing orgDatamodel.Organization
	err := db.WithContext(ctx).Where("name = ?", seedOrgName).First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("look up organization: %w", err)
	}

	org, err := svc.CreateOrganization(ctx, ownerID, organization.CreateOrganizationDTO{Name: seedOrgName})
	if err != nil {
		return "", fmt.Errorf("create organization: %w", err)
	}
	return org.ID, nil
}

func ensurePersonalDraft(ctx context.Context, deps *Dependencies, svc *expense.Service, ownerID string) error {
	mine, err := svc.ListMine(ctx, ownerID, 1, 0)
	if err != nil {
		return fmt.Errorf("list seed expenses: %w", err)
	}
	if len(mine) > 0 {
		return nil
	}

	receipt := []byte("%PDF-1.4\n% seeded taxi receipt\n")
	if err := deps.Store.Put(ctx, seedReceipt, bytes.NewReader(receipt), "application/pdf"); err != nil {
		return fmt.Errorf("store seed receipt: %w", err)
	}

	travel := "travel"
	desc := "Airport taxi"
	_, err = svc.CreateExpense(ctx, ownerID, expense.CreateExpenseDTO{
		Title: "Conference trip",
		LineItems: []expense.LineItemDTO{{
			Amount:      decimal.RequireFromString("42.50"),
			Date:        expense.NewDate(time.Now().UTC()),
			Description: &desc,
			Category:    &travel,
			Attachments: []string{seedReceipt},
		}},
	})
	if err != nil {
		return fmt.Errorf("create seed draft: %w", err)
	}
	return nil
}
