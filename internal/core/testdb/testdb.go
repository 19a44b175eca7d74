// Package testdb opens throwaway SQLite databases with the full schema for repository and service tests.
package testdb

import (
	"fmt"
	"time"

	categoryDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/category"
	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	linkingDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/linking"
	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
	userDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/user"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a named in-memory database. One connection keeps every
// goroutine on the same schema and serializes transactions.
func Open() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&userDatamodel.User{},
		&orgDatamodel.Organization{},
		&orgDatamodel.Member{},
		&orgDatamodel.AuditEvent{},
		&categoryDatamodel.ExpenseCategory{},
		&expenseDatamodel.Expense{},
		&expenseDatamodel.LineItem{},
		&expenseDatamodel.AuditEntry{},
		&linkingDatamodel.Notification{},
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func CreateUser(db *gorm.DB, name string) (string, error) {
	now := time.Now().UTC()
	u := &userDatamodel.User{
		ID:           uuid.NewString(),
		Email:        fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()[:8]),
		Name:         name,
		PasswordHash: "x",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return u.ID, db.Create(u).Error
}

func CreateOrganization(db *gorm.DB, name string) (string, error) {
	now := time.Now().UTC()
	org := &orgDatamodel.Organization{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	return org.ID, db.Create(org).Error
}

func AddMember(db *gorm.DB, orgID, userID, role string) error {
	return db.Create(&orgDatamodel.Member{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		CreatedAt:      time.Now().UTC(),
	}).Error
}
