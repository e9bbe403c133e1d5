package migrations

import (
	"strings"
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// All returns the schema history of the blog.
func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{initialSchema(), userProfile(), seedRoles(), tagTitleKey()}
}

// Snapshots below freeze each table as it looked when the migration was written;
// later model changes must not alter what an old migration creates.

type user0001 struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"size:64;not null;uniqueIndex:idx_users_username"`
	Email        string `gorm:"size:255;not null;uniqueIndex:idx_users_email"`
	PasswordHash string `gorm:"size:255"`
	Confirmed    bool   `gorm:"not null;default:false"`
	Provider     string `gorm:"size:32"`
	ProviderID   string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (user0001) TableName() string { return "users" }

type role0001 struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:80;not null;uniqueIndex:idx_roles_name"`
	Description string `gorm:"size:255"`
}

func (role0001) TableName() string { return "roles" }

type roleUser0001 struct {
	UserID uint `gorm:"primaryKey;autoIncrement:false"`
	RoleID uint `gorm:"primaryKey;autoIncrement:false;index"`
}

func (roleUser0001) TableName() string { return "roles_users" }

type follow0001 struct {
	FollowerID uint `gorm:"primaryKey;autoIncrement:false"`
	FollowedID uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt  time.Time
}

func (follow0001) TableName() string { return "follows" }

type post0001 struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      uint      `gorm:"index;not null"`
	Title       string    `gorm:"size:255;not null"`
	Text        string    `gorm:"type:text;not null"`
	PublishDate time.Time `gorm:"index;not null"`
}

func (post0001) TableName() string { return "posts" }

type tag0001 struct {
	ID    uint   `gorm:"primaryKey"`
	Title string `gorm:"size:255;not null"`
}

func (tag0001) TableName() string { return "tags" }

type postTag0001 struct {
	PostID uint `gorm:"primaryKey;autoIncrement:false"`
	TagID  uint `gorm:"primaryKey;autoIncrement:false;index"`
}

func (postTag0001) TableName() string { return "posts_tags" }

type comment0001 struct {
	ID     uint      `gorm:"primaryKey"`
	PostID uint      `gorm:"index;not null"`
	UserID uint      `gorm:"index;not null"`
	Name   string    `gorm:"size:255;not null"`
	Text   string    `gorm:"type:text;not null"`
	Date   time.Time `gorm:"index;not null"`
}

func (comment0001) TableName() string { return "comments" }

func initialSchema() *gormigrate.Migration {
	tables := []any{
		&user0001{}, &role0001{}, &roleUser0001{}, &follow0001{},
		&post0001{}, &tag0001{}, &postTag0001{}, &comment0001{},
	}
	return &gormigrate.Migration{
		ID: "0001_initial",
		Migrate: func(tx *gorm.DB) error {
			return tx.Migrator().CreateTable(tables...)
		},
		Rollback: func(tx *gorm.DB) error {
			for i := len(tables) - 1; i >= 0; i-- {
				if err := tx.Migrator().DropTable(tables[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type user0002 struct {
	Name        string    `gorm:"size:64"`
	Location    string    `gorm:"size:64"`
	AboutMe     string    `gorm:"type:text"`
	AvatarHash  string    `gorm:"size:32"`
	MemberSince time.Time
	LastSeen    time.Time
}

func (user0002) TableName() string { return "users" }

var profileColumns = []string{"Name", "Location", "AboutMe", "AvatarHash", "MemberSince", "LastSeen"}

func userProfile() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "0002_user_profile",
		Migrate: func(tx *gorm.DB) error {
			for _, col := range profileColumns {
				if tx.Migrator().HasColumn(&user0002{}, col) {
					continue
				}
				if err := tx.Migrator().AddColumn(&user0002{}, col); err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			for i := len(profileColumns) - 1; i >= 0; i-- {
				if !tx.Migrator().HasColumn(&user0002{}, profileColumns[i]) {
					continue
				}
				if err := tx.Migrator().DropColumn(&user0002{}, profileColumns[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

var seededRoles = []role0001{
	{Name: "admin", Description: "Full access to every resource"},
	{Name: "poster", Description: "May write posts"},
	{Name: "default", Description: "Registered reader"},
}

func seedRoles() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "0003_seed_roles",
		Migrate: func(tx *gorm.DB) error {
			for _, r := range seededRoles {
				role := r
				if err := tx.Where(role0001{Name: role.Name}).FirstOrCreate(&role).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			names := make([]string, 0, len(seededRoles))
			for _, r := range seededRoles {
				names = append(names, r.Name)
			}
			return tx.Where("name IN ?", names).Delete(&role0001{}).Error
		},
	}
}

type tag0004 struct {
	ID       uint   `gorm:"primaryKey"`
	Title    string `gorm:"size:255;not null"`
	TitleKey string `gorm:"size:255;not null;default:'';uniqueIndex:idx_tags_title_key"`
}

func (tag0004) TableName() string { return "tags" }

func tagKey0004(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// tagTitleKey adds the normalised tag key. Tags whose keys collide are merged into
// the oldest one before the unique index is built.
func tagTitleKey() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "0004_tag_title_key",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Migrator().AddColumn(&tag0004{}, "TitleKey"); err != nil {
				return err
			}
			var tags []tag0004
			if err := tx.Order("id").Find(&tags).Error; err != nil {
				return err
			}
			keep := map[string]uint{}
			for _, t := range tags {
				key := tagKey0004(t.Title)
				first, dup := keep[key]
				if !dup {
					keep[key] = t.ID
					if err := tx.Model(&tag0004{ID: t.ID}).Update("title_key", key).Error; err != nil {
						return err
					}
					continue
				}
				if err := mergeTag0004(tx, t.ID, first); err != nil {
					return err
				}
			}
			return tx.Migrator().CreateIndex(&tag0004{}, "idx_tags_title_key")
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropIndex(&tag0004{}, "idx_tags_title_key"); err != nil {
				return err
			}
			return tx.Migrator().DropColumn(&tag0004{}, "TitleKey")
		},
	}
}

// mergeTag0004 moves the post links of tag from onto tag into and deletes from.
func mergeTag0004(tx *gorm.DB, from, into uint) error {
	var linked, moving []uint
	if err := tx.Model(&postTag0001{}).Where("tag_id = ?", into).Pluck("post_id", &linked).Error; err != nil {
		return err
	}
	if err := tx.Model(&postTag0001{}).Where("tag_id = ?", from).Pluck("post_id", &moving).Error; err != nil {
		return err
	}
	has := make(map[uint]bool, len(linked))
	for _, id := range linked {
		has[id] = true
	}
	for _, postID := range moving {
		if has[postID] {
			continue
		}
		if err := tx.Create(&postTag0001{PostID: postID, TagID: into}).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("tag_id = ?", from).Delete(&postTag0001{}).Error; err != nil {
		return err
	}
	return tx.Delete(&tag0004{}, from).Error
}
