package models

// User roles recognised by the platform.
const (
	RoleParent  = "parent"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// User represents a messaging participant (parent, teacher, or admin).
type User struct {
	BaseModel

	Name  string `gorm:"type:varchar(255);not null" json:"name"`
	Email string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Role  string `gorm:"type:varchar(32);not null;default:'parent'" json:"role"`
}

// Student represents a child linking a parent and a teacher. Messages may be
// tagged with a student to keep per-child threads separate.
type Student struct {
	BaseModel

	Name      string `gorm:"type:varchar(255);not null" json:"name"`
	ParentID  string `gorm:"type:uuid;index" json:"parent_id"`
	TeacherID string `gorm:"type:uuid;index" json:"teacher_id"`
}
