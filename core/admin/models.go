package admin

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/mtihani/core"
)

type Role string

// Roles
const (
	RolePrincipal Role = "principal"
	RoleHOD       Role = "hod"
)

type Admin struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (a *Admin) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Admin) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

// NewAdmin contains information needed to create a new Admin.
type NewAdmin struct {
	Username string `json:"username" validate:"notblank,min=3,max=64,alphanum_"`
	Role     Role   `json:"role" validate:"oneof=principal hod"`
	Password string `json:"password" validate:"required,min=8"`
}

func (na *NewAdmin) Validate(validate *validator.Validate) error {
	na.Username = core.CleanString(na.Username, true /* lower */)
	if na.Role == "" {
		na.Role = RolePrincipal
	}
	return validate.Struct(na)
}

type GetFilter struct {
	ID       string
	Username string
}
