package admin

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

var (
	// errors
	ErrNotFound           = core.NewError(core.KindNotFound, "administrator not found")
	ErrAdminExists        = core.NewError(core.KindConflict, "an administrator with this username already exists")
	ErrInvalidCredentials = core.NewError(core.KindUnauthorized, "invalid credentials")
)

type (
	Repository interface {
		CreateAdmin(ctx context.Context, adm Admin, exec ...core.DBExecutor) (Admin, error)
		GetAdmin(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Admin, error)
		UpdatePassword(ctx context.Context, id string, hash []byte, exec ...core.DBExecutor) error
		CountAdmins(ctx context.Context, exec ...core.DBExecutor) (int, error)
	}

	Service struct {
		repo     Repository
		validate *validator.Validate
		logger   core.Logger
	}
)

func NewService(repo Repository, validate *validator.Validate, logger core.Logger) *Service {
	return &Service{repo: repo, validate: validate, logger: logger}
}

func (svc *Service) Create(ctx context.Context, na NewAdmin) (Admin, error) {
	if err := na.Validate(svc.validate); err != nil {
		return Admin{}, err
	}
	if _, err := svc.repo.GetAdmin(ctx, GetFilter{Username: na.Username}); err == nil {
		return Admin{}, ErrAdminExists
	} else if errors.Cause(err) != ErrNotFound {
		return Admin{}, errors.Wrap(err, "checking username")
	}

	now := core.Now()
	adm := Admin{Username: na.Username, Role: na.Role, CreatedAt: now, UpdatedAt: now}
	if err := adm.SetPassword(na.Password); err != nil {
		return Admin{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateAdmin(ctx, adm)
}

func (svc *Service) Authenticate(ctx context.Context, username, pwd string) (Admin, error) {
	adm, err := svc.GetByUsername(ctx, username)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Admin{}, ErrInvalidCredentials
		}
		return Admin{}, errors.Wrap(err, "finding administrator")
	}
	if err = adm.CheckPassword(pwd); err != nil {
		return Admin{}, ErrInvalidCredentials
	}
	return adm, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Admin, error) {
	return svc.repo.GetAdmin(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsername(ctx context.Context, username string) (Admin, error) {
	return svc.repo.GetAdmin(ctx, GetFilter{Username: core.CleanString(username, true /* lower */)})
}

func (svc *Service) ResetPassword(ctx context.Context, username, pwd string) error {
	adm, err := svc.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err = svc.validate.Var(pwd, "required,min=8"); err != nil {
		return err
	}
	if err = adm.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	return svc.repo.UpdatePassword(ctx, adm.ID, adm.PasswordHash)
}

// EnsureDefault creates a principal account when no administrator exists yet.
// It is a no-op when username is empty or accounts already exist.
func (svc *Service) EnsureDefault(ctx context.Context, username, pwd string) (bool, error) {
	if username == "" {
		return false, nil
	}
	n, err := svc.repo.CountAdmins(ctx)
	if err != nil {
		return false, errors.Wrap(err, "counting administrators")
	}
	if n > 0 {
		return false, nil
	}
	if _, err = svc.Create(ctx, NewAdmin{Username: username, Role: RolePrincipal, Password: pwd}); err != nil {
		return false, errors.Wrap(err, "creating default administrator")
	}
	svc.logger.Info("created default administrator: " + username)
	return true, nil
}
