package echoapi

import (
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/student"
)

// Session roles
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

const tokenContextKey = "sessionToken"

func newJWTConfig(secretKey string) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(secretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	}
}

// Claims represents the authorization claims transmitted via a JWT.
// Students are identified by (Year, Subject); administrators by Subject alone.
type Claims struct {
	jwt.StandardClaims
	Role      string     `json:"role"`
	Year      int        `json:"year,omitempty"`
	RollNo    string     `json:"roll_no,omitempty"`
	Name      string     `json:"name,omitempty"`
	Username  string     `json:"username,omitempty"`
	AdminRole admin.Role `json:"admin_role,omitempty"`
}

func (c Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

func (c Claims) IsStudent() bool {
	return c.Role == RoleStudent
}

func (c Claims) person() core.LogPerson {
	if c.IsStudent() {
		return core.LogPerson{ID: c.Subject, Username: strconv.Itoa(c.Year) + "/" + c.RollNo}
	}
	return core.LogPerson{ID: c.Subject, Username: c.Username}
}

// tokenIssuer signs session tokens valid for the configured session TTL.
type tokenIssuer struct {
	issuer string
	key    []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(conf *core.Config) tokenIssuer {
	ttl := conf.Server.SessionTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return tokenIssuer{issuer: conf.AppName, key: []byte(conf.SecretKey), ttl: ttl, now: time.Now}
}

func (ti tokenIssuer) standardClaims(subject string) jwt.StandardClaims {
	now := ti.now()
	return jwt.StandardClaims{
		Issuer:    ti.issuer,
		Subject:   subject,
		ExpiresAt: now.Add(ti.ttl).Unix(),
		IssuedAt:  now.Unix(),
	}
}

func (ti tokenIssuer) StudentClaims(s student.Student) *Claims {
	return &Claims{
		StandardClaims: ti.standardClaims(s.ID),
		Role:           RoleStudent,
		Year:           s.Year,
		RollNo:         s.RollNo,
		Name:           s.Name,
	}
}

func (ti tokenIssuer) AdminClaims(adm admin.Admin) *Claims {
	return &Claims{
		StandardClaims: ti.standardClaims(adm.ID),
		Role:           RoleAdmin,
		Username:       adm.Username,
		AdminRole:      adm.Role,
	}
}

// Generate signs the claims.
func (ti tokenIssuer) Generate(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(ti.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// GenerateStudentToken returns a signed session token for the student.
func GenerateStudentToken(conf *core.Config, s student.Student) (string, error) {
	ti := newTokenIssuer(conf)
	return ti.Generate(ti.StudentClaims(s))
}

// GenerateAdminToken returns a signed session token for the administrator.
func GenerateAdminToken(conf *core.Config, adm admin.Admin) (string, error) {
	ti := newTokenIssuer(conf)
	return ti.Generate(ti.AdminClaims(adm))
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}
