package model

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"cryptopatterns-api/db"
)

var ErrBadCredentials = errors.New("invalid username or password")

type User struct {
	gorm.Model
	Username     string `json:"username" gorm:"uniqueIndex"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	Name         string `json:"name"`
}

func init() {
	db.Migrate(&User{})
}

type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func jwtSecret() []byte {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("cryptopatterns-dev-secret")
}

// NewUser builds a user record with a bcrypt hash of the password.
func NewUser(username, password, role, name string) (User, error) {
	if username == "" {
		return User{}, errors.New("empty username")
	}
	if password == "" {
		return User{}, errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return User{Username: username, PasswordHash: string(hash), Role: role, Name: name}, nil
}

// CheckPassword verifies the password against the stored hash.
func (u User) CheckPassword(password string) error {
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}

func FindUserByUsername(username string) (User, error) {
	var user User
	tx := db.Resolve().Where("username = ?", username).Limit(1).Find(&user)
	if tx.Error != nil {
		return user, errors.Wrap(tx.Error, "finding user")
	}
	if tx.RowsAffected == 0 {
		return user, ErrNotFound
	}
	return user, nil
}

func SaveUser(user User, password string) (User, error) {
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return user, errors.Wrap(err, "hashing password")
		}
		user.PasswordHash = string(hash)
	}
	var tx *gorm.DB
	if user.ID > 0 {
		tx = db.Resolve().Save(&user)
	} else {
		tx = db.Resolve().Create(&user)
	}
	if tx.Error != nil {
		return user, errors.Wrap(tx.Error, "saving user")
	}
	return user, nil
}

// EnsureUser seeds a user when no record with the username exists yet; an
// existing record is left untouched. Login is impossible against a fresh
// database otherwise.
func EnsureUser(username, password, role, name string) error {
	if _, err := FindUserByUsername(username); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	user, err := NewUser(username, password, role, name)
	if err != nil {
		return errors.Wrap(err, "seeding user")
	}
	if _, err := SaveUser(user, ""); err != nil {
		return errors.Wrap(err, "seeding user")
	}
	return nil
}

// Authenticate verifies the credentials and returns a signed 24h token.
func Authenticate(username, password string) (User, string, error) {

	user, err := FindUserByUsername(username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return user, "", ErrBadCredentials
		}
		return user, "", err
	}

	if err := user.CheckPassword(password); err != nil {
		return user, "", err
	}

	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret())
	if err != nil {
		return user, "", errors.Wrap(err, "signing token")
	}

	return user, token, nil
}

func ParseToken(token string) (*Claims, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parsing token")
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
