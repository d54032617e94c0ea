package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	// SessionName is the cookie carrying the LMS user session.
	SessionName = "superset_xblock_session"

	sessionKeyUsername = "username"
	sessionKeyRole     = "role"
	sessionKeyStaff    = "is_staff"

	// RoleStudent is the course role that never sees embedded dashboards.
	RoleStudent = "student"
	// RoleStaff is the course role of course authors and assistants.
	RoleStaff = "staff"
	// RoleInstructor is the course role of instructors.
	RoleInstructor = "instructor"

	contextKeyCurrentUser = "httpapi_current_user"
	authErrorUnauthorized = "unauthorized"
	authErrorForbidden    = "forbidden"
	logEventLoadSession   = "load_session"
	logEventSaveSession   = "save_session"
	sessionMaxAgeSeconds  = 8 * 60 * 60
)

// ErrMissingSessionSecret indicates the session store was configured without a signing key.
var ErrMissingSessionSecret = errors.New("httpapi: missing session secret")

// CurrentUser is the LMS user behind a request.
type CurrentUser struct {
	Username string
	Role     string
	IsStaff  bool
}

// CanViewDashboards reports whether the user belongs to course staff.
func (user CurrentUser) CanViewDashboards() bool {
	if user.IsStaff {
		return true
	}
	switch strings.ToLower(user.Role) {
	case RoleStaff, RoleInstructor:
		return true
	default:
		return false
	}
}

type AuthManager struct {
	logger       *zap.Logger
	sessionStore *sessions.CookieStore
}

func NewAuthManager(logger *zap.Logger, sessionSecret string, secureCookie bool) (*AuthManager, error) {
	if strings.TrimSpace(sessionSecret) == "" {
		return nil, ErrMissingSessionSecret
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store := sessions.NewCookieStore([]byte(sessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAgeSeconds,
		HttpOnly: true,
		Secure:   secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	return &AuthManager{
		logger:       logger,
		sessionStore: store,
	}, nil
}

// SaveUser writes user into the session cookie.
func (authManager *AuthManager) SaveUser(responseWriter http.ResponseWriter, request *http.Request, user CurrentUser) error {
	sessionInstance, sessionErr := authManager.sessionStore.Get(request, SessionName)
	if sessionErr != nil {
		authManager.logger.Warn(logEventLoadSession, zap.Error(sessionErr))
	}
	sessionInstance.Values[sessionKeyUsername] = strings.TrimSpace(user.Username)
	sessionInstance.Values[sessionKeyRole] = strings.ToLower(strings.TrimSpace(user.Role))
	sessionInstance.Values[sessionKeyStaff] = user.IsStaff
	if saveErr := sessionInstance.Save(request, responseWriter); saveErr != nil {
		authManager.logger.Error(logEventSaveSession, zap.Error(saveErr))
		return saveErr
	}
	return nil
}

// CurrentUser returns the session user when present.
func (authManager *AuthManager) CurrentUser(context *gin.Context) (*CurrentUser, bool) {
	return authManager.ensureUser(context)
}

// RequireCourseStaffJSON rejects anonymous users with 401 and learners with 403.
func (authManager *AuthManager) RequireCourseStaffJSON() gin.HandlerFunc {
	return func(context *gin.Context) {
		currentUser, ok := authManager.ensureUser(context)
		if !ok {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
			return
		}
		if !currentUser.CanViewDashboards() {
			context.AbortWithStatusJSON(http.StatusForbidden, gin.H{jsonKeyError: authErrorForbidden})
			return
		}
		context.Next()
	}
}

func CurrentUserFromContext(context *gin.Context) (*CurrentUser, bool) {
	value, exists := context.Get(contextKeyCurrentUser)
	if !exists {
		return nil, false
	}
	currentUser, ok := value.(*CurrentUser)
	return currentUser, ok
}

func (authManager *AuthManager) ensureUser(context *gin.Context) (*CurrentUser, bool) {
	if currentUser, exists := CurrentUserFromContext(context); exists {
		return currentUser, true
	}

	sessionInstance, sessionErr := authManager.sessionStore.Get(context.Request, SessionName)
	if sessionErr != nil {
		authManager.logger.Warn(logEventLoadSession, zap.Error(sessionErr))
		return nil, false
	}

	username := extractString(sessionInstance.Values[sessionKeyUsername])
	if username == "" {
		return nil, false
	}

	isStaff, _ := sessionInstance.Values[sessionKeyStaff].(bool)
	currentUser := &CurrentUser{
		Username: username,
		Role:     extractString(sessionInstance.Values[sessionKeyRole]),
		IsStaff:  isStaff,
	}

	context.Set(contextKeyCurrentUser, currentUser)
	return currentUser, true
}

func extractString(value interface{}) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
