package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/service/auth"
	"github.com/ashwinyue/family-health/internal/testutil"
)

func newService(t *testing.T) (*auth.Service, *repository.Repositories) {
	t.Helper()
	cfg := testutil.Config(t)
	cfg.Auth.LoginLockMaxAttempts = 3
	repos := testutil.Repos(t)
	return auth.NewService(repos, &cfg.Auth, nil), repos
}

func bootstrap(t *testing.T, svc *auth.Service) *auth.UserInfo {
	t.Helper()
	u, err := svc.BootstrapOwner(context.Background(), &auth.BootstrapOwnerRequest{
		Username: "owner", Password: "password123", DisplayName: "Owner",
	}, auth.Meta{TraceID: "t-1"})
	require.NoError(t, err)
	return u
}

func TestBootstrapOwner(t *testing.T) {
	svc, repos := newService(t)
	ctx := context.Background()

	u := bootstrap(t, svc)
	assert.Equal(t, model.RoleOwner, u.Role)

	_, err := svc.BootstrapOwner(ctx, &auth.BootstrapOwnerRequest{
		Username: "other", Password: "password123", DisplayName: "Other",
	}, auth.Meta{})
	assert.True(t, apperr.HasCode(err, 2001))

	logs, err := repos.Auth.ListAudits(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "bootstrap_owner", logs[0].Action)
	assert.Equal(t, "t-1", logs[0].TraceID)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _ := newService(t)
	bootstrap(t, svc)

	_, err := svc.Register(context.Background(), &auth.RegisterRequest{
		Username: "owner", Password: "password123", DisplayName: "X",
	}, auth.Meta{})
	assert.True(t, apperr.HasCode(err, 2002))

	u, err := svc.Register(context.Background(), &auth.RegisterRequest{
		Username: "mom", Password: "password123", DisplayName: "Mom",
	}, auth.Meta{})
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, u.Role)
}

func TestLogin_SuccessAndAuthenticate(t *testing.T) {
	svc, _ := newService(t)
	owner := bootstrap(t, svc)
	ctx := context.Background()

	pair, err := svc.Login(ctx, &auth.LoginRequest{Username: "owner", Password: "password123", DeviceLabel: "cli"}, auth.Meta{})
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, owner.ID, pair.UserID)
	assert.Equal(t, model.RoleOwner, pair.Role)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	user, err := svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, user.ID)
	assert.NotNil(t, user.LastLoginAt)

	_, err = svc.Authenticate(ctx, pair.RefreshToken)
	assert.Equal(t, apperr.ErrTokenType, err)

	_, err = svc.Authenticate(ctx, "garbage")
	assert.Equal(t, apperr.ErrInvalidToken, err)
}

func TestLogin_UnknownUser(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Login(context.Background(), &auth.LoginRequest{Username: "nobody", Password: "x"}, auth.Meta{})
	assert.True(t, apperr.HasCode(err, 2003))
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	svc, repos := newService(t)
	owner := bootstrap(t, svc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, &auth.LoginRequest{Username: "owner", Password: "wrong-pass"}, auth.Meta{})
		assert.True(t, apperr.HasCode(err, 2003))
	}

	user, err := repos.Auth.GetUserByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, user.FailedLoginAttempts)
	require.NotNil(t, user.LockUntil)
	assert.True(t, user.LockUntil.After(time.Now().UTC()))

	// 锁定期内正确密码也被拒绝
	_, err = svc.Login(ctx, &auth.LoginRequest{Username: "owner", Password: "password123"}, auth.Meta{})
	assert.True(t, apperr.HasCode(err, 4004))
}

func TestLogin_DisabledUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	bootstrap(t, svc)
	member, err := svc.Register(ctx, &auth.RegisterRequest{Username: "kid", Password: "password123", DisplayName: "Kid"}, auth.Meta{})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, member.ID, model.UserDisabled, auth.Meta{})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &auth.LoginRequest{Username: "kid", Password: "password123"}, auth.Meta{})
	assert.True(t, apperr.HasCode(err, 4003))
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	svc, _ := newService(t)
	bootstrap(t, svc)
	ctx := context.Background()

	pair, err := svc.Login(ctx, &auth.LoginRequest{Username: "owner", Password: "password123"}, auth.Meta{})
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken, auth.Meta{})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = svc.Refresh(ctx, pair.RefreshToken, auth.Meta{})
	assert.True(t, apperr.HasCode(err, 2004))

	_, err = svc.Refresh(ctx, pair.AccessToken, auth.Meta{})
	assert.True(t, apperr.HasCode(err, 2004))

	_, err = svc.Refresh(ctx, next.RefreshToken, auth.Meta{})
	assert.NoError(t, err)
}

func TestRefresh_ConcurrentUseHasOneWinner(t *testing.T) {
	svc, _ := newService(t)
	bootstrap(t, svc)
	ctx := context.Background()

	pair, err := svc.Login(ctx, &auth.LoginRequest{Username: "owner", Password: "password123"}, auth.Meta{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, pair.RefreshToken, auth.Meta{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if apperr.HasCode(err, 2004) {
				losses++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 3, losses)
}

func TestLogout_Idempotent(t *testing.T) {
	svc, _ := newService(t)
	owner := bootstrap(t, svc)
	ctx := context.Background()

	pair, err := svc.Login(ctx, &auth.LoginRequest{Username: "owner", Password: "password123"}, auth.Meta{})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, owner.ID, pair.RefreshToken, auth.Meta{}))
	require.NoError(t, svc.Logout(ctx, owner.ID, pair.RefreshToken, auth.Meta{}))

	_, err = svc.Refresh(ctx, pair.RefreshToken, auth.Meta{})
	assert.True(t, apperr.HasCode(err, 2004))
}

func TestUpdateRole(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	bootstrap(t, svc)
	created, err := svc.CreateUser(ctx, &auth.CreateUserRequest{Username: "dad", Password: "password123", DisplayName: "Dad", Role: "ADMIN"}, auth.Meta{})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, created.Role)

	u, err := svc.UpdateRole(ctx, created.ID, "viewer", auth.Meta{})
	require.NoError(t, err)
	assert.Equal(t, model.RoleViewer, u.Role)

	_, err = svc.UpdateRole(ctx, "missing", "viewer", auth.Meta{})
	assert.True(t, apperr.HasCode(err, 2005))

	_, err = svc.UpdateRole(ctx, created.ID, "root", auth.Meta{})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidParams))
}

func TestIssuer_UniqueTokensWithinSameSecond(t *testing.T) {
	iss := auth.NewIssuer("secret")
	a, _, err := iss.Issue("u1", auth.TokenAccess, time.Minute)
	require.NoError(t, err)
	b, _, err := iss.Issue("u1", auth.TokenAccess, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	claims, err := iss.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, auth.TokenAccess, claims.Type)

	_, err = auth.NewIssuer("other").Parse(a)
	assert.Error(t, err)

	expired, _, err := iss.Issue("u1", auth.TokenAccess, -time.Minute)
	require.NoError(t, err)
	_, err = iss.Parse(expired)
	assert.Error(t, err)
}
