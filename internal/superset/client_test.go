package superset_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/superset"
)

const (
	fakeAccessToken   = "access-123"
	fakeCSRFToken     = "csrf-456"
	fakeGuestToken    = "guest-789"
	fakeSessionCookie = "session"
	testUsername      = "superset"
	testPassword      = "superset"
)

type fakeSuperset struct {
	mutex              sync.Mutex
	loginRequests      []superset.LoginRequest
	guestTokenRequests []superset.GuestTokenRequest
	guestTokenHeaders  []http.Header
	guestTokenStatus   int
}

func (fake *fakeSuperset) handler(testingT *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/security/login", func(writer http.ResponseWriter, request *http.Request) {
		var loginRequest superset.LoginRequest
		require.NoError(testingT, json.NewDecoder(request.Body).Decode(&loginRequest))
		fake.mutex.Lock()
		fake.loginRequests = append(fake.loginRequests, loginRequest)
		fake.mutex.Unlock()
		if loginRequest.Password != testPassword {
			writer.WriteHeader(http.StatusUnauthorized)
			_, _ = writer.Write([]byte(`{"message":"Not authorized"}`))
			return
		}
		http.SetCookie(writer, &http.Cookie{Name: fakeSessionCookie, Value: "s1", Path: "/"})
		_ = json.NewEncoder(writer).Encode(map[string]string{"access_token": fakeAccessToken})
	})
	mux.HandleFunc("/api/v1/security/csrf_token/", func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer "+fakeAccessToken {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(writer).Encode(map[string]string{"result": fakeCSRFToken})
	})
	mux.HandleFunc("/api/v1/security/guest_token/", func(writer http.ResponseWriter, request *http.Request) {
		var guestTokenRequest superset.GuestTokenRequest
		require.NoError(testingT, json.NewDecoder(request.Body).Decode(&guestTokenRequest))
		fake.mutex.Lock()
		fake.guestTokenRequests = append(fake.guestTokenRequests, guestTokenRequest)
		fake.guestTokenHeaders = append(fake.guestTokenHeaders, request.Header.Clone())
		status := fake.guestTokenStatus
		fake.mutex.Unlock()
		if status != 0 {
			writer.WriteHeader(status)
			_, _ = writer.Write([]byte(`{"message":"boom"}`))
			return
		}
		if _, cookieErr := request.Cookie(fakeSessionCookie); cookieErr != nil {
			writer.WriteHeader(http.StatusBadRequest)
			_, _ = writer.Write([]byte(`{"message":"The CSRF session token is missing."}`))
			return
		}
		_ = json.NewEncoder(writer).Encode(map[string]string{"token": fakeGuestToken})
	})
	return mux
}

func startFakeSuperset(testingT *testing.T) (*fakeSuperset, *httptest.Server) {
	testingT.Helper()
	fake := &fakeSuperset{}
	server := httptest.NewServer(fake.handler(testingT))
	testingT.Cleanup(server.Close)
	return fake, server
}

func TestClientGuestTokenExchange(testingT *testing.T) {
	fake, server := startFakeSuperset(testingT)
	client, clientErr := superset.NewClient(superset.Config{
		ServiceURL:         "http://superset.public",
		InternalServiceURL: server.URL,
		Username:           testUsername,
		Password:           testPassword,
	}, nil, zap.NewNop())
	require.NoError(testingT, clientErr)

	token, tokenErr := client.GuestToken(context.Background(), superset.GuestTokenRequest{
		User:      superset.GuestUser{Username: "staff"},
		Resources: []superset.Resource{superset.DashboardResource("c0e64194-33d1-4d5a-8c10-4f51530c5ee9")},
		RLS:       []superset.RLSRule{{Clause: "org = 'edX'"}},
	})
	require.NoError(testingT, tokenErr)
	require.Equal(testingT, fakeGuestToken, token)

	require.Len(testingT, fake.loginRequests, 1)
	require.Equal(testingT, "db", fake.loginRequests[0].Provider)
	require.True(testingT, fake.loginRequests[0].Refresh)

	require.Len(testingT, fake.guestTokenRequests, 1)
	guestTokenRequest := fake.guestTokenRequests[0]
	require.Equal(testingT, "staff", guestTokenRequest.User.Username)
	require.Equal(testingT, []superset.Resource{{Type: "dashboard", ID: "c0e64194-33d1-4d5a-8c10-4f51530c5ee9"}}, guestTokenRequest.Resources)
	require.Equal(testingT, []superset.RLSRule{{Clause: "org = 'edX'"}}, guestTokenRequest.RLS)
	require.Equal(testingT, fakeCSRFToken, fake.guestTokenHeaders[0].Get("X-CSRFToken"))
	require.Equal(testingT, "Bearer "+fakeAccessToken, fake.guestTokenHeaders[0].Get("Authorization"))
}

func TestClientGuestTokenReportsServerErrors(testingT *testing.T) {
	fake, server := startFakeSuperset(testingT)
	fake.guestTokenStatus = http.StatusInternalServerError
	observedCore, observedLogs := observer.New(zapcore.ErrorLevel)

	client, clientErr := superset.NewClient(superset.Config{
		ServiceURL: server.URL,
		Username:   testUsername,
		Password:   testPassword,
	}, nil, zap.New(observedCore))
	require.NoError(testingT, clientErr)

	_, tokenErr := client.GuestToken(context.Background(), superset.GuestTokenRequest{User: superset.GuestUser{Username: "staff"}})
	require.ErrorIs(testingT, tokenErr, superset.ErrGuestTokenRequest)
	require.ErrorIs(testingT, tokenErr, superset.ErrUnexpectedStatus)

	entries := observedLogs.FilterMessage("superset_request_failed").All()
	require.Len(testingT, entries, 1)
	require.Equal(testingT, `{"message":"boom"}`, entries[0].ContextMap()["body"])
}

func TestClientGuestTokenFailsOnBadCredentials(testingT *testing.T) {
	_, server := startFakeSuperset(testingT)
	client, clientErr := superset.NewClient(superset.Config{
		ServiceURL: server.URL,
		Username:   testUsername,
		Password:   "wrong",
	}, nil, nil)
	require.NoError(testingT, clientErr)

	_, tokenErr := client.GuestToken(context.Background(), superset.GuestTokenRequest{})
	require.ErrorIs(testingT, tokenErr, superset.ErrGuestTokenRequest)
	require.ErrorIs(testingT, tokenErr, superset.ErrUnexpectedStatus)
}

func TestNewClientValidatesConfiguration(testingT *testing.T) {
	testCases := []struct {
		name          string
		configuration superset.Config
		expectedErr   error
	}{
		{name: "missing url", configuration: superset.Config{Username: testUsername, Password: testPassword}, expectedErr: superset.ErrMissingServiceURL},
		{name: "missing username", configuration: superset.Config{ServiceURL: "http://superset:8088", Password: testPassword}, expectedErr: superset.ErrMissingCredentials},
		{name: "missing password", configuration: superset.Config{ServiceURL: "http://superset:8088", Username: testUsername}, expectedErr: superset.ErrMissingCredentials},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(t *testing.T) {
			_, clientErr := superset.NewClient(testCase.configuration, nil, nil)
			require.ErrorIs(t, clientErr, testCase.expectedErr)
		})
	}
}

func TestConfigURLs(testingT *testing.T) {
	configuration := superset.Config{ServiceURL: "http://superset.example.com"}
	require.Equal(testingT, "http://superset.example.com/", configuration.PublicURL())
	require.Equal(testingT, "http://superset.example.com/", configuration.APIURL())

	configuration.InternalServiceURL = "http://superset:8088"
	require.Equal(testingT, "http://superset:8088/", configuration.APIURL())
	require.Equal(testingT, "", superset.FixServiceURL("  "))
	require.Equal(testingT, "http://a/", superset.FixServiceURL("http://a/"))
}
