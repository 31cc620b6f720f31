package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/systemaudit/winstaller/internal/config"
	"github.com/systemaudit/winstaller/internal/db"
	"github.com/systemaudit/winstaller/internal/installer"
	"github.com/systemaudit/winstaller/internal/ledger"
	"github.com/systemaudit/winstaller/internal/models"
	"github.com/systemaudit/winstaller/internal/notify"
	"github.com/systemaudit/winstaller/internal/users"
)

// fakeStarter scripts the installer's behavior for API tests.
type fakeStarter struct {
	startErr error
	lastReq  installer.Request
}

func (f *fakeStarter) Start(req installer.Request) (*models.Installation, <-chan installer.Result, error) {
	f.lastReq = req
	if f.startErr != nil {
		return nil, nil, f.startErr
	}
	ch := make(chan installer.Result, 1)
	ch <- installer.Result{Status: models.StatusCompleted}
	close(ch)
	return &models.Installation{ID: "install_1_abcd1234", UserID: req.UserID, IP: req.IP, Status: models.StatusStarting}, ch, nil
}

func (f *fakeStarter) Active(ip string) bool { return false }

type apiFixture struct {
	router  *gin.Engine
	users   *users.Store
	ledger  *ledger.Ledger
	starter *fakeStarter
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := users.NewStore(users.Opts{DB: gdb, ActivationCode: "letmein"})
	led := ledger.New(gdb)
	starter := &fakeStarter{}

	srv, err := NewServer(Opts{
		Users:     store,
		Ledger:    led,
		Installer: starter,
		Config:    config.APIConfig{JWTSecret: "test-secret", TokenTTLH: 1},
	})
	if err != nil {
		t.Fatalf("NewServer() = %v", err)
	}
	return &apiFixture{router: srv.Router(), users: store, ledger: led, starter: starter}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// register creates an account and returns a valid bearer token.
func (f *apiFixture) register(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"username": "alice", "password": "hunter2", "activation_code": "letmein",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"username": "alice", "password": "hunter2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/auth/register", "", gin.H{"username": "alice"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields = %d, want 400", w.Code)
	}

	w = f.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"username": "alice", "password": "pw", "activation_code": "wrong",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("bad activation code = %d, want 403", w.Code)
	}

	f.register(t)
	w = f.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"username": "alice", "password": "pw", "activation_code": "letmein",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate username = %d, want 409", w.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	w := f.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := newAPIFixture(t)

	if w := f.do(t, http.MethodGet, "/user/profile", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/user/profile", "not-a-jwt", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token = %d, want 401", w.Code)
	}

	token := f.register(t)
	w := f.do(t, http.MethodGet, "/user/profile", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("profile = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["username"] != "alice" {
		t.Errorf("profile username = %v, want alice", body["username"])
	}

	// Banned accounts lose access even with a live token.
	acct, err := f.users.Authenticate("alice", "hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	f.users.SetStatus(acct.ID, models.UserBanned)
	if w := f.do(t, http.MethodGet, "/user/profile", token, nil); w.Code != http.StatusForbidden {
		t.Errorf("banned profile = %d, want 403", w.Code)
	}
}

func TestInstallEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)

	w := f.do(t, http.MethodPost, "/install", token, gin.H{
		"ip": "10.0.0.1", "ssh_password": "rootpw", "os_code": "w11pro", "rdp_password": "Winpass7",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("install = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["install_id"] == "" {
		t.Error("install response missing install_id")
	}
	if f.starter.lastReq.Source != notify.SourceAPI {
		t.Errorf("request source = %q, want %q", f.starter.lastReq.Source, notify.SourceAPI)
	}
	if f.starter.lastReq.RDPPassword != "Winpass7" {
		t.Errorf("request rdp password = %q, want Winpass7", f.starter.lastReq.RDPPassword)
	}

	f.starter.startErr = errors.New("installer: installation already in progress for 10.0.0.1")
	w = f.do(t, http.MethodPost, "/install", token, gin.H{
		"ip": "10.0.0.1", "ssh_password": "rootpw", "os_code": "w11pro",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("busy install = %d, want 409", w.Code)
	}

	w = f.do(t, http.MethodPost, "/install", token, gin.H{"ip": "10.0.0.1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields = %d, want 400", w.Code)
	}
}

func TestInstallValidatesInput(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)

	w := f.do(t, http.MethodPost, "/install", token, gin.H{
		"ip": "not-an-ip", "ssh_password": "rootpw", "os_code": "w11pro",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad ip = %d, want 400", w.Code)
	}

	w = f.do(t, http.MethodPost, "/install", token, gin.H{
		"ip": "10.0.0.1", "ssh_password": "rootpw", "os_code": "w11pro", "rdp_password": "weak",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("weak rdp password = %d, want 400", w.Code)
	}
	if body := decode(t, w); !strings.Contains(body["error"].(string), "RDP password") {
		t.Errorf("error = %v, want RDP password requirements", body["error"])
	}
}

func TestInstallGetOwnershipAndRDP(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)
	acct, _ := f.users.Authenticate("alice", "hunter2")

	inst, _ := f.ledger.Create(acct.ID, "10.0.0.1", "w11pro", "Windows 11 Pro")
	f.ledger.UpdateStatus(inst.ID, models.StatusCompleted, &ledger.StatusUpdate{
		RDPInfo: &models.RDPInfo{IP: "10.0.0.1", Port: 3389, Username: models.RDPUsername, Password: "pw"},
	})
	foreign, _ := f.ledger.Create(acct.ID+1, "10.0.0.2", "w11pro", "Windows 11 Pro")

	w := f.do(t, http.MethodGet, "/install/"+inst.ID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	rdp, ok := body["rdp"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no rdp payload: %v", body)
	}
	if port, _ := rdp["port"].(float64); int(port) != models.RDPPort {
		t.Errorf("rdp port = %v, want normalized %d", rdp["port"], models.RDPPort)
	}

	if w := f.do(t, http.MethodGet, "/install/"+foreign.ID, token, nil); w.Code != http.StatusForbidden {
		t.Errorf("foreign get = %d, want 403", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/install/install_9_missing1", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing get = %d, want 404", w.Code)
	}
}

func TestInstallListAndLogs(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)
	acct, _ := f.users.Authenticate("alice", "hunter2")

	running, _ := f.ledger.Create(acct.ID, "10.0.0.1", "w11pro", "Windows 11 Pro")
	done, _ := f.ledger.Create(acct.ID, "10.0.0.2", "ws2022", "Windows Server 2022")
	f.ledger.UpdateStatus(done.ID, models.StatusCompleted, nil)

	w := f.do(t, http.MethodGet, "/install/list", token, nil)
	body := decode(t, w)
	if list, _ := body["installations"].([]interface{}); len(list) != 2 {
		t.Errorf("list = %d entries, want 2", len(list))
	}

	w = f.do(t, http.MethodGet, "/install/active", token, nil)
	body = decode(t, w)
	list, _ := body["installations"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("active = %d entries, want 1", len(list))
	}
	entry, _ := list[0].(map[string]interface{})
	if entry["install_id"] != running.ID {
		t.Errorf("active entry = %v, want %s", entry["install_id"], running.ID)
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/install/%s/logs", running.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logs = %d: %s", w.Code, w.Body.String())
	}
	body = decode(t, w)
	if logs, _ := body["logs"].([]interface{}); len(logs) == 0 {
		t.Error("logs endpoint returned no lines")
	}
}

func TestOSListEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/os/list", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("os list = %d", w.Code)
	}
	body := decode(t, w)
	list, _ := body["os_list"].([]interface{})
	if len(list) != 9 {
		t.Errorf("os list = %d entries, want 9", len(list))
	}
}
