// internal/api/api_test.go
//
// Handler tests.  Most cases run against in-memory fakes; the redirect
// path also runs end-to-end over the real mapping.Store and sqlmock.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yanizio/shortmap/internal/auth"
	"github.com/yanizio/shortmap/internal/mapping"
	"github.com/yanizio/shortmap/internal/migrate"
)

const password = "correct horse"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

/*──────────────────────────── fakes ──────────────────────────────────────*/

type fakeStore struct {
	reserved   mapping.Reserved
	created    []mapping.Input
	updated    map[string]mapping.Patch
	deleted    []string
	resolution map[string]mapping.Resolution
	err        error
	page       mapping.Page
	gotPage    [2]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reserved:   mapping.NewReserved(),
		updated:    map[string]mapping.Patch{},
		resolution: map[string]mapping.Resolution{},
	}
}

func (f *fakeStore) List(_ context.Context, page, size int) (mapping.Page, error) {
	f.gotPage = [2]int{page, size}
	return f.page, f.err
}

func (f *fakeStore) Create(_ context.Context, in mapping.Input) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, in)
	return nil
}

func (f *fakeStore) Update(_ context.Context, orig string, p mapping.Patch) error {
	if f.err != nil {
		return f.err
	}
	f.updated[orig] = p
	return nil
}

func (f *fakeStore) Delete(_ context.Context, path string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeStore) Resolve(_ context.Context, path string) (mapping.Resolution, error) {
	if f.err != nil {
		return mapping.Resolution{}, f.err
	}
	return f.resolution[path], nil
}

func (f *fakeStore) Reserved() mapping.Reserved { return f.reserved }

type fakeClassifier struct{ at time.Time }

func (f *fakeClassifier) Classify(_ context.Context, now time.Time) (mapping.Classification, error) {
	f.at = now
	exp := fixedNow.Add(24 * time.Hour)
	return mapping.Classification{
		Expiring: []mapping.Mapping{{Path: "soon", Target: "https://soon", Expiry: &exp, Enabled: true}},
		Expired:  []mapping.Mapping{},
	}, nil
}

type fakeSweeper struct{ batch int }

func (f *fakeSweeper) Sweep(_ context.Context, batch int) (int, error) {
	f.batch = batch
	return 7, nil
}

/*──────────────────────────── harness ────────────────────────────────────*/

type harness struct {
	store   *fakeStore
	sweeper *fakeSweeper
	class   *fakeClassifier
	srv     http.Handler
	cookie  *http.Cookie
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, mig MigrateFunc) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	h := &harness{store: newFakeStore(), sweeper: &fakeSweeper{}, class: &fakeClassifier{}, logs: logs}
	h.srv = New(Options{
		Logger:     zap.New(core),
		Store:      h.store,
		Classifier: h.class,
		Sweeper:    h.sweeper,
		Migrate:    mig,
		Guard:      auth.New(password),
		Static: http.FS(fstest.MapFS{
			"admin.html": {Data: []byte("<h1>admin</h1>")},
			"robots.txt": {Data: []byte("User-agent: *")},
		}),
		Now: func() time.Time { return fixedNow },
	}).Routes()

	rec := h.do(t, http.MethodPost, "/api/login", `{"password":"`+password+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rec.Code, rec.Body)
	}
	h.cookie = rec.Result().Cookies()[0]
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (bool, json.RawMessage, string) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("body %q is not an envelope: %v", rec.Body.String(), err)
	}
	return env.Success, env.Data, env.Error
}

/*──────────────────────────── session ────────────────────────────────────*/

func TestLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.cookie = nil

	rec := h.do(t, http.MethodPost, "/api/login", `{"password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/api/login", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing password status = %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/api/mappings", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d", rec.Code)
	}
	if ok, _, msg := decodeEnvelope(t, rec); ok || msg == "" {
		t.Fatalf("401 must use the JSON envelope")
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/api/logout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Fatalf("logout cookie = %+v", c)
	}
}

/*──────────────────────────── admin API ──────────────────────────────────*/

func TestListMappings(t *testing.T) {
	h := newHarness(t, nil)
	h.store.page = mapping.Page{Records: []mapping.Mapping{{Path: "a", Target: "https://a"}}, Total: 1, Page: 2, PageSize: 5, TotalPages: 1}

	rec := h.do(t, http.MethodGet, "/api/mappings?page=2&pageSize=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if h.store.gotPage != [2]int{2, 5} {
		t.Fatalf("paging = %v", h.store.gotPage)
	}
	_, data, _ := decodeEnvelope(t, rec)
	if !bytes.Contains(data, []byte(`"total":1`)) {
		t.Fatalf("data = %s", data)
	}

	h.do(t, http.MethodGet, "/api/mappings", "")
	if h.store.gotPage != [2]int{defaultPage, defaultPageSize} {
		t.Fatalf("default paging = %v", h.store.gotPage)
	}

	for _, q := range []string{"page=x", "pageSize=101", "page=9223372036854775807&pageSize=100"} {
		if rec := h.do(t, http.MethodGet, "/api/mappings?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, rec.Code)
		}
	}
}

func TestCreateMapping(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/api/mappings",
		`{"path":"promo","target":"https://x","expiry":"2030-01-01","isWechat":true,"qrCodeData":"weixin://q"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if len(h.store.created) != 1 {
		t.Fatalf("created = %+v", h.store.created)
	}
	in := h.store.created[0]
	if in.Path != "promo" || in.Expiry != "2030-01-01" || !in.IsWechat || *in.QRCodeData != "weixin://q" || in.Enabled != nil {
		t.Fatalf("input = %+v", in)
	}

	if rec := h.do(t, http.MethodPost, "/api/mappings", `{"path":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing target status = %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/api/mappings", `{bad`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed status = %d", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", mapping.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", mapping.ErrReservedPath), http.StatusForbidden},
		{fmt.Errorf("x: %w", mapping.ErrDuplicatePath), http.StatusConflict},
		{fmt.Errorf("x: %w", mapping.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w: dial tcp", mapping.ErrStoreUnavailable), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newHarness(t, nil)
		h.store.err = tc.err
		rec := h.do(t, http.MethodPost, "/api/mappings", `{"path":"a","target":"https://a"}`)
		if rec.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
		if _, _, msg := decodeEnvelope(t, rec); strings.Contains(msg, "dial tcp") {
			t.Errorf("driver detail leaked: %q", msg)
		}
	}
}

func TestUpdateMapping_ThreeStateMedia(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPut, "/api/mappings",
		`{"originalPath":"old","newPath":"new","target":"https://x","imageUrl":null,"imageAlt":"alt"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	p, found := h.store.updated["old"]
	if !found || p.Path != "new" {
		t.Fatalf("patch = %+v", p)
	}
	if !p.QRCodeData.IsAbsent() || !p.ImageBase64.IsAbsent() {
		t.Fatalf("omitted fields must stay absent")
	}
	if !p.ImageURL.IsNull() {
		t.Fatalf("imageUrl should be null")
	}
	if v, ok := p.ImageAlt.Get(); !ok || v != "alt" {
		t.Fatalf("imageAlt = %q %v", v, ok)
	}

	if rec := h.do(t, http.MethodPut, "/api/mappings", `{"originalPath":"old","target":"https://x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing newPath status = %d", rec.Code)
	}
}

func TestDeleteMapping(t *testing.T) {
	h := newHarness(t, nil)
	if rec := h.do(t, http.MethodDelete, "/api/mappings", `{"path":"gone"}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(h.store.deleted) != 1 || h.store.deleted[0] != "gone" {
		t.Fatalf("deleted = %v", h.store.deleted)
	}
}

func TestExpiringAndCleanup(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/expiring", "")
	if rec.Code != http.StatusOK || !h.class.at.Equal(fixedNow) {
		t.Fatalf("expiring status = %d at=%v", rec.Code, h.class.at)
	}
	_, data, _ := decodeEnvelope(t, rec)
	if !bytes.Contains(data, []byte(`"expired":[]`)) || !bytes.Contains(data, []byte(`"path":"soon"`)) {
		t.Fatalf("data = %s", data)
	}
	entries := h.logs.FilterMessage("expiry window classified").All()
	if len(entries) != 1 || entries[0].ContextMap()["classification"] != "expiring=1 expired=0" {
		t.Fatalf("classification log = %+v", entries)
	}

	rec = h.do(t, http.MethodPost, "/api/cleanup", "")
	_, data, _ = decodeEnvelope(t, rec)
	if rec.Code != http.StatusOK || string(data) != `{"deleted":7}` {
		t.Fatalf("cleanup = %d %s", rec.Code, data)
	}
	if h.sweeper.batch != mapping.DefaultBatchSize {
		t.Fatalf("batch = %d", h.sweeper.batch)
	}
}

func TestMigrateEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	if rec := h.do(t, http.MethodPost, "/api/migrate", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no source status = %d", rec.Code)
	}

	h = newHarness(t, func(context.Context) (migrate.Result, error) {
		return migrate.Result{Imported: 3, Skipped: 1}, nil
	})
	rec := h.do(t, http.MethodPost, "/api/migrate", "")
	_, data, _ := decodeEnvelope(t, rec)
	if rec.Code != http.StatusOK || string(data) != `{"imported":3,"skipped":1}` {
		t.Fatalf("migrate = %d %s", rec.Code, data)
	}

	h = newHarness(t, func(context.Context) (migrate.Result, error) {
		return migrate.Result{Imported: 1}, errors.New("list legacy keys: i/o timeout")
	})
	if rec := h.do(t, http.MethodPost, "/api/migrate", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed migrate status = %d", rec.Code)
	}
}

func TestUnknownAPI(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if ok, _, _ := decodeEnvelope(t, rec); ok {
		t.Fatalf("expected failure envelope")
	}
}

/*──────────────────────────── upload ─────────────────────────────────────*/

func multipartBody(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="qr.gif"`)
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	h := newHarness(t, nil)
	gif := []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")

	cases := []struct {
		name, header, want string
		data               []byte
	}{
		{"header wins", "image/webp", "image/webp", gif},
		{"sniffed", "application/octet-stream", "image/gif", gif},
		{"fallback", "", "image/png", []byte("not an image")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.header, tc.data)
			req := httptest.NewRequest(http.MethodPost, "/api/upload-image", body)
			req.Header.Set("Content-Type", ct)
			req.AddCookie(h.cookie)
			rec := httptest.NewRecorder()
			h.srv.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
			}
			_, data, _ := decodeEnvelope(t, rec)
			var res uploadResult
			if err := json.Unmarshal(data, &res); err != nil {
				t.Fatal(err)
			}
			if res.MimeType != tc.want || res.FileName != "qr.gif" || !strings.HasPrefix(res.DataURL, "data:"+tc.want+";base64,") {
				t.Fatalf("result = %+v", res)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload-image", strings.NewReader("x"))
	req.AddCookie(h.cookie)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-multipart status = %d", rec.Code)
	}
}

/*──────────────────────────── resolve ────────────────────────────────────*/

func TestResolve_Outcomes(t *testing.T) {
	h := newHarness(t, nil)
	qrData := "weixin://dl/group"
	name := "Group chat"
	h.store.resolution["go"] = mapping.Resolution{State: mapping.Active, Mapping: &mapping.Mapping{Path: "go", Target: "https://example.com/x"}}
	h.store.resolution["old"] = mapping.Resolution{State: mapping.Expired, Mapping: &mapping.Mapping{Path: "old"}}
	h.store.resolution["wx"] = mapping.Resolution{State: mapping.Active, Mapping: &mapping.Mapping{
		Path: "wx", Target: "https://wx", IsWechat: true, QRCodeData: &qrData, Name: &name,
	}}

	rec := h.do(t, http.MethodGet, "/go", "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "https://example.com/x" {
		t.Fatalf("active = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if rec := h.do(t, http.MethodGet, "/old", ""); rec.Code != http.StatusGone {
		t.Fatalf("expired status = %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/wx", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `src="/wx/qr.png"`) || !strings.Contains(rec.Body.String(), "Group chat") {
		t.Fatalf("wechat page = %d %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "Open WeChat and scan the code.") {
		t.Errorf("desktop visitor should be told to scan: %s", rec.Body)
	}

	req := httptest.NewRequest(http.MethodGet, "/wx", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 MicroMessenger/8.0.40")
	rec = httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Long-press the code to open it.") {
		t.Fatalf("in-app wechat page = %d %s", rec.Code, rec.Body)
	}

	rec = h.do(t, http.MethodGet, "/wx/qr.png", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("qr = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec := h.do(t, http.MethodGet, "/go/qr.png", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("qr of non-wechat status = %d", rec.Code)
	}
}

func TestResolve_StoreErrorIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	h.store.err = fmt.Errorf("resolve: %w", mapping.ErrStoreUnavailable)
	if rec := h.do(t, http.MethodGet, "/go", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRootAndStatic(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/admin.html" {
		t.Fatalf("root = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = h.do(t, http.MethodGet, "/admin.html", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "admin") {
		t.Fatalf("admin.html = %d %s", rec.Code, rec.Body)
	}
	if rec := h.do(t, http.MethodGet, "/login.html", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("reserved without asset status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/metrics", "")
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !bytes.Contains(body, []byte("shortmap_")) {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

/*──────────────────────────── end to end ─────────────────────────────────*/

func TestResolve_OverSQLStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := mapping.NewStore(sqlx.NewDb(db, "sqlmock"),
		mapping.WithClock(func() time.Time { return fixedNow }))

	cols := []string{"path", "target", "name", "expiry", "enabled", "created_at", "isWechat",
		"qrCodeData", "imageUrl", "imageBase64", "imageAlt"}
	sel := regexp.QuoteMeta("FROM mappings WHERE path = ?")
	mock.ExpectQuery(sel).WithArgs("promo").WillReturnRows(sqlmock.NewRows(cols).
		AddRow("promo", "https://shop/sale", nil, "2030-01-01T00:00:00.000Z", true,
			"2024-05-01T00:00:00.000Z", false, nil, nil, nil, nil))
	mock.ExpectQuery(sel).WithArgs("stale").WillReturnRows(sqlmock.NewRows(cols).
		AddRow("stale", "https://old", nil, "2024-01-01T00:00:00.000Z", true,
			"2023-05-01T00:00:00.000Z", false, nil, nil, nil, nil))

	srv := New(Options{
		Store:      store,
		Classifier: mapping.NewClassifier(sqlx.NewDb(db, "sqlmock")),
		Sweeper:    mapping.NewSweeper(sqlx.NewDb(db, "sqlmock")),
		Guard:      auth.New(password),
	}).Routes()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/promo", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "https://shop/sale" {
		t.Fatalf("promo = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stale", nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("stale = %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
