package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"movementflow/internal/flow"
	"movementflow/internal/middleware"
	"movementflow/internal/model"
	"movementflow/internal/repository"
	"movementflow/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
	middleware.InitAuth(testSecret, false)
}

func token(t *testing.T, name, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"name": name,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

func do(t *testing.T, r *gin.Engine, req *http.Request, bearer string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// --- fakes ---

type fakeApprovals struct {
	queue  func(stage flow.Stage, actor string, limit, offset int) ([]model.Request, int64, error)
	decide func(action flow.Action, stage flow.Stage, id uuid.UUID, actor, comment string) (service.TransitionResult, error)
}

func (f *fakeApprovals) Queue(_ context.Context, stage flow.Stage, actor string, limit, offset int) ([]model.Request, int64, error) {
	return f.queue(stage, actor, limit, offset)
}

func (f *fakeApprovals) Detail(_ context.Context, _ flow.Stage, id uuid.UUID, _ string) (*model.Request, error) {
	return &model.Request{ID: id}, nil
}

func (f *fakeApprovals) Approve(_ context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (service.TransitionResult, error) {
	return f.decide(flow.ActionApprove, stage, id, actor, comment)
}

func (f *fakeApprovals) Reject(_ context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (service.TransitionResult, error) {
	return f.decide(flow.ActionReject, stage, id, actor, comment)
}

func (f *fakeApprovals) SendToModification(_ context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (service.TransitionResult, error) {
	return f.decide(flow.ActionModify, stage, id, actor, comment)
}

type fakeRequests struct {
	create   func(requester string, in service.RequestInput, files []service.Upload) (*model.Request, service.UploadResult, error)
	resubmit func(id uuid.UUID, requester string, in service.RequestInput) (*model.Request, service.UploadResult, error)
}

func (f *fakeRequests) Create(_ context.Context, requester string, in service.RequestInput, files []service.Upload) (*model.Request, service.UploadResult, error) {
	return f.create(requester, in, files)
}

func (f *fakeRequests) Get(_ context.Context, id uuid.UUID) (*model.Request, error) {
	return nil, flow.ErrNotFound
}

func (f *fakeRequests) Mine(_ context.Context, _ string) (service.MyRequests, error) {
	return service.MyRequests{}, nil
}

func (f *fakeRequests) Resubmit(_ context.Context, id uuid.UUID, requester string, in service.RequestInput, _ []service.Upload) (*model.Request, service.UploadResult, error) {
	return f.resubmit(id, requester, in)
}

func (f *fakeRequests) UploadEvidence(_ context.Context, _ uuid.UUID, _ string, files []service.Upload) (service.UploadResult, error) {
	return service.UploadResult{Skipped: []string{files[0].Name}}, nil
}

type fakeFinalization struct {
	finalize func(id uuid.UUID, actor string, in service.FinalizeInput, doc *service.Upload) (*model.Request, error)
}

func (f *fakeFinalization) ListReady(_ context.Context, limit, offset int) ([]model.Request, int64, error) {
	return []model.Request{}, 0, nil
}

func (f *fakeFinalization) Finalize(_ context.Context, id uuid.UUID, actor string, in service.FinalizeInput, doc *service.Upload) (*model.Request, error) {
	return f.finalize(id, actor, in, doc)
}

type fakeAccess struct {
	granted []string
}

func (f *fakeAccess) List(context.Context) ([]model.StageAccess, error) {
	return []model.StageAccess{{Stage: "MNG", DisplayName: "Boss"}}, nil
}

func (f *fakeAccess) Snapshot(context.Context) (map[flow.Stage][]string, error) {
	return map[flow.Stage][]string{flow.StageMNG: {"Boss"}}, nil
}

func (f *fakeAccess) Grant(_ context.Context, stage flow.Stage, names []string, _ string) ([]model.StageAccess, error) {
	f.granted = append(f.granted, names...)
	return []model.StageAccess{{Stage: stage.String(), DisplayName: names[0]}}, nil
}

func (f *fakeAccess) Revoke(context.Context, uuid.UUID, string) error {
	return flow.ErrNotFound
}

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, req service.LoginRequest) (*service.TokenResponse, error) {
	if req.Password != "ok" {
		return nil, service.ErrInvalidCredentials
	}
	return &service.TokenResponse{Token: "signed", ExpiresAt: time.Now().Add(time.Hour), User: service.Profile{DisplayName: "Maria"}}, nil
}

func (fakeAuth) CreateUser(_ context.Context, _ string, req service.CreateUserRequest) (*service.Profile, error) {
	return &service.Profile{Username: req.Username}, nil
}

// --- tests ---

func approvalRouter(f *fakeApprovals) *gin.Engine {
	r := gin.New()
	NewApprovalHandler(f).RegisterRoutes(r.Group(""))
	return r
}

func TestApprovalHandler_Decisions(t *testing.T) {
	id := uuid.New()
	var got struct {
		action  flow.Action
		stage   flow.Stage
		actor   string
		comment string
	}
	f := &fakeApprovals{decide: func(action flow.Action, stage flow.Stage, _ uuid.UUID, actor, comment string) (service.TransitionResult, error) {
		got.action, got.stage, got.actor, got.comment = action, stage, actor, comment
		switch comment {
		case "":
			if action != flow.ActionApprove {
				return service.TransitionResult{}, flow.ErrCommentRequired
			}
		case "late":
			return service.TransitionResult{}, flow.ErrStageAlreadyDecided
		case "intruder":
			return service.TransitionResult{}, flow.ErrForbidden
		case "reopen":
			return service.TransitionResult{}, flow.ErrRequestClosed
		}
		return service.TransitionResult{RequestID: id, Stage: stage, Action: action, Status: flow.RequestInProgress}, nil
	}}
	r := approvalRouter(f)
	tok := token(t, "Maria Boss", model.RoleApprover)

	t.Run("approve without body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/stages/jpn/requests/"+id.String()+"/approve", nil)
		w, env := do(t, r, req, tok)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "success", env.Status)
		assert.Equal(t, flow.ActionApprove, got.action)
		assert.Equal(t, flow.StageJPN, got.stage)
		assert.Equal(t, "Maria Boss", got.actor)
	})

	t.Run("reject with comment", func(t *testing.T) {
		req := jsonRequest(http.MethodPost, "/api/stages/MNG/requests/"+id.String()+"/reject", `{"comment":"bad qty"}`)
		w, _ := do(t, r, req, tok)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, flow.ActionReject, got.action)
		assert.Equal(t, "bad qty", got.comment)
	})

	tests := []struct {
		name   string
		path   string
		body   string
		code   int
		status string
	}{
		{"comment required", "/modify", `{}`, http.StatusUnprocessableEntity, "warning"},
		{"already decided", "/approve", `{"comment":"late"}`, http.StatusConflict, "warning"},
		{"forbidden", "/approve", `{"comment":"intruder"}`, http.StatusForbidden, "error"},
		{"closed request", "/modify", `{"comment":"reopen"}`, http.StatusConflict, "warning"},
		{"malformed body", "/approve", `{"comment":`, http.StatusBadRequest, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(http.MethodPost, "/api/stages/PL/requests/"+id.String()+tt.path, tt.body)
			w, env := do(t, r, req, tok)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.status, env.Status)
		})
	}
}

func TestApprovalHandler_Guards(t *testing.T) {
	r := approvalRouter(&fakeApprovals{})
	id := uuid.NewString()

	w, _ := do(t, r, httptest.NewRequest(http.MethodPost, "/api/stages/MNG/requests/"+id+"/approve", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, httptest.NewRequest(http.MethodPost, "/api/stages/MNG/requests/"+id+"/approve", nil), token(t, "Ana", model.RoleRequester))
	assert.Equal(t, http.StatusForbidden, w.Code)

	approver := token(t, "Maria", model.RoleApprover)
	w, _ = do(t, r, httptest.NewRequest(http.MethodPost, "/api/stages/CEO/requests/"+id+"/approve", nil), approver)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, httptest.NewRequest(http.MethodPost, "/api/stages/MNG/requests/not-a-uuid/approve", nil), approver)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApprovalHandler_Queue(t *testing.T) {
	var gotLimit, gotOffset int
	f := &fakeApprovals{queue: func(stage flow.Stage, actor string, limit, offset int) ([]model.Request, int64, error) {
		gotLimit, gotOffset = limit, offset
		return []model.Request{{ID: uuid.New()}}, 41, nil
	}}
	r := approvalRouter(f)

	w, env := do(t, r, httptest.NewRequest(http.MethodGet, "/api/stages/FINJPN/queue?page=3&limit=10", nil), token(t, "Fin", model.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, gotLimit)
	assert.Equal(t, 20, gotOffset)

	var data struct {
		Requests []model.Request `json:"requests"`
		Total    int64           `json:"total"`
		Page     int             `json:"page"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Len(t, data.Requests, 1)
	assert.EqualValues(t, 41, data.Total)
	assert.Equal(t, 3, data.Page)
}

const requestJSON = `{"department":"Production","line":"L1","comment":"scrap found in audit","movement_types":["FDO"],"items":[{"part_number":"P-1","description":"bolt","source_class":"112","source_qty":5,"unit_cost":1.5}]}`

func TestRequestHandler_CreateJSON(t *testing.T) {
	var gotRequester string
	var gotIn service.RequestInput
	f := &fakeRequests{create: func(requester string, in service.RequestInput, files []service.Upload) (*model.Request, service.UploadResult, error) {
		gotRequester, gotIn = requester, in
		assert.Empty(t, files)
		return &model.Request{ID: uuid.New(), Requester: requester}, service.UploadResult{}, nil
	}}
	r := gin.New()
	NewRequestHandler(f).RegisterRoutes(r.Group(""))

	w, _ := do(t, r, jsonRequest(http.MethodPost, "/api/requests", requestJSON), token(t, "Ana Lopez", model.RoleRequester))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Ana Lopez", gotRequester)
	require.Len(t, gotIn.Items, 1)
	assert.True(t, gotIn.Items[0].SourceQty.Valid)
	assert.Equal(t, "5", gotIn.Items[0].SourceQty.Decimal.String())

	w, _ = do(t, r, jsonRequest(http.MethodPost, "/api/requests", `{"department":"x","line":"y","items":[]}`), token(t, "Ana", model.RoleRequester))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	noComment := strings.Replace(requestJSON, `"comment":"scrap found in audit",`, "", 1)
	w, _ = do(t, r, jsonRequest(http.MethodPost, "/api/requests", noComment), token(t, "Ana", model.RoleRequester))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestHandler_CreateMultipart(t *testing.T) {
	var gotFiles []service.Upload
	f := &fakeRequests{create: func(requester string, in service.RequestInput, files []service.Upload) (*model.Request, service.UploadResult, error) {
		gotFiles = files
		return &model.Request{ID: uuid.New()}, service.UploadResult{}, nil
	}}
	r := gin.New()
	NewRequestHandler(f).RegisterRoutes(r.Group(""))

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField(payloadField, requestJSON))
	part, err := mw.CreateFormFile(evidenceField, "photo.jpg")
	require.NoError(t, err)
	_, _ = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/requests", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, _ := do(t, r, req, token(t, "Ana", model.RoleRequester))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.Len(t, gotFiles, 1)
	assert.Equal(t, "photo.jpg", gotFiles[0].Name)
	assert.EqualValues(t, len("jpeg-bytes"), gotFiles[0].Size)
	rc, err := gotFiles[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestRequestHandler_ResubmitErrors(t *testing.T) {
	f := &fakeRequests{resubmit: func(id uuid.UUID, requester string, in service.RequestInput) (*model.Request, service.UploadResult, error) {
		if requester != "Ana" {
			return nil, service.UploadResult{}, service.ErrNotOwner
		}
		return nil, service.UploadResult{}, service.ErrNotEditable
	}}
	r := gin.New()
	NewRequestHandler(f).RegisterRoutes(r.Group(""))
	path := "/api/requests/" + uuid.NewString()

	w, _ := do(t, r, jsonRequest(http.MethodPut, path, requestJSON), token(t, "Bob", model.RoleRequester))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, jsonRequest(http.MethodPut, path, requestJSON), token(t, "Ana", model.RoleRequester))
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, r, httptest.NewRequest(http.MethodGet, path, nil), token(t, "Ana", model.RoleRequester))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFinalizationHandler(t *testing.T) {
	var gotIn service.FinalizeInput
	var gotDoc *service.Upload
	f := &fakeFinalization{finalize: func(id uuid.UUID, actor string, in service.FinalizeInput, doc *service.Upload) (*model.Request, error) {
		gotIn, gotDoc = in, doc
		if doc == nil {
			return nil, service.ErrInvalidInput
		}
		return &model.Request{ID: id, Status: flow.RequestCompleted}, nil
	}}
	r := gin.New()
	NewFinalizationHandler(f).RegisterRoutes(r.Group(""))
	tok := token(t, "PC Staff", model.RoleApprover)
	path := "/api/finalization/" + uuid.NewString()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("folio", "F-9"))
	require.NoError(t, mw.WriteField("movement_type", "MLO"))
	part, err := mw.CreateFormFile(documentField, "closing.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, _ := do(t, r, req, tok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "F-9", gotIn.Folio)
	assert.Equal(t, "MLO", gotIn.MovementType)
	require.NotNil(t, gotDoc)
	assert.Equal(t, "closing.pdf", gotDoc.Name)

	body = &bytes.Buffer{}
	mw = multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("movement_type", "MLO"))
	require.NoError(t, mw.Close())
	req = httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, _ = do(t, r, req, tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/finalization/ready", nil), tok)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStageAccessHandler(t *testing.T) {
	f := &fakeAccess{}
	r := gin.New()
	NewStageAccessHandler(f).RegisterRoutes(r.Group(""))
	admin := token(t, "Root", model.RoleAdmin)

	w, _ := do(t, r, httptest.NewRequest(http.MethodGet, "/api/stage-access", nil), token(t, "Maria", model.RoleApprover))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := do(t, r, httptest.NewRequest(http.MethodGet, "/api/stage-access", nil), admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"MNG":["Boss"]`)

	w, _ = do(t, r, jsonRequest(http.MethodPost, "/api/stage-access", `{"stage":"pcmng","names":["Carla"]}`), admin)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"Carla"}, f.granted)

	w, _ = do(t, r, jsonRequest(http.MethodPost, "/api/stage-access", `{"stage":"BOSS","names":["Carla"]}`), admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, httptest.NewRequest(http.MethodDelete, "/api/stage-access/"+uuid.NewString(), nil), admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthHandler_Login(t *testing.T) {
	r := gin.New()
	NewAuthHandler(fakeAuth{}).RegisterRoutes(r.Group(""))

	w, _ := do(t, r, jsonRequest(http.MethodPost, "/login", `{"username":"maria","password":"nope"}`), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := do(t, r, jsonRequest(http.MethodPost, "/login", `{"username":"maria","password":"ok"}`), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", env.Status)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "access_token=signed")

	w, env = do(t, r, httptest.NewRequest(http.MethodGet, "/me", nil), token(t, "Maria Boss", model.RoleApprover))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"display_name":"Maria Boss"`)
}

func TestStatusFor(t *testing.T) {
	code, warn := statusFor(repository.ErrConcurrentUpdate)
	assert.Equal(t, http.StatusConflict, code)
	assert.True(t, warn)

	code, warn = statusFor(fmt.Errorf("%w: COMPLETED", flow.ErrRequestClosed))
	assert.Equal(t, http.StatusConflict, code)
	assert.True(t, warn)

	code, _ = statusFor(flow.ErrInvalidStageToken)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = statusFor(model.ErrInvalidItem)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = statusFor(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, code)
}
